package config

import "time"

const (
	// Identity
	DefaultSystemUserID = "system"

	// Messages
	DefaultMaxMessageLength = 4000
	TempIDPrefix            = "tmp-"

	// Reconciliation of optimistic echoes with authoritative messages
	DefaultReconcileWindow = 2 * time.Minute

	// Status writes
	DefaultStatusWriteTimeout = 5 * time.Second

	// Profiles
	DefaultProfileCacheTTL = 10 * time.Minute

	// Sessions
	SessionTokenTTL    = 72 * time.Hour
	SessionTokenIssuer = "portalchat-service"

	// Store drivers
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)
