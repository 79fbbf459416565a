// Package config loads the service configuration from the environment
// (optionally seeded from a .env file) and validates it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Config holds every tunable of the messaging service.
type Config struct {
	// HTTPAddr is the listen address of the HTTP/WebSocket API.
	HTTPAddr string `mapstructure:"http_addr" validate:"required"`
	// StoreDriver selects the document store: postgres (with redis) or memory.
	StoreDriver string `mapstructure:"store_driver" validate:"oneof=postgres memory"`
	// DatabaseDSN is the PostgreSQL connection string.
	DatabaseDSN string `mapstructure:"database_dsn" validate:"required_if=StoreDriver postgres"`
	// RedisAddr is the address of the Redis server carrying change notifications.
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=StoreDriver postgres"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`

	// JWTSecret signs session tokens.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`
	// DevAuth enables the development sign-in endpoint.
	DevAuth bool `mapstructure:"dev_auth"`
	// AllowedOrigins is a comma separated list of CORS origins.
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"min=1"`

	// SystemUserID is excluded from unread notification feeds.
	SystemUserID string `mapstructure:"system_user_id" validate:"required"`
	// TelegramBotToken enables the Telegram unread notifier when set.
	TelegramBotToken string `mapstructure:"telegram_bot_token"`

	ProfileCacheTTL    time.Duration `mapstructure:"profile_cache_ttl" validate:"gt=0"`
	StatusWriteTimeout time.Duration `mapstructure:"status_write_timeout" validate:"gt=0"`
	ReconcileWindow    time.Duration `mapstructure:"reconcile_window" validate:"gt=0"`
	MaxMessageLength   int           `mapstructure:"max_message_length" validate:"gt=0"`

	// LogLevel is a zerolog level name.
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	// LogPretty switches the logger to the human readable console writer.
	LogPretty bool `mapstructure:"log_pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("store_driver", StoreDriverPostgres)
	v.SetDefault("database_dsn", "host=localhost user=user password=password dbname=portalchat port=5432 sslmode=disable")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("dev_auth", false)
	v.SetDefault("allowed_origins", "*")
	v.SetDefault("system_user_id", DefaultSystemUserID)
	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("profile_cache_ttl", DefaultProfileCacheTTL)
	v.SetDefault("status_write_timeout", DefaultStatusWriteTimeout)
	v.SetDefault("reconcile_window", DefaultReconcileWindow)
	v.SetDefault("max_message_length", DefaultMaxMessageLength)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}

// Load reads .env (if present) and the process environment into a validated Config.
func Load(envFiles ...string) (*Config, error) {
	// A missing .env is not an error: the environment may already be populated.
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.AllowedOrigins = splitOrigins(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct constraints of the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, o := range strings.Split(item, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}
