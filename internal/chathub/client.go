package chathub

// Client is one connected surface of a session (e.g. a WebSocket).
// The hub tracks clients so that Shutdown can close them.
type Client interface {
	// GetUserID returns the viewer the client belongs to.
	GetUserID() string
	// Run starts the client's pumps.
	Run()
	// Close tears the connection down along with everything the client
	// opened. It is safe to call more than once.
	Close()
}
