package interfaces

// Connection is a live viewer connection.
// WriteJSON must be safe for concurrent use.
type Connection interface {
	WriteJSON(v interface{}) error
	Close() error

	// GetClientID returns the browser's client identifier.
	GetClientID() string

	// GetRole returns "admin" or "viewer".
	GetRole() string

	IsAuthenticated() bool
	SetCredentials(clientID, role string) error
}
