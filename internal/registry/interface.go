package registry

import "context"

// Registry tracks which connection currently holds each registered
// user. Registration is last-wins: a user with multiple tabs gets
// notifications on whichever connection registered most recently.
type Registry interface {
	// Register associates userID with connID, replacing any prior
	// association for that user.
	Register(ctx context.Context, userID, connID string) error

	// DeregisterConn drops whatever user association connID holds.
	// Associations already overwritten by a later registration from
	// another connection are left alone.
	DeregisterConn(ctx context.Context, connID string) error

	// Lookup returns the connection currently registered for userID.
	Lookup(ctx context.Context, userID string) (connID string, ok bool)

	Close() error
}
