package interfaces

import (
	"carechat/pkg/types"
)

// Session is one live, authenticated client connection as seen by the
// presence registry and the router.
type Session interface {
	// ID is unique per connection, not per user.
	ID() string

	// Identity is set once at authentication and never changes.
	Identity() types.Identity

	// Deliver encodes the event and queues it for the client. An error means
	// the session can no longer be written to.
	Deliver(event types.OutboundEvent) error

	// Close is idempotent and always deregisters the session.
	Close() error
}
