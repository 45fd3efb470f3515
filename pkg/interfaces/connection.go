package interfaces

import (
	"context"
	"net/http"

	"carechat/pkg/types"
)

// Authenticator resolves the identity behind an incoming handshake.
// Returning ErrUnauthenticated refuses the connection before upgrade.
type Authenticator interface {
	Authenticate(r *http.Request) (types.Identity, error)
}

// UserLookup resolves a user id to a directory entry.
type UserLookup interface {
	Get(ctx context.Context, id types.ID) (*types.User, error)
}
