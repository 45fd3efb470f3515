// Package auth resolves who is behind a WebSocket handshake or API call.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// Authentication modes
const (
	ModeJWT         = "jwt"
	ModeDevelopment = "development"
)

// Authenticator implements interfaces.Authenticator.
// FUNCTIONAL DISCOVERY: Development mode keeps the query-parameter handshake
// so local clients can connect without minting tokens
type Authenticator struct {
	mode   string
	tokens *TokenManager
	users  interfaces.UserLookup
	logger zerolog.Logger
}

var _ interfaces.Authenticator = (*Authenticator)(nil)

// NewAuthenticator creates an authenticator for mode. tokens may be nil in
// development mode.
func NewAuthenticator(mode string, tokens *TokenManager, users interfaces.UserLookup, logger zerolog.Logger) (*Authenticator, error) {
	switch mode {
	case ModeJWT:
		if tokens == nil {
			return nil, ErrNoTokenManager
		}
	case ModeDevelopment:
	default:
		return nil, ErrInvalidMode
	}

	return &Authenticator{
		mode:   mode,
		tokens: tokens,
		users:  users,
		logger: logger.With().Str("component", "auth").Str("mode", mode).Logger(),
	}, nil
}

// Mode reports the configured authentication mode.
func (a *Authenticator) Mode() string {
	return a.mode
}

// Authenticate returns the identity behind r, or an error wrapping
// interfaces.ErrUnauthenticated or interfaces.ErrForbidden.
func (a *Authenticator) Authenticate(r *http.Request) (types.Identity, error) {
	userID, err := a.credentials(r)
	if err != nil {
		a.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("authentication refused")
		return types.Identity{}, err
	}

	user, err := a.users.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			a.logger.Debug().Stringer("user_id", userID).Msg("unknown user refused")
			return types.Identity{}, ErrUnknownUser
		}
		return types.Identity{}, err
	}

	return user.Identity(), nil
}

func (a *Authenticator) credentials(r *http.Request) (types.ID, error) {
	if a.mode == ModeDevelopment {
		raw := r.URL.Query().Get("user_id")
		if raw == "" {
			return 0, ErrMissingCredentials
		}
		id, err := types.ParseID(raw)
		if err != nil {
			return 0, ErrInvalidUserID
		}
		return id, nil
	}

	token := BearerToken(r)
	if token == "" {
		return 0, ErrMissingCredentials
	}
	claims, err := a.tokens.Validate(token)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

// BearerToken extracts a token from the Authorization header, falling back
// to the token query parameter used by browser WebSocket clients.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
