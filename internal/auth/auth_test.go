package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechat/internal/memstore"
	"carechat/internal/users"
	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

func newDirectory(t *testing.T) *users.Directory {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.CreateUser(context.Background(), &types.User{ID: 7, Username: "drsmith", FirstName: "Ann", LastName: "Smith"}))
	return users.NewDirectory(store, zerolog.Nop())
}

func TestTokenManager_IssueAndValidate(t *testing.T) {
	tm, err := NewTokenManager("secret", "carechat", time.Hour)
	require.NoError(t, err)

	token, expires, err := tm.Issue(7, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, types.ID(7), claims.UserID)
	assert.Equal(t, "7", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_Rejects(t *testing.T) {
	tm, err := NewTokenManager("secret", "carechat", time.Hour)
	require.NoError(t, err)

	other, err := NewTokenManager("other-secret", "carechat", time.Hour)
	require.NoError(t, err)
	foreign, _, err := other.Issue(7, 0)
	require.NoError(t, err)

	wrongIssuer, err := NewTokenManager("secret", "someone-else", time.Hour)
	require.NoError(t, err)
	misissued, _, err := wrongIssuer.Issue(7, 0)
	require.NoError(t, err)

	expired, err := NewTokenManager("secret", "carechat", time.Hour)
	require.NoError(t, err)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := expired.Issue(7, 0)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 7})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": foreign,
		"wrong issuer": misissued,
		"expired":      stale,
		"alg none":     unsigned,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tm.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.ErrorIs(t, err, interfaces.ErrUnauthenticated)
		})
	}
}

func TestTokenManager_Construction(t *testing.T) {
	_, err := NewTokenManager("", "x", time.Hour)
	assert.ErrorIs(t, err, ErrEmptySecret)

	tm, err := NewTokenManager("s", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, tm.ttl)

	_, _, err = tm.Issue(0, 0)
	assert.ErrorIs(t, err, types.ErrInvalidIdentifier)
}

func TestAuthenticator_JWT(t *testing.T) {
	tm, err := NewTokenManager("secret", "carechat", time.Hour)
	require.NoError(t, err)
	a, err := NewAuthenticator(ModeJWT, tm, newDirectory(t), zerolog.Nop())
	require.NoError(t, err)

	good, _, err := tm.Issue(7, 0)
	require.NoError(t, err)
	stranger, _, err := tm.Issue(99, 0)
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+good)
		id, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, types.ID(7), id.UserID)
		assert.Equal(t, "Ann Smith", id.DisplayName)
	})

	t.Run("query token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token="+good, nil)
		id, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, types.ID(7), id.UserID)
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		_, err := a.Authenticate(r)
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("user_id ignored in jwt mode", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?user_id=7", nil)
		_, err := a.Authenticate(r)
		assert.ErrorIs(t, err, interfaces.ErrUnauthenticated)
	})

	t.Run("unknown user", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token="+stranger, nil)
		_, err := a.Authenticate(r)
		assert.ErrorIs(t, err, interfaces.ErrForbidden)
	})
}

func TestAuthenticator_Development(t *testing.T) {
	a, err := NewAuthenticator(ModeDevelopment, nil, newDirectory(t), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ModeDevelopment, a.Mode())

	tests := []struct {
		query   string
		wantErr error
	}{
		{query: "user_id=7"},
		{query: "", wantErr: ErrMissingCredentials},
		{query: "user_id=abc", wantErr: ErrInvalidUserID},
		{query: "user_id=-3", wantErr: ErrInvalidUserID},
		{query: "user_id=8", wantErr: ErrUnknownUser},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
			id, err := a.Authenticate(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, id.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.ID(7), id.UserID)
		})
	}
}

func TestNewAuthenticator_Validation(t *testing.T) {
	_, err := NewAuthenticator("oauth", nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = NewAuthenticator(ModeJWT, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoTokenManager)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", BearerToken(r))

	r.Header.Set("Authorization", "bearer  h ")
	assert.Equal(t, "h", BearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", BearerToken(r))
}
