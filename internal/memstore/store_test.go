package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

func newSeeded(t *testing.T, ids ...types.ID) *Store {
	t.Helper()
	s := New()
	for _, id := range ids {
		require.NoError(t, s.CreateUser(context.Background(), &types.User{ID: id, Username: "u" + id.String()}))
	}
	return s
}

func TestStore_InsertAndPage(t *testing.T) {
	s := newSeeded(t, 1, 2, 3)
	ctx := context.Background()

	for _, m := range []struct {
		from, to types.ID
		body     string
	}{{1, 2, "a"}, {2, 1, "b"}, {3, 1, "x"}, {1, 2, "c"}} {
		_, err := s.InsertMessage(ctx, m.from, m.to, m.body)
		require.NoError(t, err)
	}

	page, err := s.MessagesBetween(ctx, 1, 2, 0, 50)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "a", page[0].Body)
	assert.Equal(t, "c", page[2].Body)

	page, err = s.MessagesBetween(ctx, 1, 2, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].Body)

	count, _ := s.CountMessages(ctx)
	assert.Equal(t, int64(4), count)
}

func TestStore_UnknownUserFails(t *testing.T) {
	s := newSeeded(t, 1)
	_, err := s.InsertMessage(context.Background(), 1, 2, "hello")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestStore_ClockClamp(t *testing.T) {
	s := newSeeded(t, 1, 2)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Minute)}
	s.Now = func() time.Time { next := times[0]; times = times[1:]; return next }

	a, err := s.InsertMessage(context.Background(), 1, 2, "a")
	require.NoError(t, err)
	b, err := s.InsertMessage(context.Background(), 1, 2, "b")
	require.NoError(t, err)
	assert.Equal(t, a.CreatedAt, b.CreatedAt)
	assert.Greater(t, b.ID, a.ID)
}

func TestStore_FailInsertsAndClose(t *testing.T) {
	s := newSeeded(t, 1, 2)
	boom := errors.New("disk full")

	s.FailInserts(boom)
	_, err := s.InsertMessage(context.Background(), 1, 2, "a")
	assert.ErrorIs(t, err, boom)

	s.FailInserts(nil)
	_, err = s.InsertMessage(context.Background(), 1, 2, "a")
	assert.NoError(t, err)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.HealthCheck(context.Background()), interfaces.ErrStoreClosed)
}

func TestStore_Users(t *testing.T) {
	s := newSeeded(t, 5, 2)
	ctx := context.Background()

	err := s.CreateUser(ctx, &types.User{ID: 9, Username: "u5"})
	assert.ErrorIs(t, err, interfaces.ErrUserExists)

	_, err = s.GetUser(ctx, 77)
	assert.ErrorIs(t, err, interfaces.ErrUserNotFound)

	list, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, types.ID(2), list[0].ID)
}
