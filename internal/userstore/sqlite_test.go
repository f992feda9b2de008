package userstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relaychat/internal/errkind"
)

func newTestSqliteStore(t *testing.T) *SqliteStore {
	t.Helper()
	store, err := NewSqliteStore(SqliteOptions{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSqliteStore_RegisterAndVerify(t *testing.T) {
	store := newTestSqliteStore(t)

	err := store.Register(context.Background(), 7, "bob", "correcthorse")
	require.NoError(t, err)

	uid, err := store.Verify(context.Background(), "bob", "correcthorse")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), uid)
}

func TestSqliteStore_Register_DuplicateUsername(t *testing.T) {
	store := newTestSqliteStore(t)

	require.NoError(t, store.Register(context.Background(), 1, "carol", "pw1"))
	err := store.Register(context.Background(), 2, "carol", "pw2")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.AlreadyExists))
}

func TestSqliteStore_Verify_WrongPassword(t *testing.T) {
	store := newTestSqliteStore(t)

	require.NoError(t, store.Register(context.Background(), 1, "dave", "rightpw"))
	_, err := store.Verify(context.Background(), "dave", "wrongpw")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.BadCredentials))
}

func TestSqliteStore_Verify_UnknownUser(t *testing.T) {
	store := newTestSqliteStore(t)

	_, err := store.Verify(context.Background(), "nobody", "whatever")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.BadCredentials))
}
