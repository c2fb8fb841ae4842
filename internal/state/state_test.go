package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, err := store.Get(ctx, NamespaceUser, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, NamespaceUser, "tok", []byte(`{"userId":"u1"}`)))
	value, err := store.Get(ctx, NamespaceUser, "tok")
	require.NoError(t, err)
	assert.Equal(t, `{"userId":"u1"}`, string(value))

	require.NoError(t, store.Delete(ctx, NamespaceUser, "tok"))
	_, err = store.Get(ctx, NamespaceUser, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, NamespaceUser, "k", []byte("a")))
	require.NoError(t, store.Set(ctx, NamespaceThresholds, "k", []byte("b")))

	value, err := store.Get(ctx, NamespaceUser, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", string(value))

	value, err = store.Get(ctx, NamespaceThresholds, "k")
	require.NoError(t, err)
	assert.Equal(t, "b", string(value))

	require.NoError(t, store.Delete(ctx, NamespaceUser, "k"))
	_, err = store.Get(ctx, NamespaceThresholds, "k")
	assert.NoError(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	sess := Session{UserID: "u1", Email: "owner@example.com"}
	require.NoError(t, SetSession(ctx, store, "token-1", sess))

	got, err := GetSession(ctx, store, "token-1")
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	_, err = GetSession(ctx, store, "token-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThresholdsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	th := Thresholds{CPU: 80, Memory: 80, Disk: 90}
	require.NoError(t, SetThresholds(ctx, store, "u1", th))

	got, err := GetThresholds(ctx, store, "u1")
	require.NoError(t, err)
	assert.Equal(t, th, got)
}

func TestMemoryLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, NamespaceThresholds, "u1", []byte("first")))
	require.NoError(t, store.Set(ctx, NamespaceThresholds, "u1", []byte("second")))

	value, err := store.Get(ctx, NamespaceThresholds, "u1")
	require.NoError(t, err)
	assert.Equal(t, "second", string(value))
}
