package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreGet(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client)
	ctx := context.Background()

	_, err := store.Get(ctx, LogicKey("acme", "users", "list"))
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.Set(ctx, LogicKey("acme", "users", "list"), []byte(`{"kind":"sql"}`)))
	val, err := store.Get(ctx, "acme:logic:users:list")
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"sql"}`, string(val))
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "acme:logic:a/b:c", LogicKey("acme", "a/b", "c"))
	assert.Equal(t, "project:acme:latest", SnapshotKey("acme"))
	assert.Equal(t, "acme:secrets:stripe", SecretKey("acme", "stripe"))
	assert.Equal(t, "acme:permissions", PermissionsKey("acme"))
	assert.Equal(t, "acme:logic:invalidate", InvalidationChannel("acme"))
}
