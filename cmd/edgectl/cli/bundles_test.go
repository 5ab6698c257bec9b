package cli

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-edge/internal/bundle"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-edge/internal/secrets"
)

func newBundleCLI(t *testing.T) (*BundleCLI, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	bc, err := NewBundleCLI(client, "acme")
	require.NoError(t, err)
	return bc, client, mr
}

func TestPutUnitStoresAndAnnounces(t *testing.T) {
	bc, client, _ := newBundleCLI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, kv.InvalidationChannel("acme"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	raw := []byte(`{"kind":"SQL","content":"select 1","config":{"access":"public"}}`)
	unit, err := bc.PutUnit(ctx, "reports/daily", raw)
	require.NoError(t, err)
	assert.Equal(t, "reports/daily", unit.Path())
	assert.Equal(t, bundle.KindSQL, unit.Kind)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reports/daily", msg.Payload)

	store := bundle.NewStore("acme", kv.NewRedisStore(client), nil, nil)
	loaded, err := store.Load(ctx, "reports", "daily")
	require.NoError(t, err)
	assert.Equal(t, "select 1", loaded.Content)
}

func TestPutUnitRejectsBadDocuments(t *testing.T) {
	bc, _, mr := newBundleCLI(t)
	ctx := context.Background()

	_, err := bc.PutUnit(ctx, "nopath", []byte(`{"kind":"sql"}`))
	require.Error(t, err)

	_, err = bc.PutUnit(ctx, "a/b", []byte(`{"kind":"python"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")

	assert.False(t, mr.Exists(kv.LogicKey("acme", "a", "b")))
}

func TestPutPermissionsValidates(t *testing.T) {
	bc, _, mr := newBundleCLI(t)
	ctx := context.Background()

	require.Error(t, bc.PutPermissions(ctx, []byte(`{not json`)))
	require.NoError(t, bc.PutPermissions(ctx, []byte(`{}`)))
	assert.True(t, mr.Exists(kv.PermissionsKey("acme")))
}

func TestPutSecretSealed(t *testing.T) {
	bc, client, mr := newBundleCLI(t)
	ctx := context.Background()
	key := strings.Repeat("ab", 32)

	require.NoError(t, bc.PutSecret(ctx, "stripe", "sk_live_1", key))
	stored, err := mr.Get(kv.SecretKey("acme", "stripe"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "sb1:"))
	assert.NotContains(t, stored, "sk_live_1")

	resolver, err := secrets.NewResolver(kv.NewRedisStore(client), key)
	require.NoError(t, err)
	plain, err := resolver.Get(ctx, "acme", "stripe")
	require.NoError(t, err)
	assert.Equal(t, "sk_live_1", plain)

	require.NoError(t, bc.PutSecret(ctx, "plain", "value", ""))
	stored, err = mr.Get(kv.SecretKey("acme", "plain"))
	require.NoError(t, err)
	assert.Equal(t, "value", stored)

	require.Error(t, bc.PutSecret(ctx, "", "value", ""))
}

func TestNewBundleCLIRequiresTenant(t *testing.T) {
	_, err := NewBundleCLI(redis.NewClient(&redis.Options{}), "")
	require.Error(t, err)
}

func TestJobsCLIGuards(t *testing.T) {
	_, err := NewJobsCLI("127.0.0.1:0", "")
	require.Error(t, err)

	var jc *JobsCLI
	_, err = jc.Trigger(context.Background(), "a/b", nil, nil)
	require.Error(t, err)
	_, err = jc.InspectQueue(context.Background())
	require.Error(t, err)
}
