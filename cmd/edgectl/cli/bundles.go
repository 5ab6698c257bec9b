package cli

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-edge/internal/bundle"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-edge/internal/rbac"
	"github.com/odyssey-erp/odyssey-edge/internal/secrets"
)

// BundleCLI publishes logic units, permissions and secrets of one tenant.
type BundleCLI struct {
	tenant string
	client redis.UniversalClient
	store  *kv.RedisStore
}

// NewBundleCLI wraps client for tenant.
func NewBundleCLI(client redis.UniversalClient, tenant string) (*BundleCLI, error) {
	if client == nil {
		return nil, errors.New("bundle cli: redis client required")
	}
	if tenant == "" {
		return nil, errors.New("bundle cli: tenant required")
	}
	return &BundleCLI{tenant: tenant, client: client, store: kv.NewRedisStore(client)}, nil
}

// PutUnit validates raw as the unit at path, stores it and announces the change.
func (c *BundleCLI) PutUnit(ctx context.Context, path string, raw []byte) (*bundle.LogicUnit, error) {
	unit, err := bundle.Decode(raw, path)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, kv.LogicKey(c.tenant, unit.Namespace, unit.Name), raw); err != nil {
		return nil, fmt.Errorf("bundle cli: store unit: %w", err)
	}
	if _, err := c.Invalidate(ctx, unit.Path()); err != nil {
		return nil, err
	}
	return unit, nil
}

// PutPermissions validates and stores the tenant permissions document.
func (c *BundleCLI) PutPermissions(ctx context.Context, raw []byte) error {
	if _, err := rbac.ParseConfig(raw); err != nil {
		return err
	}
	if err := c.store.Set(ctx, kv.PermissionsKey(c.tenant), raw); err != nil {
		return fmt.Errorf("bundle cli: store permissions: %w", err)
	}
	_, err := c.Invalidate(ctx, "permissions")
	return err
}

// PutSecret stores a secret, sealed when hexKey is set.
func (c *BundleCLI) PutSecret(ctx context.Context, name, value, hexKey string) error {
	if name == "" {
		return errors.New("bundle cli: secret name required")
	}
	stored := value
	if hexKey != "" {
		var nonce [24]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return err
		}
		sealed, err := secrets.Seal(hexKey, nonce, value)
		if err != nil {
			return err
		}
		stored = sealed
	}
	return c.store.Set(ctx, kv.SecretKey(c.tenant, name), []byte(stored))
}

// Invalidate publishes message on the tenant channel and returns the number of listeners.
func (c *BundleCLI) Invalidate(ctx context.Context, message string) (int64, error) {
	n, err := c.client.Publish(ctx, kv.InvalidationChannel(c.tenant), message).Result()
	if err != nil {
		return 0, fmt.Errorf("bundle cli: publish invalidation: %w", err)
	}
	return n, nil
}
