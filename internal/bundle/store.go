package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-edge/internal/rbac"
)

// Snapshot is the tenant-wide document published on deploy.
type Snapshot struct {
	Bundles     map[string]json.RawMessage `json:"bundles"`
	Permissions json.RawMessage            `json:"permissions,omitempty"`
}

// Store resolves logic units with an in-process cache over the key-value store.
type Store struct {
	tenant string
	kv     kv.Store
	cache  Cache
	logger *slog.Logger

	snapshots singleflight.Group
	perms     atomic.Pointer[rbac.Config]
}

// NewStore constructs a Store. A nil cache gets a MemoryCache.
func NewStore(tenant string, store kv.Store, cache Cache, logger *slog.Logger) *Store {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{tenant: tenant, kv: store, cache: cache, logger: logger}
}

// Tenant returns the tenant the store is scoped to.
func (s *Store) Tenant() string {
	return s.tenant
}

// Load resolves namespace/name: in-process cache, then a point lookup, then one
// hydration pass from the latest snapshot.
func (s *Store) Load(ctx context.Context, namespace, name string) (*LogicUnit, error) {
	key := kv.LogicKey(s.tenant, namespace, name)
	if unit, ok := s.cache.Get(key); ok {
		return unit, nil
	}

	raw, err := s.kv.Get(ctx, key)
	switch {
	case err == nil:
		unit, err := decodeUnit(raw, namespace, name)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, unit)
		return unit, nil
	case !errors.Is(err, kv.ErrNotFound):
		return nil, fmt.Errorf("bundle: load %s: %w", key, err)
	}

	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}
	if unit, ok := s.cache.Get(key); ok {
		return unit, nil
	}
	return nil, httpx.Errorf(httpx.ErrNotFound, "logic unit %s/%s not found", namespace, name)
}

// hydrate fills the cache from the snapshot. Concurrent cold misses share one fetch.
func (s *Store) hydrate(ctx context.Context) error {
	_, err, _ := s.snapshots.Do(s.tenant, func() (interface{}, error) {
		raw, err := s.kv.Get(ctx, kv.SnapshotKey(s.tenant))
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("bundle: load snapshot: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("bundle: decode snapshot: %w", err)
		}
		loaded := 0
		for key, rawUnit := range snap.Bundles {
			namespace, name := splitLogicKey(key)
			unit, err := decodeUnit(rawUnit, namespace, name)
			if err != nil {
				s.logger.Warn("skip snapshot bundle", slog.String("key", key), slog.Any("error", err))
				continue
			}
			s.cache.Set(kv.LogicKey(s.tenant, unit.Namespace, unit.Name), unit)
			loaded++
		}
		if len(snap.Permissions) > 0 && s.perms.Load() == nil {
			if cfg, err := rbac.ParseConfig(snap.Permissions); err == nil {
				s.perms.Store(cfg)
			} else {
				s.logger.Warn("skip snapshot permissions", slog.Any("error", err))
			}
		}
		s.logger.Debug("hydrated bundle snapshot", slog.String("tenant", s.tenant), slog.Int("bundles", loaded))
		return nil, nil
	})
	return err
}

// splitLogicKey extracts namespace and name from "tenant:logic:namespace:name".
func splitLogicKey(key string) (string, string) {
	idx := strings.Index(key, ":logic:")
	if idx < 0 {
		return "", ""
	}
	rest := key[idx+len(":logic:"):]
	cut := strings.LastIndex(rest, ":")
	if cut < 0 {
		return "", rest
	}
	return rest[:cut], rest[cut+1:]
}

// Permissions returns the tenant policy document, loading it once. A missing
// document yields an empty config so the built-in defaults apply.
func (s *Store) Permissions(ctx context.Context) (*rbac.Config, error) {
	if cfg := s.perms.Load(); cfg != nil {
		return cfg, nil
	}
	raw, err := s.kv.Get(ctx, kv.PermissionsKey(s.tenant))
	switch {
	case err == nil:
		cfg, err := rbac.ParseConfig(raw)
		if err != nil {
			return nil, err
		}
		s.perms.Store(cfg)
		return cfg, nil
	case !errors.Is(err, kv.ErrNotFound):
		return nil, fmt.Errorf("bundle: load permissions: %w", err)
	}
	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}
	if cfg := s.perms.Load(); cfg != nil {
		return cfg, nil
	}
	cfg := &rbac.Config{}
	s.perms.Store(cfg)
	return cfg, nil
}

// Invalidate applies an invalidation message: "namespace/name" drops one unit,
// "permissions" drops the policy document and "*" drops everything.
func (s *Store) Invalidate(message string) {
	message = strings.TrimSpace(message)
	switch message {
	case "":
		return
	case "*":
		s.cache.InvalidateAll()
		s.perms.Store(nil)
	case "permissions":
		s.perms.Store(nil)
	default:
		cut := strings.LastIndex(message, "/")
		if cut <= 0 || cut == len(message)-1 {
			s.logger.Warn("ignore malformed invalidation", slog.String("message", message))
			return
		}
		s.cache.Invalidate(kv.LogicKey(s.tenant, message[:cut], message[cut+1:]))
	}
}

// ListenForInvalidation subscribes to the tenant invalidation channel until ctx ends.
func (s *Store) ListenForInvalidation(ctx context.Context, client redis.UniversalClient) error {
	if s == nil || client == nil {
		return nil
	}
	pubsub := client.Subscribe(ctx, kv.InvalidationChannel(s.tenant))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("bundle: subscribe invalidation: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.logger.Info("bundle invalidation", slog.String("message", msg.Payload))
				s.Invalidate(msg.Payload)
			}
		}
	}()
	return nil
}
