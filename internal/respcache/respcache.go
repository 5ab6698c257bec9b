// Package respcache stores rendered responses of public, cacheable logic units.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-edge/internal/bundle"
)

// Cache status header values.
const (
	StatusHit  = "HIT"
	StatusMiss = "MISS"
)

// Entry is a stored response.
type Entry struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body"`
}

// Cache keeps entries in Redis. A nil Cache or client misses every lookup and drops every store.
type Cache struct {
	client redis.UniversalClient
	tenant string
	logger *slog.Logger
}

// New builds a cache for tenant.
func New(client redis.UniversalClient, tenant string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, tenant: tenant, logger: logger}
}

func (c *Cache) redisKey(key string) string {
	return c.tenant + ":respcache:" + key
}

// Get returns the entry stored under key. Backend failures are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("response cache get", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("response cache decode", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	return &entry, true
}

// Set stores entry under key for ttl. Failures are logged, never returned.
func (c *Cache) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	if c == nil || c.client == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("response cache encode", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, c.redisKey(key), raw, ttl).Err(); err != nil {
		c.logger.Warn("response cache set", slog.String("key", key), slog.Any("error", err))
	}
}

// Key derives the cache key. GET requests key on the request path and its sorted
// query; other methods key on the unit path plus the canonical JSON of params.
func Key(method string, u *url.URL, unitPath string, params map[string]any) string {
	var material string
	if method == http.MethodGet && u != nil {
		material = "GET " + u.EscapedPath() + "?" + u.Query().Encode()
	} else {
		material = "unit " + unitPath + " " + canonicalJSON(params)
	}
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON encodes v with object keys sorted at every depth.
func canonicalJSON(v map[string]any) string {
	if len(v) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// CacheControl derives the Cache-Control header from a unit cache directive.
// A missing or malformed directive yields no-store.
func CacheControl(directive string, public bool) string {
	ttl, ok := bundle.ParseCacheDuration(directive)
	if !ok {
		return "no-store"
	}
	scope := "private"
	if public {
		scope = "public"
	}
	return scope + ", max-age=" + strconv.FormatInt(int64(ttl/time.Second), 10)
}
