package executor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/odyssey-edge/internal/bundle"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/storage"
)

// capabilities is the tenant-scoped surface handed to one script run.
type capabilities struct {
	e   *Executor
	inv Invocation
}

func (c *capabilities) Query(ctx context.Context, alias, sql string, args []any) ([]map[string]any, error) {
	q, err := c.e.querier(c.inv.Unit, alias)
	if err != nil {
		return nil, err
	}
	return q.Query(ctx, sql, args...)
}

func (c *capabilities) StorageURL(ctx context.Context, key, method string) (string, error) {
	if c.e.storage == nil {
		return "", storage.ErrDisabled
	}
	return c.e.storage.URL(ctx, c.e.bundles.Tenant(), key, method)
}

func (c *capabilities) Secret(ctx context.Context, key string) (string, error) {
	if c.e.secrets == nil {
		return "", errors.New("executor: secrets not configured")
	}
	return c.e.secrets.Get(ctx, c.e.bundles.Tenant(), key)
}

func (c *capabilities) Invoke(ctx context.Context, path string, params map[string]any) (any, error) {
	return c.e.invoke(ctx, path, params, c.inv.User, c.inv.Request, c.inv.depth+1)
}

func (c *capabilities) Enqueue(ctx context.Context, path string, params map[string]any) (string, error) {
	if c.e.queue == nil {
		return "", errors.New("executor: deferred invocation not configured")
	}
	if _, _, ok := bundle.SplitPath(path); !ok {
		return "", httpx.Errorf(httpx.ErrValidation, "invalid logic path %q", path)
	}
	return c.e.queue.EnqueueInvoke(ctx, c.e.bundles.Tenant(), path, params, c.inv.User)
}

func (c *capabilities) Log(message string) {
	c.e.logger.Info("script log",
		slog.String("unit", c.inv.Unit.Path()),
		slog.String("request_id", c.inv.Request.RequestID),
		slog.String("message", message))
}

func (c *capabilities) Request() map[string]any {
	headers := make(map[string]string, len(c.inv.Request.Headers))
	for k, v := range c.inv.Request.Headers {
		headers[k] = v
	}
	return map[string]any{
		"method":    c.inv.Request.Method,
		"path":      c.inv.Request.Path,
		"requestId": c.inv.Request.RequestID,
		"headers":   headers,
	}
}

func (c *capabilities) User() map[string]any {
	u := c.inv.User
	if u == nil {
		return nil
	}
	return map[string]any{
		"id":    u.ID,
		"email": u.Email,
		"roles": u.RoleList(),
	}
}
