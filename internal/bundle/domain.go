// Package bundle models logic units and resolves them from the key-value store.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/db"
)

// Kind is the execution model of a logic unit.
type Kind string

// Supported kinds.
const (
	KindSQL    Kind = "sql"
	KindScript Kind = "script"
	KindCRUD   Kind = "crud"
)

// PrivatePrefix marks units that may only be invoked from other units.
const PrivatePrefix = "_"

// LogicUnit is a stored, named piece of server-side behavior. Immutable once loaded.
type LogicUnit struct {
	Kind        Kind         `json:"kind"`
	Namespace   string       `json:"namespace"`
	Name        string       `json:"name"`
	Config      *LogicConfig `json:"config"`
	Content     string       `json:"content"`
	ContentHash string       `json:"contentHash,omitempty"`
}

// Path returns namespace/name.
func (u *LogicUnit) Path() string {
	return u.Namespace + "/" + u.Name
}

// IsPrivate reports whether name carries the private marker.
func IsPrivate(name string) bool {
	return strings.HasPrefix(name, PrivatePrefix)
}

// SplitPath splits "a/b/name" into namespace "a/b" and name "name". At least two
// non-empty segments are required.
func SplitPath(path string) (string, string, bool) {
	path = strings.Trim(path, "/")
	cut := strings.LastIndex(path, "/")
	if cut <= 0 || cut == len(path)-1 {
		return "", "", false
	}
	namespace, name := path[:cut], path[cut+1:]
	for _, seg := range strings.Split(namespace, "/") {
		if seg == "" {
			return "", "", false
		}
	}
	return namespace, name, true
}

// CRUDConfig binds a crud unit to a table operation.
type CRUDConfig struct {
	Table     string `json:"table"`
	Operation string `json:"operation"`
}

// LogicConfig is the per-unit metadata.
type LogicConfig struct {
	Database string               `json:"database,omitempty"`
	Params   map[string]ParamSpec `json:"params,omitempty"`
	Access   string               `json:"access,omitempty"`
	Cache    string               `json:"cache,omitempty"`
	CRUD     *CRUDConfig          `json:"crud,omitempty"`

	compiled atomic.Pointer[compiledRef]
}

type compiledRef struct {
	handler any
}

// DatabaseAlias returns the target alias, defaulting to main.
func (c *LogicConfig) DatabaseAlias() string {
	if c == nil || c.Database == "" {
		return db.DefaultAlias
	}
	return c.Database
}

// AccessRequirement returns the declared access, defaulting to authenticated.
func (c *LogicConfig) AccessRequirement() string {
	if c == nil || strings.TrimSpace(c.Access) == "" {
		return auth.RoleAuthenticated
	}
	return strings.TrimSpace(c.Access)
}

// CacheTTL parses the cache directive. ok is false when absent or malformed.
func (c *LogicConfig) CacheTTL() (time.Duration, bool) {
	if c == nil {
		return 0, false
	}
	return ParseCacheDuration(c.Cache)
}

// Compiled returns the memoized compiled handler, nil before first compilation.
func (c *LogicConfig) Compiled() any {
	if ref := c.compiled.Load(); ref != nil {
		return ref.handler
	}
	return nil
}

// SetCompiled memoizes a compiled handler. Concurrent first compilations race benignly.
func (c *LogicConfig) SetCompiled(handler any) {
	c.compiled.Store(&compiledRef{handler: handler})
}

// ParseCacheDuration converts a "\d+[smhd]" directive into a duration.
func ParseCacheDuration(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 {
		return 0, false
	}
	unit := raw[len(raw)-1]
	var n int64
	for _, ch := range raw[:len(raw)-1] {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int64(ch-'0')
		if n > 1<<31 {
			return 0, false
		}
	}
	var scale time.Duration
	switch unit {
	case 's':
		scale = time.Second
	case 'm':
		scale = time.Minute
	case 'h':
		scale = time.Hour
	case 'd':
		scale = 24 * time.Hour
	default:
		return 0, false
	}
	if n == 0 {
		return 0, false
	}
	return time.Duration(n) * scale, true
}

// decodeUnit parses a serialized unit, fills missing identity and verifies the content hash.
func decodeUnit(raw []byte, namespace, name string) (*LogicUnit, error) {
	var unit LogicUnit
	if err := json.Unmarshal(raw, &unit); err != nil {
		return nil, fmt.Errorf("bundle: decode unit: %w", err)
	}
	if unit.Namespace == "" {
		unit.Namespace = namespace
	}
	if unit.Name == "" {
		unit.Name = name
	}
	if unit.Config == nil {
		unit.Config = &LogicConfig{}
	}
	unit.Kind = Kind(strings.ToLower(string(unit.Kind)))
	switch unit.Kind {
	case KindSQL, KindScript, KindCRUD:
	default:
		return nil, fmt.Errorf("bundle: unit %s has unknown kind %q", unit.Path(), unit.Kind)
	}
	if unit.ContentHash != "" {
		sum := sha256.Sum256([]byte(unit.Content))
		if !strings.EqualFold(hex.EncodeToString(sum[:]), unit.ContentHash) {
			return nil, fmt.Errorf("bundle: unit %s content hash mismatch", unit.Path())
		}
	}
	return &unit, nil
}

// Decode parses a serialized unit published under path namespace/name.
func Decode(raw []byte, path string) (*LogicUnit, error) {
	namespace, name, ok := SplitPath(path)
	if !ok {
		return nil, fmt.Errorf("bundle: invalid unit path %q", path)
	}
	return decodeUnit(raw, namespace, name)
}
