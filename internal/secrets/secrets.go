// Package secrets resolves tenant secrets through the key-value store.
package secrets

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/kv"
)

// sealedPrefix marks values sealed with secretbox: "sb1:" + base64(nonce || box).
const sealedPrefix = "sb1:"

const nonceSize = 24

// Resolver looks up "{tenant}:secrets:{key}". Values without the sealed prefix pass through.
type Resolver struct {
	kv  kv.Store
	key *[32]byte
}

// NewResolver builds a resolver. hexKey may be empty, in which case sealed values are rejected.
func NewResolver(store kv.Store, hexKey string) (*Resolver, error) {
	r := &Resolver{kv: store}
	if hexKey == "" {
		return r, nil
	}
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil || len(raw) != 32 {
		return nil, errors.New("secrets: key must be 32 bytes hex encoded")
	}
	var key [32]byte
	copy(key[:], raw)
	r.key = &key
	return r, nil
}

// Get returns the plaintext secret of tenant.
func (r *Resolver) Get(ctx context.Context, tenant, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", httpx.Errorf(httpx.ErrValidation, "secret name required")
	}
	raw, err := r.kv.Get(ctx, kv.SecretKey(tenant, name))
	if errors.Is(err, kv.ErrNotFound) {
		return "", httpx.Errorf(httpx.ErrNotFound, "secret %s not found", name)
	}
	if err != nil {
		return "", fmt.Errorf("secrets: get %s: %w", name, err)
	}
	return r.open(string(raw))
}

func (r *Resolver) open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if r.key == nil {
		return "", errors.New("secrets: sealed value but no key configured")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil || len(data) < nonceSize+secretbox.Overhead {
		return "", errors.New("secrets: malformed sealed value")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plain, ok := secretbox.Open(nil, data[nonceSize:], &nonce, r.key)
	if !ok {
		return "", errors.New("secrets: cannot open sealed value")
	}
	return string(plain), nil
}

// Seal encrypts plaintext under hexKey with the given nonce. Used by tooling and tests.
func Seal(hexKey string, nonce [nonceSize]byte, plaintext string) (string, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return "", errors.New("secrets: key must be 32 bytes hex encoded")
	}
	var key [32]byte
	copy(key[:], raw)
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}
