// Package storage issues short-lived object storage URLs scoped to a tenant bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrDisabled is returned when storage is not configured.
var ErrDisabled = errors.New("platform/storage: not configured")

// Config holds MinIO/S3 connection settings.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
	URLTTL          time.Duration
}

// Issuer presigns object URLs. A zero Endpoint yields a disabled issuer.
type Issuer struct {
	mc  *minio.Client
	ttl time.Duration
}

// NewIssuer creates an issuer from cfg.
func NewIssuer(cfg Config) (*Issuer, error) {
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if cfg.Endpoint == "" {
		return &Issuer{ttl: ttl}, nil
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("platform/storage: minio client: %w", err)
	}
	return &Issuer{mc: mc, ttl: ttl}, nil
}

// BucketForTenant returns the bucket name of a tenant.
// MinIO/S3: lowercase, digits, hyphens; 3-63 chars.
func BucketForTenant(tenant string) string {
	return "tenant-" + strings.ToLower(tenant)
}

// URL presigns a GET or PUT for key inside the tenant bucket.
func (i *Issuer) URL(ctx context.Context, tenant, key, method string) (string, error) {
	if i == nil || i.mc == nil {
		return "", ErrDisabled
	}
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.New("platform/storage: object key required")
	}
	bucket := BucketForTenant(tenant)
	switch strings.ToUpper(method) {
	case "", http.MethodGet:
		u, err := i.mc.PresignedGetObject(ctx, bucket, key, i.ttl, nil)
		if err != nil {
			return "", fmt.Errorf("platform/storage: presign get: %w", err)
		}
		return u.String(), nil
	case http.MethodPut:
		u, err := i.mc.PresignedPutObject(ctx, bucket, key, i.ttl)
		if err != nil {
			return "", fmt.Errorf("platform/storage: presign put: %w", err)
		}
		return u.String(), nil
	default:
		return "", fmt.Errorf("platform/storage: unsupported method %q", method)
	}
}
