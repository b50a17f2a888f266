// Package cache provides a read-through Redis cache for certificate
// verification lookups. Verification is the one public, unauthenticated,
// high-volume read path, so it gets a cache; everything else reads the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"forgecert/internal/certificate/models"
	platformredis "forgecert/internal/platform/redis"
	"forgecert/pkg/platform/sentinel"
)

// VerificationTTL bounds staleness after revocation for cached entries; the
// service also invalidates explicitly on revoke.
const VerificationTTL = 5 * time.Minute

type Redis struct {
	client *platformredis.Client
}

// NewRedis wraps the shared Redis client. A nil client yields a nil cache,
// which the service treats as cache-disabled.
func NewRedis(client *platformredis.Client) *Redis {
	if client == nil {
		return nil
	}
	return &Redis{client: client}
}

func key(code string) string {
	return "forgecert:verify:" + code
}

// Get returns the cached certificate for a normalized code, or
// sentinel.ErrNotFound on a miss. Redis outages degrade to a miss.
func (r *Redis) Get(ctx context.Context, code string) (*models.Certificate, error) {
	raw, err := r.client.Get(ctx, key(code)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, sentinel.ErrNotFound
	}
	var cert models.Certificate
	if err := json.Unmarshal([]byte(raw), &cert); err != nil {
		return nil, sentinel.ErrNotFound
	}
	return &cert, nil
}

// Set caches the certificate under its normalized code. Best-effort.
func (r *Redis) Set(ctx context.Context, code string, cert *models.Certificate) {
	raw, err := json.Marshal(cert)
	if err != nil {
		return
	}
	r.client.Set(ctx, key(code), raw, VerificationTTL)
}

// Invalidate drops the cached entry, used on revocation so the public
// verification response reflects REVOKED immediately.
func (r *Redis) Invalidate(ctx context.Context, code string) {
	r.client.Del(ctx, key(code))
}
