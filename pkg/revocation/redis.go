package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces revocation keys.
const DefaultRedisPrefix = "iam:revoked:"

// Redis stores revocations as keys that expire together with the entry, so
// every instance behind a load balancer sees the same set and no purge is
// needed.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis returns a registry backed by client.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) key(jti string) string { return r.prefix + jti }

func (r *Redis) Revoke(ctx context.Context, jti string, until time.Time) (bool, error) {
	if jti == "" {
		return false, ErrEmptyJTI
	}
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return false, nil
	}
	// Round up so the key never disappears before until.
	ttl = ttl.Truncate(time.Second) + time.Second

	created, err := r.client.SetNX(ctx, r.key(jti), until.Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("revocation: redis setnx: %w", err)
	}
	return created, nil
}

func (r *Redis) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("revocation: redis exists: %w", err)
	}
	return n > 0, nil
}

// Ping checks connectivity for readiness probes.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
