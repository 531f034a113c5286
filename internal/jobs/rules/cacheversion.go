package rules

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// CacheVersioner hands out a monotonic per-namespace version so derived
// caches (e.g. compiled IOC sets) can invalidate by embedding the version in
// their key instead of enumerating and deleting entries.
type CacheVersioner interface {
	CurrentVersion(ctx context.Context, namespace string) (int64, error)
	Bump(ctx context.Context, namespace string) (int64, error)
}

// RedisCacheVersioner stores each namespace's version as a single INCR
// counter; INCR is atomic so concurrent bumpers never race to the same
// version.
type RedisCacheVersioner struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedisCacheVersioner(rdb *goredis.Client, keyPrefix string) *RedisCacheVersioner {
	if keyPrefix == "" {
		keyPrefix = "rules:cacheversion:"
	}
	return &RedisCacheVersioner{rdb: rdb, prefix: keyPrefix}
}

func (v *RedisCacheVersioner) key(namespace string) string { return v.prefix + namespace }

// CurrentVersion reads the namespace's version without bumping it. An
// unset namespace reads as version 0, the version of a cache that has
// never been invalidated.
func (v *RedisCacheVersioner) CurrentVersion(ctx context.Context, namespace string) (int64, error) {
	n, err := v.rdb.Get(ctx, v.key(namespace)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cacheversion get: %w", err)
	}
	return n, nil
}

// Bump increments and returns the namespace's new version, invalidating
// every derived cache key built from the old version.
func (v *RedisCacheVersioner) Bump(ctx context.Context, namespace string) (int64, error) {
	n, err := v.rdb.Incr(ctx, v.key(namespace)).Result()
	if err != nil {
		return 0, fmt.Errorf("cacheversion incr: %w", err)
	}
	return n, nil
}

// VersionedKey embeds a namespace's version into a derived cache key.
func VersionedKey(namespace string, version int64, key string) string {
	return fmt.Sprintf("%s:v%d:%s", namespace, version, key)
}
