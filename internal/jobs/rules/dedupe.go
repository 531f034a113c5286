// Package rules provides the primitives rules-job handlers lean on: alert
// dedupe, IOC cache versioning, and allowlist checks (C9). Concrete rule
// semantics live outside this package; these are just the shared plumbing.
package rules

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

const defaultDedupeTTL = 2 * time.Minute

// Deduper answers ShouldAlert for a fingerprint at most once per TTL window.
type Deduper interface {
	ShouldAlert(ctx context.Context, fingerprint string) (bool, error)
}

// RedisDeduper backs Deduper with SETNX semantics: the first caller for a
// fingerprint within the TTL window wins and every other caller in that
// window sees false, race-free by construction (SET NX is atomic).
type RedisDeduper struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

type DeduperOptions struct {
	Client    *goredis.Client
	KeyPrefix string
	TTL       time.Duration
	Log       *logger.Logger
}

func NewRedisDeduper(opts DeduperOptions) *RedisDeduper {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "rules:dedupe:"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisDeduper{
		rdb:    opts.Client,
		prefix: prefix,
		ttl:    ttl,
		log:    opts.Log.With("component", "Deduper"),
	}
}

// ShouldAlert returns true exactly once per fingerprint per TTL window. A
// Redis error fails closed (returns false along with the error) so a
// dedupe-store outage can never cause a flood of duplicate alerts; the rules
// handler returns that error, which fails the job.
func (d *RedisDeduper) ShouldAlert(ctx context.Context, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, fmt.Errorf("dedupe: empty fingerprint")
	}
	key := d.prefix + fingerprint
	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}
