package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"

	"github.com/meterline/meterline/internal/config"
)

const (
	keyIngestTeam = "usage:ingest:team:%s"
	keyIngestLock = "usage:ingest:lock:%s:%s"

	ingestLockTTL = 30 * time.Second
)

// IngestLimiter throttles usage ingest per team and serializes
// concurrent batches for the same app and team. A nil limiter (rate
// limiting disabled) allows everything.
type IngestLimiter struct {
	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewIngestLimiter(cfg config.Config) (*IngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.IngestRate <= 0 || limitCfg.IngestBurst <= 0 {
		return nil, errors.New("ingest rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &IngestLimiter{
		bucket: NewTokenBucket(client),
		locker: NewLocker(client),
		rate:   limitCfg.IngestRate,
		burst:  limitCfg.IngestBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil
}

func (l *IngestLimiter) AllowTeam(ctx context.Context, teamID snowflake.ID) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIngestTeam, teamID.String()), l.rate, l.burst)
}

func (l *IngestLimiter) TryLockIngest(ctx context.Context, appID, teamID snowflake.ID) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyIngestLock, appID.String(), teamID.String())
	return l.locker.TryLock(ctx, key, ingestLockTTL)
}

func (l *IngestLimiter) ReleaseIngest(ctx context.Context, appID, teamID snowflake.ID, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyIngestLock, appID.String(), teamID.String())
	return l.locker.Release(ctx, key, token)
}
