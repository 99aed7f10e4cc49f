package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyGenerationAccount = "gen:account:%s"
	keySweepLock         = "sweep:lock:%s"

	// Generation calls are expensive; cap each account at a steady
	// 10/minute with room for a short burst.
	generationRate  = 10.0 / 60.0
	generationBurst = 5

	sweepLockTTL = 4 * time.Minute
)

// GenerationLimiter throttles paid generation requests per account and
// hands out the cross-instance sweep lock. Disabled (always-allow) when
// no redis address is configured.
type GenerationLimiter struct {
	enabled bool
	bucket  *TokenBucket
	locker  *Locker
}

func NewGenerationLimiter(cfg config.Config) *GenerationLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return &GenerationLimiter{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})

	return &GenerationLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
	}
}

func (l *GenerationLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *GenerationLimiter) AllowGeneration(ctx context.Context, accountID snowflake.ID) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyGenerationAccount, accountID.String()), generationRate, generationBurst)
}

// TryLockSweep guards a sweep job against concurrent runs across
// instances. Callers must Release with the returned token.
func (l *GenerationLimiter) TryLockSweep(ctx context.Context, job string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.Acquire(ctx, fmt.Sprintf(keySweepLock, job), sweepLockTTL)
}

func (l *GenerationLimiter) ReleaseSweep(ctx context.Context, job, token string) error {
	if !l.Enabled() || token == "" {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keySweepLock, job), token)
}
