package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicedesk/internal/config"
)

const keySendActor = "invoicedesk:ratelimit:send:"

// SendLimiter throttles outbound mail per operator. A nil limiter allows everything.
type SendLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewSendLimiter(client *redis.Client, cfg config.Config) *SendLimiter {
	if client == nil || cfg.Dispatch.SendRate <= 0 || cfg.Dispatch.SendBurst <= 0 {
		return nil
	}
	return &SendLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.Dispatch.SendRate,
		burst:  cfg.Dispatch.SendBurst,
	}
}

func (l *SendLimiter) Allow(ctx context.Context, actor string) (Result, error) {
	if l == nil {
		return Result{Allowed: true}, nil
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "anonymous"
	}
	return l.bucket.Allow(ctx, keySendActor+actor, l.rate, l.burst)
}
