package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"go.uber.org/zap"
)

const keyDocument = "invoicedesk:document:"

// DocumentCache stores rendered documents by content hash. A miss or a cache
// failure is never an error for the caller; it just renders again.
type DocumentCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte)
}

func NewDocumentCache(client *redis.Client, cfg config.Config, log *zap.Logger) DocumentCache {
	if client == nil || cfg.Render.CacheTTL <= 0 {
		return NoopDocumentCache{}
	}
	return &redisDocumentCache{
		client: client,
		ttl:    cfg.Render.CacheTTL,
		log:    log.Named("cache.document"),
	}
}

type redisDocumentCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func (c *redisDocumentCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, keyDocument+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("document cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (c *redisDocumentCache) Set(ctx context.Context, key string, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := c.client.Set(ctx, keyDocument+key, data, c.ttl).Err(); err != nil {
		c.log.Warn("document cache write failed", zap.String("key", key), zap.Error(err))
	}
}

type NoopDocumentCache struct{}

func (NoopDocumentCache) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (NoopDocumentCache) Set(context.Context, string, []byte) {}
