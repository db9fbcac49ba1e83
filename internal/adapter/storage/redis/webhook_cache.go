package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deposit-gateway/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// WebhookResultCache implements ports.WebhookResultCache using Redis. Keys
// are webhook signatures, so only byte-identical redeliveries hit.
type WebhookResultCache struct {
	client *goredis.Client
	prefix string
}

// NewWebhookResultCache creates a new Redis-backed webhook result cache.
func NewWebhookResultCache(client *goredis.Client) *WebhookResultCache {
	return &WebhookResultCache{
		client: client,
		prefix: "webhook:result:",
	}
}

// Get retrieves a cached webhook result. Returns nil, nil on a miss.
func (c *WebhookResultCache) Get(ctx context.Context, key string) (*ports.WebhookResult, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis webhook result get: %w", err)
	}
	var result ports.WebhookResult
	if err := json.Unmarshal(val, &result); err != nil {
		return nil, fmt.Errorf("decode cached webhook result: %w", err)
	}
	return &result, nil
}

// Set stores a webhook result with TTL.
func (c *WebhookResultCache) Set(ctx context.Context, key string, result *ports.WebhookResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode webhook result: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis webhook result set: %w", err)
	}
	return nil
}
