/**
 * @description
 * Redis read-through cache in front of a rate source. Active rates are
 * read-mostly; caching them keeps the settlement hot path off the database.
 * Upserts go through Invalidate so a refreshed pair is re-read on next use.
 */

package rates

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedSource wraps a Source with a Redis read-through cache.
type CachedSource struct {
	inner  Source
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCachedSource creates a caching source. A zero ttl disables expiry,
// leaving invalidation entirely to Invalidate.
func NewCachedSource(inner Source, client *redis.Client, prefix string, ttl time.Duration) *CachedSource {
	if prefix == "" {
		prefix = "settlement:rates"
	}
	return &CachedSource{inner: inner, client: client, prefix: prefix, ttl: ttl}
}

func (c *CachedSource) key(from, to string) string {
	return c.prefix + ":" + from + ":" + to
}

func (c *CachedSource) ActiveRate(ctx context.Context, from, to string) (*ExchangeRate, error) {
	cached, err := c.client.Get(ctx, c.key(from, to)).Result()
	if err == nil {
		var rate ExchangeRate
		if jsonErr := json.Unmarshal([]byte(cached), &rate); jsonErr == nil {
			return &rate, nil
		}
		// Corrupt cache entry: fall through to the source.
		log.Printf("level=warn component=rate_cache msg=\"cached rate unmarshal failed; reading through\" pair=%s->%s", from, to)
	} else if err != redis.Nil {
		log.Printf("level=warn component=rate_cache msg=\"redis get failed; reading through\" pair=%s->%s err=%v", from, to, err)
	}

	rate, err := c.inner.ActiveRate(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if body, jsonErr := json.Marshal(rate); jsonErr == nil {
		if setErr := c.client.Set(ctx, c.key(from, to), body, c.ttl).Err(); setErr != nil {
			log.Printf("level=warn component=rate_cache msg=\"redis set failed\" pair=%s->%s err=%v", from, to, setErr)
		}
	}
	return rate, nil
}

// Invalidate drops the cached entry for the ordered pair.
func (c *CachedSource) Invalidate(ctx context.Context, from, to string) {
	if err := c.client.Del(ctx, c.key(from, to)).Err(); err != nil {
		log.Printf("level=warn component=rate_cache msg=\"redis del failed\" pair=%s->%s err=%v", from, to, err)
	}
}
