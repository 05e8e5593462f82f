package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// VariantCache stores the enabled variant list per ISO-2 country code.
// Concurrent misses may populate the same key twice; values are equivalent.
type VariantCache interface {
	Get(ctx context.Context, country string) ([]models.Variant, bool, error)
	Set(ctx context.Context, country string, variants []models.Variant, ttl time.Duration) error
	Invalidate(ctx context.Context, country string) error
}

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Variant Cache Operations

func variantKey(country string) string {
	return fmt.Sprintf("catalog:variants:%s", country)
}

// Get retrieves the cached variant list for a country
func (c *Cache) Get(ctx context.Context, country string) ([]models.Variant, bool, error) {
	data, err := c.client.Get(ctx, variantKey(country)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // Cache miss
		}
		return nil, false, fmt.Errorf("failed to get variants from cache: %w", err)
	}

	var variants []models.Variant
	if err := json.Unmarshal(data, &variants); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal variants: %w", err)
	}

	return variants, true, nil
}

// Set caches the variant list for a country. A zero ttl keeps the entry forever.
func (c *Cache) Set(ctx context.Context, country string, variants []models.Variant, ttl time.Duration) error {
	if variants == nil {
		variants = []models.Variant{}
	}

	data, err := json.Marshal(variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}

	return c.client.Set(ctx, variantKey(country), data, ttl).Err()
}

// Invalidate removes the cached variant list for a country
func (c *Cache) Invalidate(ctx context.Context, country string) error {
	return c.client.Del(ctx, variantKey(country)).Err()
}
