package cache

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

type memoryEntry struct {
	variants  []models.Variant
	expiresAt time.Time
}

// MemoryCache is a process-local VariantCache used when Redis is not configured
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, country string) ([]models.Variant, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[country]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		return nil, false, nil
	}

	result := make([]models.Variant, len(entry.variants))
	copy(result, entry.variants)
	return result, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, country string, variants []models.Variant, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]models.Variant, len(variants))
	copy(stored, variants)

	entry := memoryEntry{variants: stored}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[country] = entry
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, country string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, country)
	return nil
}
