package infrastructure

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // 零值表示不过期
}

// MemoryViewCache 是进程内的 ViewCache 实现，用于没有 Redis 的本地运行。
// 过期条目在读取时惰性删除。
type MemoryViewCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryViewCache() *MemoryViewCache {
	return &MemoryViewCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryViewCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.expired(e) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (c *MemoryViewCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	e := memoryEntry{value: stored}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryViewCache) Replace(_ context.Context, key string, value []byte) (bool, error) {
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	if c.expired(cur) {
		delete(c.entries, key)
		return false, nil
	}
	c.entries[key] = memoryEntry{value: stored, expiresAt: cur.expiresAt}
	return true, nil
}

func (c *MemoryViewCache) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

func (c *MemoryViewCache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len 返回当前条目数（包含尚未惰性删除的过期条目）。
func (c *MemoryViewCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
