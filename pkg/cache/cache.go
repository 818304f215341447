package cache

import (
	"sync"
	"time"
)

// InMemoryCache 带 TTL 的内存缓存。
type InMemoryCache[K comparable, V any] struct {
	items      map[K]*cacheItem[V]
	mu         sync.RWMutex
	defaultTTL time.Duration
}

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// NewInMemoryCache 创建新的内存缓存。
func NewInMemoryCache[K comparable, V any](defaultTTL time.Duration) *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{
		items:      make(map[K]*cacheItem[V]),
		defaultTTL: defaultTTL,
	}
}

// Get 获取缓存值；过期视为不存在。
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || time.Now().After(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set 设置缓存值，ttl==0 时使用默认 TTL。
func (c *InMemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.items[key] = &cacheItem[V]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete 删除缓存项。
func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// BalanceCache 账户可用余额缓存：同一周期内多个交易对连续触发时，
// 避免对网关重复请求余额。
type BalanceCache struct {
	cache *InMemoryCache[string, float64]
	ttl   time.Duration
}

const balanceKey = "available"

// NewBalanceCache 创建余额缓存。
func NewBalanceCache(ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &BalanceCache{
		cache: NewInMemoryCache[string, float64](ttl),
		ttl:   ttl,
	}
}

// Get 获取缓存余额。
func (b *BalanceCache) Get() (float64, bool) {
	return b.cache.Get(balanceKey)
}

// Set 写入余额。
func (b *BalanceCache) Set(v float64) {
	b.cache.Set(balanceKey, v, b.ttl)
}

// Invalidate 下单成功后余额已变化，使缓存失效。
func (b *BalanceCache) Invalidate() {
	b.cache.Delete(balanceKey)
}
