package cache

import (
	"testing"
	"time"
)

// TestInMemoryCacheTTL 过期条目视为不存在
func TestInMemoryCacheTTL(t *testing.T) {
	c := NewInMemoryCache[string, int](20 * time.Millisecond)
	c.Set("a", 1, 0)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("刚写入的值应该可读: %v/%v", v, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Error("过期后应该读不到")
	}
}

// TestInMemoryCacheDelete 删除后立即不可见
func TestInMemoryCacheDelete(t *testing.T) {
	c := NewInMemoryCache[string, string](time.Minute)
	c.Set("k", "v", 0)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("删除后应该读不到")
	}
}

// TestBalanceCacheRoundTrip 余额缓存的读写与失效
func TestBalanceCacheRoundTrip(t *testing.T) {
	b := NewBalanceCache(time.Minute)
	if _, ok := b.Get(); ok {
		t.Error("空缓存不应命中")
	}
	b.Set(87.65)
	if v, ok := b.Get(); !ok || v != 87.65 {
		t.Errorf("应该读回 87.65: %v/%v", v, ok)
	}
	b.Invalidate()
	if _, ok := b.Get(); ok {
		t.Error("失效后不应命中")
	}
}
