package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// redisURL returns the Redis instance used by the integration tests, set
// through CRATESCAN_TEST_REDIS_URL (e.g. redis://localhost:6379/15).
func redisURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("CRATESCAN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CRATESCAN_TEST_REDIS_URL not set")
	}
	return url
}

func newTestRedis(t *testing.T, prefix string) *RedisCache {
	t.Helper()
	c, err := NewRedisCache(context.Background(), redisURL(t), prefix)
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	t.Cleanup(func() {
		_, _ = c.Clear(context.Background())
		_ = c.Close()
	})
	return c
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	if _, err := NewRedisCache(context.Background(), "not a url", "x:"); err == nil {
		t.Error("NewRedisCache(invalid url) = nil error")
	}
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisCache(ctx, "redis://127.0.0.1:1/0", "x:"); err == nil {
		t.Error("NewRedisCache(unreachable) = nil error")
	}
}

func TestRedisCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestRedis(t, fmt.Sprintf("cratescan-test:%d:", time.Now().UnixNano()))

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(data) != "v" {
		t.Fatalf("Get = %q, %v, %v", data, ok, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry survived Delete")
	}
}

func TestRedisCache_ClearOnlyOwnPrefix(t *testing.T) {
	ctx := context.Background()
	base := fmt.Sprintf("cratescan-test:%d:", time.Now().UnixNano())
	mine := newTestRedis(t, base+"mine:")
	other := newTestRedis(t, base+"other:")

	// More keys than one SCAN page.
	const n = 250
	for i := range n {
		if err := mine.Set(ctx, fmt.Sprintf("listing:%d", i), []byte("{}"), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := other.Set(ctx, "listing:0", []byte("{}"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	cleared, err := mine.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if cleared != n {
		t.Errorf("Clear() = %d, want %d", cleared, n)
	}
	if _, ok, _ := mine.Get(ctx, "listing:7"); ok {
		t.Error("entry survived Clear")
	}
	if _, ok, _ := other.Get(ctx, "listing:0"); !ok {
		t.Error("Clear removed a key under another prefix")
	}
}
