package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheWithClient(client)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestGetMissingKeyReturnsEmpty(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)

	value, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get on missing key must not error: %v", err)
	}
	if value != "" {
		t.Fatalf("Get on missing key = %q, want empty", value)
	}
}

func TestSetGetDel(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, err := c.Get(ctx, "k")
	if err != nil || value != "v" {
		t.Fatalf("Get = (%q, %v), want (v, nil)", value, err)
	}

	if err := c.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	value, err = c.Get(ctx, "k")
	if err != nil || value != "" {
		t.Fatalf("Get after Del = (%q, %v), want empty", value, err)
	}
}

func TestSetNXOnlyFirstWins(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = c.SetNX(ctx, "lock", "b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX = (%v, %v), want (false, nil)", ok, err)
	}

	value, _ := c.Get(ctx, "lock")
	if value != "a" {
		t.Fatalf("lock value = %q, want a", value)
	}
}

func TestIncrAndExpire(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Incr(ctx, "counter")
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if got != want {
			t.Fatalf("Incr = %d, want %d", got, want)
		}
	}

	if err := c.Expire(ctx, "counter", time.Minute); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	value, err := c.Get(ctx, "counter")
	if err != nil || value != "" {
		t.Fatalf("counter after expiry = (%q, %v), want empty", value, err)
	}
}
