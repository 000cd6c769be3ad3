package cache

import (
	"context"
	"testing"
	"time"
)

func TestLRUCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c, err := NewLRUCache(2)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetJSON(ctx, "a", []byte{1, 2, 3}, 0); err != nil {
		t.Fatal(err)
	}
	var got []byte
	hit, err := c.GetJSON(ctx, "a", &got)
	if err != nil || !hit || len(got) != 3 {
		t.Fatalf("hit=%v err=%v got=%v", hit, err, got)
	}

	_ = c.SetJSON(ctx, "b", 1, 0)
	_ = c.SetJSON(ctx, "c", 2, 0)
	if c.Len() != 2 {
		t.Fatalf("expected eviction, len=%d", c.Len())
	}
}

func TestLRUCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c, _ := NewLRUCache(8)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	_ = c.SetJSON(ctx, "k", "v", time.Minute)
	now = now.Add(2 * time.Minute)

	var s string
	if hit, _ := c.GetJSON(ctx, "k", &s); hit {
		t.Fatal("expected expired entry to miss")
	}
}

func TestLRUCacheSetNX(t *testing.T) {
	ctx := context.Background()
	c, _ := NewLRUCache(8)
	ok, err := c.SetNX(ctx, "sess-1", true, time.Hour)
	if err != nil || !ok {
		t.Fatalf("first SetNX ok=%v err=%v", ok, err)
	}
	ok, _ = c.SetNX(ctx, "sess-1", true, time.Hour)
	if ok {
		t.Fatal("second SetNX must report existing key")
	}
	_ = c.Del(ctx, "sess-1")
	if ok, _ := c.SetNX(ctx, "sess-1", true, time.Hour); !ok {
		t.Fatal("SetNX after Del should succeed")
	}
}

func TestTieredPromotesFromL2(t *testing.T) {
	ctx := context.Background()
	l1, _ := NewLRUCache(8)
	l2, _ := NewLRUCache(8)
	tc := Tiered{L1: l1, L2: l2}

	_ = l2.SetJSON(ctx, "prompt", "pcm", 0)
	var s string
	if hit, err := tc.GetJSON(ctx, "prompt", &s); !hit || err != nil || s != "pcm" {
		t.Fatalf("hit=%v err=%v s=%q", hit, err, s)
	}
	if l1.Len() != 1 {
		t.Fatal("expected l2 hit to populate l1")
	}
}
