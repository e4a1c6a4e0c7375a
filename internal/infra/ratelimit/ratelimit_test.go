package ratelimit

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestMemory_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewMemory(Policy{Limit: 2, Window: time.Minute}, MemoryOptions{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "ip:1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allow, got %+v (%v)", i, d, err)
		}
		if d.Remaining != 1-i {
			t.Fatalf("request %d: expected remaining %d, got %d", i, 1-i, d.Remaining)
		}
	}
	d, err := limiter.Allow(ctx, "ip:1")
	if err != nil || d.Allowed {
		t.Fatalf("expected deny, got %+v (%v)", d, err)
	}
	if !d.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected reset %v", d.ResetAt)
	}
	if d, _ := limiter.Allow(ctx, "ip:2"); !d.Allowed {
		t.Fatal("keys must not share a window")
	}

	now = now.Add(time.Minute + time.Second)
	if d, _ := limiter.Allow(ctx, "ip:1"); !d.Allowed {
		t.Fatal("expected a fresh window after expiry")
	}
}

func TestMemory_CapacityAndDisabled(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewMemory(Policy{Limit: 1, Window: time.Minute}, MemoryOptions{Now: func() time.Time { return now }, MaxKeys: 1})
	ctx := context.Background()
	if _, err := limiter.Allow(ctx, "a"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if _, err := limiter.Allow(ctx, "b"); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := limiter.Allow(ctx, "b"); err != nil {
		t.Fatalf("expected expired key to be evicted, got %v", err)
	}

	off := NewMemory(Policy{}, MemoryOptions{})
	for i := 0; i < 5; i++ {
		if d, _ := off.Allow(ctx, "x"); !d.Allowed {
			t.Fatal("disabled limiter denied a request")
		}
	}
}

func TestRedis_FixedWindow(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR_TEST"))
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	limiter, err := NewRedis(client, Policy{Limit: 1, Window: time.Minute}, nil)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	key := "test:" + uuid.NewString()
	ctx := context.Background()
	if d, err := limiter.Allow(ctx, key); err != nil || !d.Allowed {
		t.Fatalf("expected allow, got %+v (%v)", d, err)
	}
	if d, err := limiter.Allow(ctx, key); err != nil || d.Allowed {
		t.Fatalf("expected deny, got %+v (%v)", d, err)
	}
}

func TestPolicy_WindowIsWallClockAligned(t *testing.T) {
	p := Policy{Limit: 2, Window: time.Minute}
	now := time.Date(2026, 3, 1, 10, 4, 37, 0, time.UTC)
	start, end := p.window(now)
	if !start.Equal(time.Date(2026, 3, 1, 10, 4, 0, 0, time.UTC)) || !end.Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected window [%s, %s)", start, end)
	}
	if again, _ := p.window(now.Add(20 * time.Second)); !again.Equal(start) {
		t.Fatalf("expected same window, got %s", again)
	}
	if next, _ := p.window(end); !next.Equal(end) {
		t.Fatalf("expected next window at %s, got %s", end, next)
	}
	if windowKey("k", start) == windowKey("k", end) {
		t.Fatal("consecutive windows share a counter key")
	}

	if d := p.decide(2, end); !d.Allowed || d.Remaining != 0 || !d.ResetAt.Equal(end) {
		t.Fatalf("unexpected decision at limit: %+v", d)
	}
	if d := p.decide(3, end); d.Allowed || d.Remaining != 0 {
		t.Fatalf("unexpected decision over limit: %+v", d)
	}
}

func TestScope_Key(t *testing.T) {
	cases := []struct {
		scope Scope
		want  string
	}{
		{Scope{Route: "/v1/system", Client: "10.0.0.1"}, "route:/v1/system:client:10.0.0.1"},
		{Scope{Route: "/v1/events/stream", Client: "10.0.0.1", Device: "3"}, "route:/v1/events/stream:device:3:client:10.0.0.1"},
	}
	for _, tc := range cases {
		if got := tc.scope.Key(); got != tc.want {
			t.Fatalf("Key() = %q, want %q", got, tc.want)
		}
	}
	a := Scope{Route: "/v1/devices/:device_id", Client: "10.0.0.1", Device: "1"}.Key()
	b := Scope{Route: "/v1/devices/:device_id", Client: "10.0.0.1", Device: "2"}.Key()
	if a == b {
		t.Fatal("devices share a budget")
	}
}
