package ratelimit

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestNewSlidingWindow_RejectsBadArgs(t *testing.T) {
	t.Parallel()

	if _, err := NewSlidingWindow(0, time.Second); err == nil {
		t.Fatalf("expected error for max=0")
	}
	if _, err := NewSlidingWindow(1, 0); err == nil {
		t.Fatalf("expected error for window=0")
	}
}

func TestSlidingWindow_ReserveWithFakeClock(t *testing.T) {
	t.Parallel()

	l, err := NewSlidingWindow(3, time.Minute)
	if err != nil {
		t.Fatalf("NewSlidingWindow: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, ok := l.reserve(); !ok {
			t.Fatalf("reserve %d denied", i)
		}
		now = now.Add(10 * time.Second)
	}
	wait, ok := l.reserve()
	if ok {
		t.Fatalf("4th reserve granted inside the window")
	}
	if wait != 30*time.Second {
		t.Fatalf("wait=%s, want 30s", wait)
	}

	now = now.Add(30 * time.Second)
	if _, ok := l.reserve(); !ok {
		t.Fatalf("reserve denied after the oldest grant expired")
	}
	if got := l.InWindow(); got != 3 {
		t.Fatalf("InWindow=%d, want 3", got)
	}
}

func TestSlidingWindow_BoundUnderConcurrency(t *testing.T) {
	t.Parallel()

	const (
		max     = 4
		window  = 150 * time.Millisecond
		callers = 12
	)
	l, err := NewSlidingWindow(max, window)
	if err != nil {
		t.Fatalf("NewSlidingWindow: %v", err)
	}

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(context.Background()); err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(times) != callers {
		t.Fatalf("granted=%d, want %d", len(times), callers)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := 0; i+max < len(times); i++ {
		if d := times[i+max].Sub(times[i]); d < window*3/4 {
			t.Fatalf("grants %d and %d only %s apart, window is %s", i, i+max, d, window)
		}
	}
}

func TestSlidingWindow_WaitHonoursCancellation(t *testing.T) {
	t.Parallel()

	l, err := NewSlidingWindow(1, time.Hour)
	if err != nil {
		t.Fatalf("NewSlidingWindow: %v", err)
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}
	if got := l.InWindow(); got != 1 {
		t.Fatalf("InWindow=%d, cancelled wait must not consume a permit", got)
	}
}

func TestUnlimited_Wait(t *testing.T) {
	t.Parallel()

	if err := (Unlimited{}).Wait(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Unlimited{}).Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestNewRedisWindow_Validates(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisWindow(nil, "k", 1, time.Second, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewRedisWindow(client, "", 1, time.Second, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := NewRedisWindow(client, "k", 0, time.Second, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for max=0")
	}
}

func TestRedisWindow_FallsBackWhenUnreachable(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	l, err := NewRedisWindow(client, "test", 2, time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisWindow: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, fallback window should be full", err)
	}
}

func TestRedisWindow_ScriptPrunesCountsAndWaits(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	l, err := NewRedisWindow(client, "script", 3, time.Minute, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisWindow: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		wait, err := l.allow(ctx)
		if err != nil || wait != 0 {
			t.Fatalf("allow %d: wait=%s err=%v", i, wait, err)
		}
		now = now.Add(10 * time.Second)
	}
	wait, err := l.allow(ctx)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if wait != 30*time.Second {
		t.Fatalf("wait=%s, want 30s until the oldest grant leaves the window", wait)
	}
	members, err := mr.ZMembers("ratelimit:script")
	if err != nil || len(members) != 3 {
		t.Fatalf("members=%v err=%v, denied call must not be recorded", members, err)
	}

	now = now.Add(30 * time.Second)
	if wait, err := l.allow(ctx); err != nil || wait != 0 {
		t.Fatalf("allow after expiry: wait=%s err=%v", wait, err)
	}
	members, _ = mr.ZMembers("ratelimit:script")
	if len(members) != 3 {
		t.Fatalf("members=%d, want expired grant pruned and new one added", len(members))
	}
	if ttl := mr.TTL("ratelimit:script"); ttl <= 0 {
		t.Fatalf("ttl=%s, key must expire", ttl)
	}
}

func TestRedisWindow_WaitBlocksWhenWindowFull(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	l, err := NewRedisWindow(client, "full", 2, time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisWindow: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded on a full window", err)
	}
	if l.fallback.InWindow() != 0 {
		t.Fatalf("fallback used while redis was healthy")
	}
}

func TestRedisWindow_StaysOnFallbackForAWindow(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	l, err := NewRedisWindow(client, "flap", 5, time.Minute, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisWindow: %v", err)
	}
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait via redis: %v", err)
	}
	mr.Close()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait via fallback: %v", err)
	}
	if err := mr.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	now = now.Add(30 * time.Second)
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait after restart: %v", err)
	}
	if got := l.fallback.InWindow(); got != 2 {
		t.Fatalf("fallback grants=%d, want 2: limiter must stay on the fallback for a full window", got)
	}
	if members, _ := mr.ZMembers("ratelimit:flap"); len(members) != 1 {
		t.Fatalf("redis grants=%d, want 1", len(members))
	}

	now = now.Add(31 * time.Second)
	if l.fallingBack() {
		t.Fatalf("fallback should end one window after redis failed")
	}
}

func TestRedisWindow_Live(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	key := "chat-tagger-test-" + uuid.NewString()
	defer client.Del(context.Background(), "ratelimit:"+key)

	const window = 300 * time.Millisecond
	l, err := NewRedisWindow(client, key, 2, window, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisWindow: %v", err)
	}
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < window*3/4 {
		t.Fatalf("third permit after %s, want >= ~%s", elapsed, window)
	}
}
