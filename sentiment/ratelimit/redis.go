package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// slidingWindowScript atomically prunes expired grants, then either records a new grant
// (returns 1) or returns the negative number of milliseconds until the oldest grant
// expires.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// RedisWindow is a sliding-window limiter shared by every process that uses the same
// Redis key. If Redis is unreachable it falls back to an in-process SlidingWindow with
// the same bound and keeps using it for at least one full window, so permits granted
// locally cannot be stacked on top of a full Redis window.
type RedisWindow struct {
	client   redis.UniversalClient
	key      string
	max      int
	window   time.Duration
	fallback *SlidingWindow
	log      zerolog.Logger
	now      func() time.Time

	mu            sync.Mutex
	fallbackUntil time.Time
}

// NewRedisWindow returns a limiter of max permits per window stored under key.
func NewRedisWindow(client redis.UniversalClient, key string, max int, window time.Duration, log zerolog.Logger) (*RedisWindow, error) {
	if client == nil {
		return nil, errors.New("redis window: client is nil")
	}
	if key == "" {
		return nil, errors.New("redis window: key is empty")
	}
	fallback, err := NewSlidingWindow(max, window)
	if err != nil {
		return nil, err
	}
	return &RedisWindow{
		client:   client,
		key:      "ratelimit:" + key,
		max:      max,
		window:   window,
		fallback: fallback,
		log:      log.With().Str("component", "redis_limiter").Logger(),
		now:      time.Now,
	}, nil
}

func (l *RedisWindow) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.fallingBack() {
			return l.fallback.Wait(ctx)
		}
		wait, err := l.allow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.startFallback(err)
			return l.fallback.Wait(ctx)
		}
		if wait == 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *RedisWindow) fallingBack() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Before(l.fallbackUntil)
}

func (l *RedisWindow) startFallback(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(l.window)
	if until.After(l.fallbackUntil) {
		l.fallbackUntil = until
	}
	l.log.Warn().Err(err).Time("until", until).Msg("redis unavailable, using in-process window")
}

// allow returns 0 when a permit was granted, otherwise the time to wait.
func (l *RedisWindow) allow(ctx context.Context) (time.Duration, error) {
	now := l.now()
	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.key},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.max,
		l.window.Milliseconds(),
		uuid.NewString(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("sliding window script: %w", err)
	}
	if res == 1 {
		return 0, nil
	}
	if res < 0 {
		return time.Duration(-res) * time.Millisecond, nil
	}
	return time.Millisecond, nil
}
