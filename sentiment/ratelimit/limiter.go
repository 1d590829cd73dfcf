// Package ratelimit provides sliding-window rate limiters for outbound model calls.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Limiter blocks until one call may be issued. Implementations are safe for concurrent
// use. Wait returns ctx.Err() if the context ends first; no permit is consumed then.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

// SlidingWindow grants at most Max permits within any interval of length Window.
type SlidingWindow struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	grants []time.Time // ascending
}

// NewSlidingWindow returns an in-process limiter of max permits per window.
func NewSlidingWindow(max int, window time.Duration) (*SlidingWindow, error) {
	if max <= 0 {
		return nil, errors.New("sliding window: max must be > 0")
	}
	if window <= 0 {
		return nil, errors.New("sliding window: window must be > 0")
	}
	return &SlidingWindow{max: max, window: window, now: time.Now}, nil
}

func (l *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, ok := l.reserve()
		if ok {
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

// reserve records a grant if the window has room, otherwise returns how long to wait
// until the oldest grant leaves the window.
func (l *SlidingWindow) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	drop := 0
	for drop < len(l.grants) && !l.grants[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		l.grants = append(l.grants[:0], l.grants[drop:]...)
	}

	if len(l.grants) < l.max {
		l.grants = append(l.grants, now)
		return 0, true
	}
	wait := l.grants[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// InWindow returns the number of permits granted during the current window.
func (l *SlidingWindow) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	n := 0
	for _, g := range l.grants {
		if g.After(cutoff) {
			n++
		}
	}
	return n
}
