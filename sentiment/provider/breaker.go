package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/theimaginaryfoundation/chat-tagger/sentiment"
)

// BreakerConfig configures Breaker.
type BreakerConfig struct {
	Name string
	// ConsecutiveFailures opens the breaker once exceeded.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before letting trial calls through.
	OpenTimeout time.Duration
	Logger      zerolog.Logger
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "model-api",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		Logger:              zerolog.Nop(),
	}
}

// Breaker wraps a transport with a circuit breaker. While open, calls fail at once with
// a TransportError instead of reaching the endpoint. Errors returned after the caller's
// context ended are not counted as failures; per-call timeouts are.
type Breaker struct {
	next     sentiment.Transport
	provider string
	cb       *gobreaker.CircuitBreaker
}

func NewBreaker(next sentiment.Transport, provider string, cfg BreakerConfig) *Breaker {
	log := cfg.Logger.With().Str("component", "breaker").Logger()
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, sentiment.ErrCancelled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return &Breaker{next: next, provider: provider, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Complete(ctx context.Context, conv sentiment.Conversation) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		raw, err := b.next.Complete(ctx, conv)
		if err != nil && ctx.Err() != nil {
			return "", sentiment.Cancelled(err)
		}
		return raw, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", &TransportError{Provider: b.provider, Err: err}
		}
		return "", err
	}
	return out.(string), nil
}

// State returns the breaker state name.
func (b *Breaker) State() string { return b.cb.State().String() }
