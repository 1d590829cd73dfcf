package sentiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/theimaginaryfoundation/chat-tagger/sentiment/ratelimit"
	"github.com/theimaginaryfoundation/chat-tagger/tagging"
)

// Transport sends a conversation to a model and returns the raw reply text. An error
// means no usable reply was obtained; it is never retried by the dispatcher.
type Transport interface {
	Complete(ctx context.Context, conv Conversation) (string, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, conv Conversation) (string, error)

func (f TransportFunc) Complete(ctx context.Context, conv Conversation) (string, error) {
	return f(ctx, conv)
}

// Request is one (message, label) pair to be judged.
type Request struct {
	ID           string
	MessageID    string
	Label        string
	Conversation Conversation
}

// NewRequest builds the request for one tagged pair.
func NewRequest(pb *PromptBuilder, label string, msg tagging.Message) Request {
	return Request{
		ID:           uuid.NewString(),
		MessageID:    msg.ID,
		Label:        label,
		Conversation: pb.Build(label, msg),
	}
}

const (
	DefaultConcurrency  = 200
	DefaultRateLimit    = 400
	DefaultRateWindow   = time.Minute
	DefaultRequestDelay = time.Second
	DefaultMaxRetries   = 3
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Concurrency is the number of requests processed at once. Each request keeps its
	// slot across retries.
	Concurrency int
	// Limiter is consulted before every transport call, retries included.
	Limiter ratelimit.Limiter
	// RequestDelay is slept between acquiring a permit and issuing the call.
	RequestDelay time.Duration
	// MaxRetries is the number of rejected replies tolerated per request.
	MaxRetries int
	// OnResult, if set, receives every result as soon as it is final. Calls are
	// serialized.
	OnResult func(Result)
	Logger   zerolog.Logger
}

// DefaultDispatcherConfig returns 200 workers, 400 calls per minute, a one second
// request delay and three retries.
func DefaultDispatcherConfig() DispatcherConfig {
	l, _ := ratelimit.NewSlidingWindow(DefaultRateLimit, DefaultRateWindow)
	return DispatcherConfig{
		Concurrency:  DefaultConcurrency,
		Limiter:      l,
		RequestDelay: DefaultRequestDelay,
		MaxRetries:   DefaultMaxRetries,
		Logger:       zerolog.Nop(),
	}
}

// Stats are counters accumulated over every Run of a Dispatcher.
type Stats struct {
	Calls        int64 `json:"calls"`
	PeakInFlight int64 `json:"peak_in_flight"`
}

// Dispatcher runs sentiment requests concurrently under a shared rate limiter.
type Dispatcher struct {
	transport Transport
	cfg       DispatcherConfig
	log       zerolog.Logger

	inFlight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64

	emitMu sync.Mutex
}

// NewDispatcher validates cfg and returns a Dispatcher. A nil Limiter means unlimited.
func NewDispatcher(t Transport, cfg DispatcherConfig) (*Dispatcher, error) {
	if t == nil {
		return nil, errors.New("dispatcher: transport is nil")
	}
	if cfg.Concurrency <= 0 {
		return nil, errors.New("dispatcher: concurrency must be > 0")
	}
	if cfg.MaxRetries <= 0 {
		return nil, errors.New("dispatcher: max retries must be > 0")
	}
	if cfg.RequestDelay < 0 {
		return nil, errors.New("dispatcher: request delay must be >= 0")
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.Unlimited{}
	}
	return &Dispatcher{
		transport: t,
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "dispatcher").Logger(),
	}, nil
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{Calls: d.calls.Load(), PeakInFlight: d.peak.Load()}
}

// requestWorker implements pool.Worker over request indexes.
type requestWorker struct {
	d       *Dispatcher
	ctx     context.Context
	reqs    []Request
	results []Result
	done    []bool
}

// Do processes one request to completion. Failures are recorded in the result; the
// worker itself never fails.
func (w *requestWorker) Do(_ context.Context, i int) error {
	res := w.d.process(w.ctx, w.reqs[i])
	w.results[i] = res
	w.done[i] = true
	w.d.emit(res)
	return nil
}

// Run processes every request and returns exactly one result per request, in request
// order. Cancelling ctx stops new calls; requests not yet finished fail as cancelled.
func (d *Dispatcher) Run(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}
	done := make([]bool, len(reqs))
	size := d.cfg.Concurrency
	if size > len(reqs) {
		size = len(reqs)
	}

	start := time.Now()
	d.log.Info().Int("requests", len(reqs)).Int("workers", size).Msg("dispatch started")

	// The pool outlives caller cancellation so every submitted index is drained; the
	// worker checks the caller context itself.
	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	w := &requestWorker{d: d, ctx: ctx, reqs: reqs, results: results, done: done}
	p := pool.New[int](size, w).
		WithBatchSize(1).
		WithWorkerChanSize(size).
		WithContinueOnError()
	if err := p.Go(poolCtx); err != nil {
		d.log.Error().Err(err).Msg("failed to start worker pool")
		for i, r := range reqs {
			results[i] = failedResult(r, FailureTransport, fmt.Sprintf("worker pool: %v", err))
			d.emit(results[i])
		}
		return results
	}
	for i := range reqs {
		p.Submit(i)
	}
	if err := p.Close(poolCtx); err != nil {
		d.log.Warn().Err(err).Msg("worker pool closed with error")
	}

	for i, ok := range done {
		if !ok {
			results[i] = failedResult(reqs[i], FailureCancelled, "request not processed")
			d.emit(results[i])
		}
	}

	d.log.Info().
		Int("requests", len(reqs)).
		Int64("calls", d.calls.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("dispatch finished")
	return results
}

func (d *Dispatcher) process(ctx context.Context, req Request) Result {
	a := NewAttempt(req, d.cfg.MaxRetries)
	log := d.log.With().
		Str("request_id", req.ID).
		Str("message_id", req.MessageID).
		Str("label", req.Label).
		Logger()

	for !a.Done() {
		switch a.State() {
		case StatePending:
			raw, err := d.call(ctx, a.Conversation())
			if err != nil {
				_ = a.Fail(err)
				continue
			}
			_ = a.Receive(raw)
		case StateInvalid:
			log.Debug().Err(a.Err()).Int("calls", a.Calls()).Msg("reply rejected")
			_ = a.Retry()
		default:
			_ = a.Fail(fmt.Errorf("unexpected state %s", a.State()))
		}
	}

	res, _ := a.Result()
	if !res.Success {
		log.Warn().Str("failure", string(res.Failure)).Int("calls", res.Attempts).Msg(res.Reason)
	} else {
		log.Debug().Str("sentiment", res.Code).Int("calls", res.Attempts).Msg("judged")
	}
	return res
}

// call issues one transport call. Errors returned after ctx ended are marked as
// cancellations.
func (d *Dispatcher) call(ctx context.Context, conv Conversation) (string, error) {
	raw, err := d.issue(ctx, conv)
	if err == nil {
		return raw, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return "", Cancelled(err)
	}
	return "", err
}

// issue waits for a permit, sleeps the request delay and calls the transport.
func (d *Dispatcher) issue(ctx context.Context, conv Conversation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := d.cfg.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	if d.cfg.RequestDelay > 0 {
		t := time.NewTimer(d.cfg.RequestDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}

	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		peak := d.peak.Load()
		if n <= peak || d.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	d.calls.Add(1)

	return d.transport.Complete(ctx, conv)
}

func (d *Dispatcher) emit(r Result) {
	if d.cfg.OnResult == nil {
		return
	}
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.cfg.OnResult(r)
}

func failedResult(r Request, kind FailureKind, reason string) Result {
	return Result{
		RequestID: r.ID,
		MessageID: r.MessageID,
		Label:     r.Label,
		Reason:    reason,
		Failure:   kind,
	}
}
