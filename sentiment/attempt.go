package sentiment

import (
	"errors"
	"fmt"
)

// State is the position of an Attempt in the validate/retry state machine.
//
//	Pending -> Parsing -> Valid
//	                   -> Invalid -> Pending (retry)
//	                              -> Exhausted
//	Pending -> Exhausted (transport failure or cancellation)
type State int

const (
	StatePending State = iota
	StateParsing
	StateValid
	StateInvalid
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateParsing:
		return "parsing"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrIllegalTransition is returned when a method is called in a state that does not
// allow it.
var ErrIllegalTransition = errors.New("illegal state transition")

// ErrCancelled matches errors wrapped by Cancelled.
var ErrCancelled = errors.New("cancelled by caller")

// Cancelled marks err as caused by the caller's context ending. Only such errors are
// recorded as cancellations; a per-call timeout while the caller is still waiting is a
// transport failure.
func Cancelled(err error) error {
	if err == nil || errors.Is(err, ErrCancelled) {
		return err
	}
	return &cancelledError{err: err}
}

type cancelledError struct{ err error }

func (e *cancelledError) Error() string        { return e.err.Error() }
func (e *cancelledError) Unwrap() error        { return e.err }
func (e *cancelledError) Is(target error) bool { return target == ErrCancelled }

// Attempt drives one request through the state machine. It is not safe for concurrent
// use; the dispatcher owns each Attempt for the lifetime of its request.
type Attempt struct {
	req        Request
	conv       Conversation
	maxRetries int

	state    State
	invalid  int
	calls    int
	lastErr  error
	lastRaw  string
	result   Result
	terminal bool
}

// NewAttempt starts req in StatePending. maxRetries is the number of rejected replies
// tolerated before the attempt is exhausted; values below 1 are treated as 1.
func NewAttempt(req Request, maxRetries int) *Attempt {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Attempt{
		req:        req,
		conv:       req.Conversation,
		maxRetries: maxRetries,
		state:      StatePending,
	}
}

func (a *Attempt) State() State { return a.state }

// Conversation returns the turns to send for the next call.
func (a *Attempt) Conversation() Conversation { return a.conv }

// Calls returns how many replies or transport failures have been recorded.
func (a *Attempt) Calls() int { return a.calls }

// Done reports whether the attempt reached Valid or Exhausted.
func (a *Attempt) Done() bool { return a.terminal }

// Err returns the last validation, transport or cancellation error.
func (a *Attempt) Err() error { return a.lastErr }

// Receive records a raw reply and validates it, leaving the attempt in Valid or Invalid.
func (a *Attempt) Receive(raw string) error {
	if a.state != StatePending {
		return fmt.Errorf("receive in %s: %w", a.state, ErrIllegalTransition)
	}
	a.calls++
	a.state = StateParsing
	a.lastRaw = raw

	sent, reason, err := ParseReply(raw)
	if err != nil {
		a.invalid++
		a.lastErr = err
		a.state = StateInvalid
		return nil
	}
	a.lastErr = nil
	a.state = StateValid
	a.terminal = true
	a.result = a.newResult()
	a.result.Success = true
	a.result.Sentiment = sent
	a.result.Code = sent.Code()
	a.result.Reason = reason
	return nil
}

// Fail records a transport failure, or a cancellation when err was marked by Cancelled.
// The attempt is exhausted at once; transport failures are never retried.
func (a *Attempt) Fail(err error) error {
	if a.state != StatePending {
		return fmt.Errorf("fail in %s: %w", a.state, ErrIllegalTransition)
	}
	if err == nil {
		err = errors.New("unknown transport failure")
	}
	kind := FailureTransport
	if errors.Is(err, ErrCancelled) {
		kind = FailureCancelled
	} else {
		a.calls++
	}
	a.lastErr = err
	a.exhaust(kind, err.Error())
	return nil
}

// Retry moves an Invalid attempt back to Pending, appending the rejected reply and a
// correction turn, or to Exhausted once maxRetries replies were rejected.
func (a *Attempt) Retry() error {
	if a.state != StateInvalid {
		return fmt.Errorf("retry in %s: %w", a.state, ErrIllegalTransition)
	}
	if a.invalid >= a.maxRetries {
		a.exhaust(FailureValidation, fmt.Sprintf("validation failed after %d retries: %v", a.invalid, a.lastErr))
		return nil
	}
	a.conv = a.conv.with(
		Turn{Role: RoleAssistant, Content: a.lastRaw},
		Turn{Role: RoleUser, Content: correction(a.lastErr)},
	)
	a.state = StatePending
	return nil
}

// Result returns the terminal result. ok is false while the attempt is still running.
func (a *Attempt) Result() (Result, bool) {
	if !a.terminal {
		return Result{}, false
	}
	return a.result, true
}

func (a *Attempt) exhaust(kind FailureKind, reason string) {
	a.state = StateExhausted
	a.terminal = true
	a.result = a.newResult()
	a.result.Failure = kind
	a.result.Reason = reason
}

func (a *Attempt) newResult() Result {
	return Result{
		RequestID: a.req.ID,
		MessageID: a.req.MessageID,
		Label:     a.req.Label,
		Attempts:  a.calls,
	}
}

func correction(err error) string {
	return fmt.Sprintf("Your previous reply was rejected: %v.\n"+
		"Reply again with exactly one JSON object of the form "+
		`{"sentiment": "P" | "N" | "I", "reason": "<short explanation>"}`+
		" and no other text.", err)
}
