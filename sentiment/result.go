package sentiment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Sentiment is the model's judgement of a message toward one label.
type Sentiment int

const (
	Unknown Sentiment = iota
	Positive
	Negative
	Indifferent
)

var ErrUnknownSentiment = errors.New("unknown sentiment code")

// ParseSentiment maps the one-letter reply codes P, N and I.
func ParseSentiment(code string) (Sentiment, error) {
	switch strings.TrimSpace(code) {
	case "P":
		return Positive, nil
	case "N":
		return Negative, nil
	case "I":
		return Indifferent, nil
	default:
		return Unknown, fmt.Errorf("%w: %q", ErrUnknownSentiment, code)
	}
}

// Code returns the one-letter form written to output tables, or "" for Unknown.
func (s Sentiment) Code() string {
	switch s {
	case Positive:
		return "P"
	case Negative:
		return "N"
	case Indifferent:
		return "I"
	default:
		return ""
	}
}

func (s Sentiment) String() string {
	switch s {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	case Indifferent:
		return "indifferent"
	default:
		return "unknown"
	}
}

// FailureKind says why a Result has Success=false.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureTransport  FailureKind = "transport"
	FailureValidation FailureKind = "validation"
	FailureCancelled  FailureKind = "cancelled"
)

// Result is the terminal outcome of one sentiment request. When Success is false,
// Sentiment is Unknown and Reason carries the diagnostic.
type Result struct {
	RequestID string      `json:"request_id"`
	MessageID string      `json:"message_id"`
	Label     string      `json:"label"`
	Sentiment Sentiment   `json:"-"`
	Code      string      `json:"sentiment"`
	Reason    string      `json:"reason"`
	Success   bool        `json:"success"`
	Failure   FailureKind `json:"failure,omitempty"`
	Attempts  int         `json:"attempts"`
}

// UnmarshalJSON restores Sentiment from the one-letter code.
func (r *Result) UnmarshalJSON(b []byte) error {
	type plain Result
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = Result(p)
	r.Sentiment = Unknown
	if r.Success {
		s, err := ParseSentiment(r.Code)
		if err != nil {
			return err
		}
		r.Sentiment = s
	}
	return nil
}
