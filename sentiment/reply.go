package sentiment

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrEmptyReply    = errors.New("empty reply")
	ErrTrailingData  = errors.New("unexpected data after JSON object")
	ErrMissingReason = errors.New("reason is empty")
)

// ParseReply validates a raw model reply. An optional Markdown code fence around the
// object is removed; everything else must be exactly one JSON object with the fields of
// Reply and nothing more.
func ParseReply(raw string) (Sentiment, string, error) {
	s := stripCodeFence(raw)
	if s == "" {
		return Unknown, "", ErrEmptyReply
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()
	var r Reply
	if err := dec.Decode(&r); err != nil {
		return Unknown, "", fmt.Errorf("invalid JSON: %w", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Unknown, "", ErrTrailingData
	}

	sent, err := ParseSentiment(r.Sentiment)
	if err != nil {
		return Unknown, "", err
	}
	reason := strings.TrimSpace(r.Reason)
	if reason == "" {
		return Unknown, "", ErrMissingReason
	}
	return sent, reason, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string ("json", "JSON", ...) on the opening line.
		if !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
