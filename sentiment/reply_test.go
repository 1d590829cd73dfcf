package sentiment

import (
	"errors"
	"strings"
	"testing"
)

func TestParseReply_AcceptsPlainAndFencedJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want Sentiment
	}{
		{name: "plain", raw: `{"sentiment":"P","reason":"likes it"}`, want: Positive},
		{name: "fenced json", raw: "```json\n{\"sentiment\":\"N\",\"reason\":\"x\"}\n```", want: Negative},
		{name: "bare fence", raw: "```\n{\"sentiment\":\"I\",\"reason\":\"x\"}\n```", want: Indifferent},
		{name: "fence same line", raw: "```{\"sentiment\":\"I\",\"reason\":\"x\"}```", want: Indifferent},
		{name: "whitespace", raw: "  \n{\"sentiment\": \"P\", \"reason\": \"  ok  \"}\n ", want: Positive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, reason, err := ParseReply(tc.raw)
			if err != nil {
				t.Fatalf("ParseReply(%q) err=%v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("sentiment=%v, want %v", got, tc.want)
			}
			if reason != strings.TrimSpace(reason) || reason == "" {
				t.Fatalf("reason=%q", reason)
			}
		})
	}
}

func TestParseReply_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "empty", raw: "   ", wantErr: ErrEmptyReply},
		{name: "not json", raw: "not json"},
		{name: "unknown code", raw: `{"sentiment":"X","reason":"r"}`, wantErr: ErrUnknownSentiment},
		{name: "missing sentiment", raw: `{"reason":"r"}`, wantErr: ErrUnknownSentiment},
		{name: "blank reason", raw: `{"sentiment":"P","reason":"  "}`, wantErr: ErrMissingReason},
		{name: "extra field", raw: `{"sentiment":"P","reason":"r","score":1}`},
		{name: "trailing object", raw: `{"sentiment":"P","reason":"r"} {"sentiment":"N","reason":"r"}`, wantErr: ErrTrailingData},
		{name: "prose around json", raw: `Sure! {"sentiment":"P","reason":"r"}`},
		{name: "lowercase code", raw: `{"sentiment":"p","reason":"r"}`, wantErr: ErrUnknownSentiment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := ParseReply(tc.raw)
			if err == nil {
				t.Fatalf("ParseReply(%q) accepted", tc.raw)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestSentiment_Codes(t *testing.T) {
	t.Parallel()

	for _, s := range []Sentiment{Positive, Negative, Indifferent} {
		got, err := ParseSentiment(s.Code())
		if err != nil || got != s {
			t.Fatalf("round trip %v: got=%v err=%v", s, got, err)
		}
	}
	if Unknown.Code() != "" {
		t.Fatalf("Unknown.Code()=%q", Unknown.Code())
	}
}
