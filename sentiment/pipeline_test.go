package sentiment

import (
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/theimaginaryfoundation/chat-tagger/tagging"
)

// labelTransport answers P for Product1 and fails validation for everything else.
type labelTransport struct{ scriptedTransport }

func (l *labelTransport) Complete(ctx context.Context, conv Conversation) (string, error) {
	_, _ = l.scriptedTransport.Complete(ctx, conv)
	if strings.Contains(conv[1].Content, "Label: BrandA_Product1") {
		return `{"sentiment":"P","reason":"likes alpha"}`, nil
	}
	return "no idea", nil
}

func testPipeline(t *testing.T, tr Transport) *Pipeline {
	t.Helper()
	rs, _ := tagging.NewRuleSet([]tagging.RuleRow{
		{Brand: "BrandA", Product: "Product1", Keyword: "alpha"},
		{Brand: "BrandA", Product: "Generic", Keyword: "hello"},
	})
	pb, err := NewPromptBuilder(rs, PromptOptions{})
	if err != nil {
		t.Fatalf("NewPromptBuilder: %v", err)
	}
	d := testDispatcher(t, tr, nil)
	p, err := NewPipeline(rs, pb, d, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestPipeline_RunAnnotatesTaggedPairs(t *testing.T) {
	t.Parallel()

	tr := &labelTransport{}
	p := testPipeline(t, tr)
	msgs := []tagging.Message{
		{ID: "1", Body: "I like alpha product"},
		{ID: "2", Body: "Hello only"},
		{ID: "3", Body: "nothing relevant"},
	}

	out := p.Run(context.Background(), msgs, nil)

	if out.Summary.TaggedPairs != 2 || out.Summary.Judged != 1 || out.Summary.Failed != 1 {
		t.Fatalf("summary=%+v", out.Summary)
	}
	if out.Summary.ValidationFailures != 1 || out.Summary.Calls != 4 {
		t.Fatalf("summary=%+v", out.Summary)
	}

	a := out.Annotations
	got := map[string][]string{}
	for i, id := range a.MessageIDs() {
		for _, c := range a.Row(i) {
			got[id] = append(got[id], c.Value())
		}
	}
	want := map[string][]string{
		"1": {"P", ""},
		"2": {"", FailureMarker},
		"3": {"", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("cells (-want +got):\n%s", diff)
	}

	if r := a.Reason(0); r != "BrandA_Product1: likes alpha\n" {
		t.Fatalf("reason 0=%q", r)
	}
	if r := a.Reason(1); !strings.HasPrefix(r, "BrandA_Generic: validation failed after 3 retries") {
		t.Fatalf("reason 1=%q", r)
	}
	if r := a.Reason(2); r != "" {
		t.Fatalf("reason 2=%q", r)
	}
}

func TestPipeline_ResumeReusesSuccessfulResults(t *testing.T) {
	t.Parallel()

	tr := &labelTransport{}
	p := testPipeline(t, tr)
	msgs := []tagging.Message{{ID: "1", Body: "alpha"}, {ID: "2", Body: "hello"}}

	prior := map[PairKey]Result{
		{MessageID: "1", Label: "BrandA_Product1"}: {MessageID: "1", Label: "BrandA_Product1", Success: true, Sentiment: Negative, Code: "N", Reason: "from last run"},
		{MessageID: "2", Label: "BrandA_Generic"}:  {MessageID: "2", Label: "BrandA_Generic", Reason: "failed last time"},
	}
	out := p.Run(context.Background(), msgs, prior)

	if out.Summary.Reused != 1 || out.Summary.Dispatched != 1 {
		t.Fatalf("summary=%+v", out.Summary)
	}
	for _, c := range tr.convs {
		if strings.Contains(c[1].Content, "BrandA_Product1") {
			t.Fatalf("reused pair was dispatched again")
		}
	}
	if c := out.Annotations.Cell("1", "BrandA_Product1"); c.Value() != "N" || c.Reason != "from last run" {
		t.Fatalf("cell=%+v", c)
	}
}

func TestAnnotate_TaggedPairWithoutResultFails(t *testing.T) {
	t.Parallel()

	rs, _ := tagging.NewRuleSet([]tagging.RuleRow{{Brand: "A", Product: "X", Keyword: "x"}})
	m := tagging.Tag([]tagging.Message{{ID: "1", Body: "x"}, {ID: "2", Body: "y"}}, rs)

	a := Annotate(m, []Result{
		{MessageID: "2", Label: "A_X", Success: true, Sentiment: Positive, Code: "P", Reason: "untagged"},
	})
	if c := a.Cell("1", "A_X"); c.State != CellFailed || c.Value() != FailureMarker {
		t.Fatalf("cell 1=%+v", c)
	}
	if c := a.Cell("2", "A_X"); c.State != CellNotApplicable || c.Value() != "" {
		t.Fatalf("result for an untagged pair leaked into cell 2: %+v", c)
	}
	if c := a.Cell("missing", "A_X"); c.State != CellNotApplicable {
		t.Fatalf("cell=%+v", c)
	}
}

func TestResult_JSONRestoresSentiment(t *testing.T) {
	t.Parallel()

	in := Result{RequestID: "r", MessageID: "m", Label: "L", Sentiment: Indifferent, Code: "I", Reason: "q", Success: true, Attempts: 1}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Result
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("(-in +out):\n%s", diff)
	}
}

func TestNewPipeline_Validates(t *testing.T) {
	t.Parallel()

	if _, err := NewPipeline(nil, nil, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
