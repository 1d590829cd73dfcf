package sentiment

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/theimaginaryfoundation/chat-tagger/tagging"
)

// Summary describes one pipeline run.
type Summary struct {
	Messages           int           `json:"messages"`
	Labels             int           `json:"labels"`
	TaggedPairs        int           `json:"tagged_pairs"`
	Reused             int           `json:"reused"`
	Dispatched         int           `json:"dispatched"`
	Judged             int           `json:"judged"`
	Failed             int           `json:"failed"`
	TransportFailures  int           `json:"transport_failures"`
	ValidationFailures int           `json:"validation_failures"`
	Cancelled          int           `json:"cancelled"`
	Calls              int64         `json:"calls"`
	PeakInFlight       int64         `json:"peak_in_flight"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Outcome is everything a run produced.
type Outcome struct {
	Matrix      *tagging.TagMatrix
	Results     []Result
	Annotations *Annotations
	Summary     Summary
}

// Pipeline tags a batch, judges every tagged pair and joins the results back.
type Pipeline struct {
	rules      *tagging.RuleSet
	prompts    *PromptBuilder
	dispatcher *Dispatcher
	log        zerolog.Logger
}

func NewPipeline(rules *tagging.RuleSet, prompts *PromptBuilder, d *Dispatcher, log zerolog.Logger) (*Pipeline, error) {
	if rules == nil {
		return nil, errors.New("pipeline: rule set is nil")
	}
	if prompts == nil {
		return nil, errors.New("pipeline: prompt builder is nil")
	}
	if d == nil {
		return nil, errors.New("pipeline: dispatcher is nil")
	}
	return &Pipeline{
		rules:      rules,
		prompts:    prompts,
		dispatcher: d,
		log:        log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Run processes one batch. Successful results in prior are reused instead of being sent
// to the model again.
func (p *Pipeline) Run(ctx context.Context, messages []tagging.Message, prior map[PairKey]Result) Outcome {
	start := time.Now()
	before := p.dispatcher.Stats()

	m := tagging.Tag(messages, p.rules)
	pairs := m.Pairs()

	var (
		results []Result
		reqs    []Request
	)
	for _, pair := range pairs {
		if r, ok := prior[PairKey{MessageID: pair.MessageID, Label: pair.Label}]; ok && r.Success {
			results = append(results, r)
			continue
		}
		reqs = append(reqs, NewRequest(p.prompts, pair.Label, messages[pair.MessageIndex]))
	}
	reused := len(results)

	p.log.Info().
		Int("messages", len(messages)).
		Int("tagged_pairs", len(pairs)).
		Int("reused", reused).
		Int("to_dispatch", len(reqs)).
		Msg("batch tagged")

	results = append(results, p.dispatcher.Run(ctx, reqs)...)
	after := p.dispatcher.Stats()

	s := Summary{
		Messages:     len(messages),
		Labels:       len(m.Labels()),
		TaggedPairs:  len(pairs),
		Reused:       reused,
		Dispatched:   len(reqs),
		Calls:        after.Calls - before.Calls,
		PeakInFlight: after.PeakInFlight,
	}
	for _, r := range results {
		if r.Success {
			s.Judged++
			continue
		}
		s.Failed++
		switch r.Failure {
		case FailureTransport:
			s.TransportFailures++
		case FailureValidation:
			s.ValidationFailures++
		case FailureCancelled:
			s.Cancelled++
		}
	}
	s.Elapsed = time.Since(start)

	return Outcome{
		Matrix:      m,
		Results:     results,
		Annotations: Annotate(m, results),
		Summary:     s,
	}
}
