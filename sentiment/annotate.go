package sentiment

import (
	"strings"

	"github.com/theimaginaryfoundation/chat-tagger/tagging"
)

// FailureMarker is written in place of a sentiment code when a tagged pair failed.
const FailureMarker = "ERROR"

// CellState distinguishes the three kinds of output cell.
type CellState int

const (
	// CellNotApplicable marks a pair that was not tagged and never sent to the model.
	CellNotApplicable CellState = iota
	CellJudged
	CellFailed
)

// Cell is the annotated value of one (message, label) pair.
type Cell struct {
	State     CellState
	Sentiment Sentiment
	Reason    string
}

// Value is the table form of the cell: "", P/N/I, or FailureMarker.
func (c Cell) Value() string {
	switch c.State {
	case CellJudged:
		return c.Sentiment.Code()
	case CellFailed:
		return FailureMarker
	default:
		return ""
	}
}

// Annotations holds one Cell per (message, label) of a TagMatrix.
type Annotations struct {
	labels     []string
	messageIDs []string
	rows       map[string]int
	cols       map[string]int
	cells      [][]Cell // [message][label]
}

// Annotate joins results back onto the tagged pairs of m. Results for untagged pairs are
// ignored; tagged pairs without a result are marked failed.
func Annotate(m *tagging.TagMatrix, results []Result) *Annotations {
	a := &Annotations{
		labels:     m.Labels(),
		messageIDs: m.MessageIDs(),
		rows:       make(map[string]int),
		cols:       make(map[string]int),
	}
	for i, id := range a.messageIDs {
		if _, dup := a.rows[id]; !dup {
			a.rows[id] = i
		}
	}
	for j, l := range a.labels {
		a.cols[l] = j
	}
	a.cells = make([][]Cell, len(a.messageIDs))
	for i := range a.cells {
		a.cells[i] = make([]Cell, len(a.labels))
	}

	byPair := make(map[PairKey]Result, len(results))
	for _, r := range results {
		byPair[PairKey{MessageID: r.MessageID, Label: r.Label}] = r
	}

	for _, p := range m.Pairs() {
		c := &a.cells[p.MessageIndex][a.cols[p.Label]]
		r, ok := byPair[PairKey{MessageID: p.MessageID, Label: p.Label}]
		switch {
		case !ok:
			c.State = CellFailed
			c.Reason = "no result"
		case r.Success:
			c.State = CellJudged
			c.Sentiment = r.Sentiment
			c.Reason = r.Reason
		default:
			c.State = CellFailed
			c.Reason = r.Reason
		}
	}
	return a
}

// PairKey identifies a (message, label) pair.
type PairKey struct {
	MessageID string
	Label     string
}

func (a *Annotations) Labels() []string     { return append([]string(nil), a.labels...) }
func (a *Annotations) MessageIDs() []string { return append([]string(nil), a.messageIDs...) }

// Cell returns the annotation of a pair; unknown pairs are not applicable.
func (a *Annotations) Cell(messageID, label string) Cell {
	i, ok := a.rows[messageID]
	if !ok {
		return Cell{}
	}
	j, ok := a.cols[label]
	if !ok {
		return Cell{}
	}
	return a.cells[i][j]
}

// Row returns the cells of the message at index i in label order.
func (a *Annotations) Row(i int) []Cell {
	return append([]Cell(nil), a.cells[i]...)
}

// Reason accumulates "<label>: <reason>\n" for every judged or failed cell of the
// message at index i, in label order.
func (a *Annotations) Reason(i int) string {
	var b strings.Builder
	for j, c := range a.cells[i] {
		if c.State == CellNotApplicable {
			continue
		}
		b.WriteString(a.labels[j])
		b.WriteString(": ")
		b.WriteString(c.Reason)
		b.WriteByte('\n')
	}
	return b.String()
}
