package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"

	"github.com/theimaginaryfoundation/chat-tagger/sentiment"
	"github.com/theimaginaryfoundation/chat-tagger/tagging"
)

// OutputPath returns <outDir>/<batch>.csv.
func OutputPath(outDir, batch string) string {
	return filepath.Join(outDir, batch+".csv")
}

// Sheet is one rendered output table, named after its batch.
type Sheet struct {
	Name    string
	Header  []string
	Records [][]string
}

// WriteAnnotated writes t with one column per label holding P, N, I, the failure marker
// or nothing, followed by the accumulated Reason column. Rows of t must be the messages
// that produced a, in the same order. The rendered sheet is returned for WriteWorkbook.
func WriteAnnotated(path string, t *Table, a *sentiment.Annotations) (Sheet, error) {
	labels := a.Labels()
	if len(a.MessageIDs()) != len(t.Rows) {
		return Sheet{}, fmt.Errorf("write %s: %d annotated messages for %d rows", path, len(a.MessageIDs()), len(t.Rows))
	}
	s := render(t, append(labels, ReasonColumn), func(i int) []string {
		cells := a.Row(i)
		out := make([]string, 0, len(cells)+1)
		for _, c := range cells {
			out = append(out, c.Value())
		}
		return append(out, a.Reason(i))
	})
	return s, writeCSV(path, s)
}

// WriteTagged writes t with one column per label holding "1" for tagged pairs.
func WriteTagged(path string, t *Table, m *tagging.TagMatrix) (Sheet, error) {
	labels := m.Labels()
	ids := m.MessageIDs()
	if len(ids) != len(t.Rows) {
		return Sheet{}, fmt.Errorf("write %s: %d tagged messages for %d rows", path, len(ids), len(t.Rows))
	}
	s := render(t, labels, func(i int) []string {
		out := make([]string, len(labels))
		for j, l := range labels {
			if m.Get(ids[i], l) {
				out[j] = "1"
			}
		}
		return out
	})
	return s, writeCSV(path, s)
}

// render lays out t plus extra columns. Input columns that collide with an extra column
// are replaced by it.
func render(t *Table, extra []string, extraRow func(i int) []string) Sheet {
	replaced := make(map[string]bool, len(extra))
	for _, c := range extra {
		replaced[c] = true
	}
	var keep []int
	header := make([]string, 0, len(t.Columns)+len(extra))
	for i, c := range t.Columns {
		if replaced[c] {
			continue
		}
		keep = append(keep, i)
		header = append(header, c)
	}
	header = append(header, extra...)

	records := make([][]string, 0, len(t.Rows))
	for i, row := range t.Rows {
		rec := make([]string, 0, len(header))
		for _, k := range keep {
			rec = append(rec, row[k])
		}
		records = append(records, append(rec, extraRow(i)...))
	}
	return Sheet{Name: t.Name, Header: header, Records: records}
}

func writeCSV(path string, s Sheet) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(s.Header); err != nil {
		return err
	}
	if err := w.WriteAll(s.Records); err != nil {
		return fmt.Errorf("render csv: %w", err)
	}
	if err := WriteFileAtomicSameDir(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
