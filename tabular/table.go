// Package tabular reads rule sheets and chat exports and writes annotated tables.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/theimaginaryfoundation/chat-tagger/tagging"
)

const (
	// SourceColumn holds the file name each chat row came from.
	SourceColumn = "Source"
	// ReasonColumn holds the accumulated sentiment reasons of a row.
	ReasonColumn = "Reason"
	// DefaultBodyColumn is the message text column of WhatsApp exports.
	DefaultBodyColumn = "messageBody"
)

// Table is a batch of chat rows. Columns is the union of every input file's header in
// first-seen order, led by SourceColumn. IDs are stable per row: the file path relative
// to the batch root, slash-separated, then "#n".
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
	IDs     []string
}

// Column returns the index of name, or -1.
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Messages turns every row into a tagging.Message read from bodyColumn. Rows with an
// empty body are kept so that output rows line up with input rows.
func (t *Table) Messages(bodyColumn string) ([]tagging.Message, error) {
	col := t.Column(bodyColumn)
	if col < 0 {
		return nil, fmt.Errorf("batch %s: missing body column %q", t.Name, bodyColumn)
	}
	msgs := make([]tagging.Message, len(t.Rows))
	for i, row := range t.Rows {
		msgs[i] = tagging.Message{ID: t.IDs[i], Body: row[col]}
	}
	return msgs, nil
}

// ReadBatch reads and combines the CSV files of b.
func ReadBatch(b Batch) (*Table, error) {
	t := &Table{Name: b.Name, Columns: []string{SourceColumn}}
	index := map[string]int{SourceColumn: 0}

	for _, path := range b.Files {
		header, rows, err := readCSV(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		source := filepath.Base(path)
		idPrefix := fileID(b.Root, path)
		cols := make([]int, len(header))
		for i, h := range header {
			if h == SourceColumn {
				cols[i] = -1
				continue
			}
			j, ok := index[h]
			if !ok {
				j = len(t.Columns)
				index[h] = j
				t.Columns = append(t.Columns, h)
			}
			cols[i] = j
		}
		for n, rec := range rows {
			row := make([]string, len(t.Columns))
			row[0] = source
			for i, v := range rec {
				if i < len(cols) && cols[i] >= 0 {
					row[cols[i]] = v
				}
			}
			t.Rows = append(t.Rows, row)
			t.IDs = append(t.IDs, idPrefix+"#"+strconv.Itoa(n+1))
		}
	}

	// Rows read before later files added columns are shorter; pad them.
	for i, row := range t.Rows {
		if len(row) < len(t.Columns) {
			t.Rows[i] = append(row, make([]string, len(t.Columns)-len(row))...)
		}
	}
	return t, nil
}

// fileID names path relative to root, or by its base name when it is not under root.
func fileID(root, path string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("read csv row: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}
