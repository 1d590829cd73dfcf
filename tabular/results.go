package tabular

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/theimaginaryfoundation/chat-tagger/sentiment"
)

// ResultRecord is one line of the results JSONL file.
type ResultRecord struct {
	RunID     string                `json:"run_id"`
	Batch     string                `json:"batch"`
	RequestID string                `json:"request_id"`
	MessageID string                `json:"message_id"`
	Label     string                `json:"label"`
	Sentiment string                `json:"sentiment"`
	Reason    string                `json:"reason"`
	Success   bool                  `json:"success"`
	Failure   sentiment.FailureKind `json:"failure,omitempty"`
	Attempts  int                   `json:"attempts"`
}

func newRecord(runID, batch string, r sentiment.Result) ResultRecord {
	return ResultRecord{
		RunID:     runID,
		Batch:     batch,
		RequestID: r.RequestID,
		MessageID: r.MessageID,
		Label:     r.Label,
		Sentiment: r.Code,
		Reason:    r.Reason,
		Success:   r.Success,
		Failure:   r.Failure,
		Attempts:  r.Attempts,
	}
}

// Result converts the record back. A success with an unknown code is reported as an
// error.
func (rec ResultRecord) Result() (sentiment.Result, error) {
	r := sentiment.Result{
		RequestID: rec.RequestID,
		MessageID: rec.MessageID,
		Label:     rec.Label,
		Code:      rec.Sentiment,
		Reason:    rec.Reason,
		Success:   rec.Success,
		Failure:   rec.Failure,
		Attempts:  rec.Attempts,
	}
	if r.Success {
		s, err := sentiment.ParseSentiment(r.Code)
		if err != nil {
			return sentiment.Result{}, err
		}
		r.Sentiment = s
	}
	return r, nil
}

// ResultsWriter appends sentiment results to a JSONL file, one line per result. It is
// safe for concurrent use.
type ResultsWriter struct {
	mu    sync.Mutex
	f     *os.File
	w     *bufio.Writer
	runID string
}

// OpenResults opens path for appending, creating it if needed. Each line is tagged with
// runID.
func OpenResults(path, runID string) (*ResultsWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &ResultsWriter{f: f, w: bufio.NewWriterSize(f, 1<<16), runID: runID}, nil
}

func (rw *ResultsWriter) Write(batch string, r sentiment.Result) error {
	b, err := json.Marshal(newRecord(rw.runID, batch, r))
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if _, err := rw.w.Write(b); err != nil {
		return err
	}
	return rw.w.WriteByte('\n')
}

// Flush writes buffered lines to disk.
func (rw *ResultsWriter) Flush() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.w.Flush()
}

func (rw *ResultsWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if err := rw.w.Flush(); err != nil {
		_ = rw.f.Close()
		return err
	}
	return rw.f.Close()
}

// ReadResults loads a results JSONL file keyed by batch and pair. Later lines win. A
// missing file yields an empty map; malformed lines are counted and skipped.
func ReadResults(path string) (map[string]map[sentiment.PairKey]sentiment.Result, int, error) {
	out := make(map[string]map[sentiment.PairKey]sentiment.Result)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ResultRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		res, err := rec.Result()
		if err != nil {
			skipped++
			continue
		}
		m := out[rec.Batch]
		if m == nil {
			m = make(map[sentiment.PairKey]sentiment.Result)
			out[rec.Batch] = m
		}
		m[sentiment.PairKey{MessageID: rec.MessageID, Label: rec.Label}] = res
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, skipped, nil
}
