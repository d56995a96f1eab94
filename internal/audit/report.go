package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ReportWriter appends one JSON object per line. It is safe for concurrent use.
type ReportWriter struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
	c   io.Closer
}

// NewReportWriter writes JSONL to w.
func NewReportWriter(w io.Writer) *ReportWriter {
	return &ReportWriter{w: w, enc: json.NewEncoder(w)}
}

// OpenReport opens path for appending, creating parent directories as needed.
func OpenReport(path string) (*ReportWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open report %s: %w", path, err)
	}
	rw := NewReportWriter(f)
	rw.c = f
	return rw, nil
}

// Write appends rec as a single line.
func (rw *ReportWriter) Write(rec *Record) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.enc.Encode(rec)
}

// Close closes the underlying file when the writer owns one.
func (rw *ReportWriter) Close() error {
	if rw.c == nil {
		return nil
	}
	return rw.c.Close()
}

// ReadReport parses a JSONL report. Blank lines are skipped.
func ReadReport(r io.Reader) ([]*Record, error) {
	var records []*Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("report line %d: %w", line, err)
		}
		records = append(records, &rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
