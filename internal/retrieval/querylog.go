package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"docrag/internal/logger"
)

const (
	ModeSearch = "search"
	ModeAnswer = "answer"
)

// QueryRecord is one line of the query log.
type QueryRecord struct {
	Time          time.Time `json:"time"`
	Mode          string    `json:"mode"`
	Query         string    `json:"query"`
	DocumentSet   string    `json:"document_set,omitempty"`
	Chunks        int       `json:"chunks"`
	Documents     int       `json:"documents"`
	LatencyMs     int64     `json:"latency_ms"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// QueryLog writes QueryRecords as JSON lines. Safe for concurrent use.
type QueryLog struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
}

func NewQueryLog(w io.Writer) *QueryLog {
	return &QueryLog{enc: json.NewEncoder(w)}
}

// OpenQueryLog appends to the file at path, creating it and its parent
// directory when missing.
func OpenQueryLog(path string) (*QueryLog, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path comes from configuration
	if err != nil {
		return nil, err
	}
	l := NewQueryLog(f)
	l.c = f
	return l, nil
}

// Record stamps rec with the time, latency since started and the context's
// correlation id, then writes it. A nil log drops the record.
func (l *QueryLog) Record(ctx context.Context, started time.Time, rec QueryRecord, err error) {
	if l == nil {
		return
	}
	rec.Time = time.Now().UTC()
	rec.LatencyMs = time.Since(started).Milliseconds()
	rec.CorrelationID = logger.CorrelationID(ctx)
	if err != nil {
		rec.Error = err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if werr := l.enc.Encode(rec); werr != nil {
		slog.WarnContext(ctx, "failed to write query log", "error", werr)
	}
}

func (l *QueryLog) Close() error {
	if l == nil || l.c == nil {
		return nil
	}
	return l.c.Close()
}
