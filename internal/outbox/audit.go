// Package outbox persists trade audit records to append-only JSONL files.
// Each executed trade gets one line; the file survives process restarts and
// is the source of truth for post-hoc review.
package outbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/futurekit/tradecore/internal/observ"
)

// TradeRecord is one audited trade attempt. Rejected trades are recorded
// too, with Executed=false and the gate reason.
type TradeRecord struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	ExecSymbol  string    `json:"exec_symbol"`
	Model       string    `json:"model"`
	Side        string    `json:"side"`
	Entry       float64   `json:"entry"`
	Stop        float64   `json:"stop"`
	Lot         float64   `json:"lot"`
	Confidence  float64   `json:"confidence"`
	AIScore     float64   `json:"ai_score"`
	SessionKey  string    `json:"session_key"`
	Executed    bool      `json:"executed"`
	Reason      string    `json:"reason,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// AuditLog appends trade records to a JSONL file. Safe for concurrent use.
type AuditLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenAuditLog opens (creating if needed) the audit file at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &AuditLog{path: path, f: f}, nil
}

// Append writes rec as one JSON line. An empty ID is filled in; RecordedAt
// is stamped if zero. Returns the record ID.
func (a *AuditLog) Append(rec TradeRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal trade record: %w", err)
	}
	if _, err := a.f.Write(append(b, '\n')); err != nil {
		return "", fmt.Errorf("append trade record: %w", err)
	}
	observ.IncCounter("audit_records_total", map[string]string{
		"executed": fmt.Sprintf("%t", rec.Executed),
	})
	return rec.ID, nil
}

// Close flushes and closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}

// ReadAll loads every parseable record from the file at path. Torn trailing
// lines from a crashed writer are skipped.
func ReadAll(path string) ([]TradeRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []TradeRecord
	start := 0
	for i := 0; i <= len(b); i++ {
		if i == len(b) || b[i] == '\n' {
			line := b[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var rec TradeRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}
