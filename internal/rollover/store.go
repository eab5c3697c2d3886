package rollover

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is one recorded rollover: the volume-leadership flip from the old
// contract to the new one on a given day. The (Symbol, OldContract,
// NewContract, RolloverDate) tuple is the idempotency key.
type Event struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	OldContract     string    `json:"old_contract"`
	NewContract     string    `json:"new_contract"`
	RolloverDate    string    `json:"rollover_date"` // YYYY-MM-DD
	AdjustmentValue float64   `json:"adjustment_value"`
	RecordedAt      time.Time `json:"recorded_at"`
}

func (e Event) key() string {
	return e.Symbol + "|" + e.OldContract + "|" + e.NewContract + "|" + e.RolloverDate
}

// EventLog is the durable append-only rollover journal: one JSON line per
// event, loaded fully at open. Duplicate keys are dropped at append time,
// so re-detecting the same rollover is a no-op.
type EventLog struct {
	mu     sync.Mutex
	path   string
	events []Event
	seen   map[string]bool
}

func OpenEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	log := &EventLog{path: path, seen: map[string]bool{}}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return log, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			// a torn trailing line must not poison the whole journal
			continue
		}
		if log.seen[ev.key()] {
			continue
		}
		log.seen[ev.key()] = true
		log.events = append(log.events, ev)
	}
	return log, scanner.Err()
}

// Append records the event unless its key was already recorded. Returns
// true when a new line was written.
func (l *EventLog) Append(ev Event) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen[ev.key()] {
		return false, nil
	}
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return false, err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return false, err
	}

	l.seen[ev.key()] = true
	l.events = append(l.events, ev)
	return true, nil
}

// BySymbol returns the events for one root, newest rollover date first.
func (l *EventLog) BySymbol(symbol string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, ev := range l.events {
		if ev.Symbol == symbol {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RolloverDate > out[j].RolloverDate })
	return out
}

// All returns a copy of every recorded event.
func (l *EventLog) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
