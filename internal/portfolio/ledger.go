// Package portfolio keeps the realized P&L ledger: per-day and lifetime
// totals, persisted as JSON so restarts keep the loss limits honest.
package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/observ"
)

// state is the persisted document.
type state struct {
	Version   int64   `json:"version"` // bumped on every save
	Date      string  `json:"date"`    // YYYY-MM-DD the daily figures belong to
	DailyPnL  float64 `json:"daily_pnl"`
	TotalPnL  float64 `json:"total_pnl"`
	Trades    int     `json:"trades_today"`
	UpdatedAt string  `json:"updated_at"`
}

// Ledger is safe for concurrent use. New UTC days reset the daily figures
// lazily on the next access.
type Ledger struct {
	mu    sync.Mutex
	path  string
	state state
	now   func() time.Time
}

func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}
	l.state.Date = l.now().Format("2006-01-02")

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read pnl ledger: %w", err)
	}
	if err := json.Unmarshal(b, &l.state); err != nil {
		return nil, fmt.Errorf("parse pnl ledger: %w", err)
	}
	return l, nil
}

// RecordPnL books one realized result. Returns true when a new UTC day
// started, so the caller can reset per-day governance state.
func (l *Ledger) RecordPnL(amount float64) (newDay bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newDay = l.rollDayLocked()
	l.state.DailyPnL += amount
	l.state.TotalPnL += amount
	l.state.Trades++
	observ.SetGauge("pnl_daily", l.state.DailyPnL, nil)
	observ.SetGauge("pnl_total", l.state.TotalPnL, nil)
	return newDay, l.saveLocked()
}

// Losses returns the current daily and lifetime P&L, rolling the day first.
// Values are negative when losing, which is what the risk engine expects.
func (l *Ledger) Losses() (daily, total float64, newDay bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	newDay = l.rollDayLocked()
	return l.state.DailyPnL, l.state.TotalPnL, newDay
}

// TradesToday returns the number of results booked this UTC day.
func (l *Ledger) TradesToday() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	return l.state.Trades
}

func (l *Ledger) rollDayLocked() bool {
	today := l.now().Format("2006-01-02")
	if l.state.Date == today {
		return false
	}
	l.state.Date = today
	l.state.DailyPnL = 0
	l.state.Trades = 0
	return true
}

func (l *Ledger) saveLocked() error {
	l.state.Version++
	l.state.UpdatedAt = l.now().Format(time.RFC3339)
	b, err := json.MarshalIndent(&l.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pnl ledger: %w", err)
	}
	if dir := filepath.Dir(l.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write pnl ledger: %w", err)
	}
	return os.Rename(tmp, l.path)
}
