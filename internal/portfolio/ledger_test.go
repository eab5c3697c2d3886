package portfolio

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLedgerAccumulatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pnl.json")
	l, err := OpenLedger(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := l.RecordPnL(-120); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecordPnL(300); err != nil {
		t.Fatal(err)
	}
	daily, total, _ := l.Losses()
	if daily != 180 || total != 180 {
		t.Fatalf("want 180/180, got %v/%v", daily, total)
	}
	if l.TradesToday() != 2 {
		t.Fatalf("want 2 trades today, got %d", l.TradesToday())
	}

	// A reopened ledger carries the same figures.
	reopened, err := OpenLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	daily, total, _ = reopened.Losses()
	if daily != 180 || total != 180 {
		t.Fatalf("reopened: want 180/180, got %v/%v", daily, total)
	}
}

func TestLedgerRollsDailyFigures(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "pnl.json"))
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day }
	l.state.Date = day.Format("2006-01-02")

	if newDay, _ := l.RecordPnL(-500); newDay {
		t.Fatal("same day must not report a rollover")
	}

	day = day.Add(24 * time.Hour)
	newDay, err := l.RecordPnL(-40)
	if err != nil {
		t.Fatal(err)
	}
	if !newDay {
		t.Fatal("next UTC day must report a rollover")
	}
	daily, total, _ := l.Losses()
	if daily != -40 || total != -540 {
		t.Fatalf("daily resets, total carries: want -40/-540, got %v/%v", daily, total)
	}
	if l.TradesToday() != 1 {
		t.Fatalf("trade count resets with the day, got %d", l.TradesToday())
	}
}

func TestLedgerRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pnl.json")
	if _, err := OpenLedger(path); err != nil {
		t.Fatalf("missing file is a fresh ledger: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenLedger(path); err == nil {
		t.Fatal("corrupt ledger must fail open")
	}
}
