package decision

import (
	"math"
	"path/filepath"
	"testing"
)

func TestLearningStoreRecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning.json")
	s, err := OpenLearningStore(path)
	if err != nil {
		t.Fatal(err)
	}

	outcomes := []Outcome{
		{Model: "ICEBERG", Symbol: "XAUUSD", SessionKey: "2026-03-02:LONDON", Result: "win"},
		{Model: "ICEBERG", Symbol: "XAUUSD", SessionKey: "2026-03-02:LONDON", Result: "loss"},
		{Model: "ICT_LIQUIDITY", Symbol: "NAS100", SessionKey: "2026-03-02:NY", Result: "win"},
	}
	for _, o := range outcomes {
		if err := s.Record(o); err != nil {
			t.Fatal(err)
		}
	}

	wins, losses := s.ModelTally("ICEBERG")
	if wins != 1 || losses != 1 {
		t.Fatalf("want 1/1 for ICEBERG, got %d/%d", wins, losses)
	}

	reloaded, err := OpenLearningStore(path)
	if err != nil {
		t.Fatal(err)
	}
	wins, losses = reloaded.ModelTally("ICT_LIQUIDITY")
	if wins != 1 || losses != 0 {
		t.Fatalf("reload must keep tallies, got %d/%d", wins, losses)
	}
}

func TestLearningStoreSeedsPerformance(t *testing.T) {
	s, err := OpenLearningStore(filepath.Join(t.TempDir(), "learning.json"))
	if err != nil {
		t.Fatal(err)
	}
	// 7 wins / 3 losses puts the model past the sample floor with a boost.
	for i := 0; i < 7; i++ {
		if err := s.Record(Outcome{Model: "GANN", Symbol: "US30", Result: "win"}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := s.Record(Outcome{Model: "GANN", Symbol: "US30", Result: "loss"}); err != nil {
			t.Fatal(err)
		}
	}

	p := NewPerformance()
	s.Seed(p)
	if got := p.Boost("GANN"); math.Abs(got-1.2) > 1e-9 {
		t.Fatalf("seeded 70%% winrate should boost 1.2, got %v", got)
	}
}

func TestLearningStoreTrimsOutcomeRing(t *testing.T) {
	s, err := OpenLearningStore(filepath.Join(t.TempDir(), "learning.json"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < maxOutcomesKept+25; i++ {
		if err := s.Record(Outcome{Model: "EXPANSION", Symbol: "USOIL", Result: "loss"}); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(s.state.Outcomes); got != maxOutcomesKept {
		t.Fatalf("outcome ring must cap at %d, got %d", maxOutcomesKept, got)
	}
	// Tallies keep the full count even after the ring trims.
	if _, losses := s.ModelTally("EXPANSION"); losses != maxOutcomesKept+25 {
		t.Fatalf("tallies must not trim, got %d", losses)
	}
}
