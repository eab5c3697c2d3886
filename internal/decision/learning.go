package decision

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/observ"
)

// Outcome is one closed trade attributed to the model that opened it.
type Outcome struct {
	Model      string    `json:"model"`
	Symbol     string    `json:"symbol"`
	SessionKey string    `json:"session_key"`
	Result     string    `json:"result"` // "win" or "loss"
	ClosedAt   time.Time `json:"closed_at"`
}

// tally is a win/loss pair keyed by model, symbol or session.
type tally struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

type learningState struct {
	ByModel   map[string]*tally `json:"by_model"`
	BySymbol  map[string]*tally `json:"by_symbol"`
	BySession map[string]*tally `json:"by_session"`
	Outcomes  []Outcome         `json:"outcomes"`
}

// LearningStore accumulates trade outcomes and persists them as a single
// JSON document. On load it replays the tallies into a Performance tracker
// so boosts survive restarts.
type LearningStore struct {
	mu    sync.Mutex
	path  string
	state learningState
}

const maxOutcomesKept = 500

// OpenLearningStore loads prior state from path, or starts empty when the
// file does not exist yet.
func OpenLearningStore(path string) (*LearningStore, error) {
	s := &LearningStore{path: path, state: learningState{
		ByModel:   map[string]*tally{},
		BySymbol:  map[string]*tally{},
		BySession: map[string]*tally{},
	}}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read learning store: %w", err)
	}
	if err := json.Unmarshal(b, &s.state); err != nil {
		return nil, fmt.Errorf("parse learning store: %w", err)
	}
	if s.state.ByModel == nil {
		s.state.ByModel = map[string]*tally{}
	}
	if s.state.BySymbol == nil {
		s.state.BySymbol = map[string]*tally{}
	}
	if s.state.BySession == nil {
		s.state.BySession = map[string]*tally{}
	}
	return s, nil
}

// Record books one outcome, updates the tallies and rewrites the file.
func (s *LearningStore) Record(o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ClosedAt.IsZero() {
		o.ClosedAt = time.Now().UTC()
	}
	bump(s.state.ByModel, o.Model, o.Result)
	bump(s.state.BySymbol, o.Symbol, o.Result)
	bump(s.state.BySession, o.SessionKey, o.Result)
	s.state.Outcomes = append(s.state.Outcomes, o)
	if len(s.state.Outcomes) > maxOutcomesKept {
		s.state.Outcomes = s.state.Outcomes[len(s.state.Outcomes)-maxOutcomesKept:]
	}
	observ.IncCounter("learning_outcomes_total", map[string]string{
		"model": o.Model, "result": o.Result,
	})
	return s.flushLocked()
}

// Seed replays the stored per-model tallies into p.
func (s *LearningStore) Seed(p *Performance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for model, t := range s.state.ByModel {
		for i := 0; i < t.Wins; i++ {
			p.Record(model, "win")
		}
		for i := 0; i < t.Losses; i++ {
			p.Record(model, "loss")
		}
	}
}

// ModelTally returns wins and losses booked for model.
func (s *LearningStore) ModelTally(model string) (wins, losses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.state.ByModel[model]; ok {
		return t.Wins, t.Losses
	}
	return 0, 0
}

func (s *LearningStore) flushLocked() error {
	b, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal learning store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create learning dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write learning store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func bump(m map[string]*tally, key, result string) {
	if key == "" {
		return
	}
	t, ok := m[key]
	if !ok {
		t = &tally{}
		m[key] = t
	}
	if result == "win" || result == "WIN" {
		t.Wins++
	} else {
		t.Losses++
	}
}
