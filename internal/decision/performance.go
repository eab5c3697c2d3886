package decision

import "sync"

// minSample is the outcome count below which a model's winrate is treated
// as noise and the boost stays neutral.
const minSample = 10

// Performance tracks rolling win/loss tallies per model. Mutated only by
// trade-result recording; read by the ranking path.
type Performance struct {
	mu      sync.RWMutex
	history map[string]*record
}

type record struct {
	Wins   int
	Losses int
}

func NewPerformance() *Performance {
	return &Performance{history: map[string]*record{}}
}

// Record registers one outcome ("win" counts as a win, anything else as a
// loss, matching how exits are reported).
func (p *Performance) Record(model, result string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.history[model]
	if !ok {
		r = &record{}
		p.history[model] = r
	}
	if result == "win" || result == "WIN" {
		r.Wins++
	} else {
		r.Losses++
	}
}

// Boost returns the performance multiplier for a model: neutral until the
// sample floor is met, then 1+(winrate−0.5), i.e. [0.5, 1.5].
func (p *Performance) Boost(model string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.history[model]
	if !ok {
		return 1.0
	}
	total := r.Wins + r.Losses
	if total < minSample {
		return 1.0
	}
	winrate := float64(r.Wins) / float64(total)
	return 1 + (winrate - 0.5)
}

// Stats returns a copy of the tallies for status snapshots.
func (p *Performance) Stats() map[string]struct{ Wins, Losses int } {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]struct{ Wins, Losses int }, len(p.history))
	for model, r := range p.history {
		out[model] = struct{ Wins, Losses int }{r.Wins, r.Losses}
	}
	return out
}
