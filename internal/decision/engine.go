// Package decision ranks model candidates into an executable order.
package decision

import (
	"sort"

	"github.com/futurekit/tradecore/internal/signal"
)

// Ranked is a candidate annotated with its score breakdown.
type Ranked struct {
	signal.Candidate
	AIScore          float64
	ModelWeight      float64
	PerformanceBoost float64
}

// Engine scores candidates with static per-model weights and the rolling
// performance boost.
type Engine struct {
	weights     map[string]float64
	performance *Performance
}

func NewEngine(performance *Performance) *Engine {
	if performance == nil {
		performance = NewPerformance()
	}
	return &Engine{
		weights: map[string]float64{
			signal.ModelLiquidity:  1.2,
			signal.ModelAbsorption: 1.1,
			signal.ModelCycle:      1.0,
			signal.ModelNews:       0.9,
			signal.ModelExpansion:  1.0,
		},
		performance: performance,
	}
}

// Performance exposes the shared tally store for result recording.
func (e *Engine) Performance() *Performance { return e.performance }

// Rank scores and orders candidates descending by ai_score. Ties keep the
// original model evaluation order (stable sort). Empty in, empty out.
func (e *Engine) Rank(candidates []signal.Candidate) []Ranked {
	if len(candidates) == 0 {
		return nil
	}

	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		weight, ok := e.weights[c.Model]
		if !ok {
			weight = 1.0
		}
		boost := e.performance.Boost(c.Model)
		out = append(out, Ranked{
			Candidate:        c,
			AIScore:          c.Confidence * weight * boost * c.RewardRisk,
			ModelWeight:      weight,
			PerformanceBoost: boost,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].AIScore > out[j].AIScore })
	return out
}

// Evaluate returns the top-ranked candidate, or false when none fired.
func (e *Engine) Evaluate(candidates []signal.Candidate) (Ranked, bool) {
	ranked := e.Rank(candidates)
	if len(ranked) == 0 {
		return Ranked{}, false
	}
	return ranked[0], true
}
