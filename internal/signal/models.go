package signal

import (
	"github.com/futurekit/tradecore/internal/features"
)

// Model is one rule evaluator: a pure function from the feature payload to
// an optional candidate. Models never touch shared state.
type Model interface {
	Name() string
	Generate(p features.Payload) (Candidate, bool)
}

// Model names. These double as keys into weight, performance and session-cap
// tables, so they must stay stable.
const (
	ModelLiquidity  = "ICT_LIQUIDITY"
	ModelAbsorption = "ICEBERG"
	ModelCycle      = "GANN"
	ModelNews       = "NEWS_BREAKOUT"
	ModelExpansion  = "EXPANSION"
)

// LiquidityModel: sweep + structure break + fair value gap, stop at the far
// side of the gap.
type LiquidityModel struct{}

func (LiquidityModel) Name() string { return ModelLiquidity }

func (LiquidityModel) Generate(p features.Payload) (Candidate, bool) {
	if !(p.LiquiditySweep && p.StructureBreak && p.FVG && p.Confidence >= 70) {
		return Candidate{}, false
	}
	side, ok := ParseSide(p.Direction)
	if !ok {
		return Candidate{}, false
	}
	stop := p.FVGLow
	if side == Sell {
		stop = p.FVGHigh
	}
	return Candidate{
		Model:       ModelLiquidity,
		Side:        side,
		Confidence:  p.Confidence,
		Entry:       p.Price,
		Stop:        stop,
		RewardRisk:  3,
		RiskPercent: 0.5,
	}, true
}

// AbsorptionModel: iceberg absorption with strong positive delta and a
// volume spike, stop a fixed offset past the absorption level. Stands down
// around high-impact news.
type AbsorptionModel struct{}

func (AbsorptionModel) Name() string { return ModelAbsorption }

func (AbsorptionModel) Generate(p features.Payload) (Candidate, bool) {
	if !(p.Absorption && p.Delta > 1500 && p.VolumeSpike && !p.HighImpactNews) {
		return Candidate{}, false
	}
	side, ok := ParseSide(p.Direction)
	if !ok {
		return Candidate{}, false
	}
	stop := p.AbsorptionLevel - 5
	if side == Sell {
		stop = p.AbsorptionLevel + 5
	}
	return Candidate{
		Model:       ModelAbsorption,
		Side:        side,
		Confidence:  p.Confidence,
		Entry:       p.Price,
		Stop:        stop,
		RewardRisk:  2.5,
		RiskPercent: 0.4,
	}, true
}

// CycleModel: cycle hit + respected angle + divergence, stop at the recent
// swing extreme.
type CycleModel struct{}

func (CycleModel) Name() string { return ModelCycle }

func (CycleModel) Generate(p features.Payload) (Candidate, bool) {
	if !(p.CycleHit && p.AngleRespected && p.Divergence) {
		return Candidate{}, false
	}
	side, ok := ParseSide(p.Direction)
	if !ok {
		return Candidate{}, false
	}
	stop := p.SwingLow
	if side == Sell {
		stop = p.SwingHigh
	}
	return Candidate{
		Model:       ModelCycle,
		Side:        side,
		Confidence:  p.Confidence,
		Entry:       p.Price,
		Stop:        stop,
		RewardRisk:  2,
		RiskPercent: 0.5,
	}, true
}

// NewsModel: high-impact news breakout with expanding volume and a sane
// spread, stop half an ATR from entry.
type NewsModel struct{}

func (NewsModel) Name() string { return ModelNews }

func (NewsModel) Generate(p features.Payload) (Candidate, bool) {
	if !(p.HighImpactNews && p.RangeBreak && p.VolumeExpansion && p.Spread < 30) {
		return Candidate{}, false
	}
	side, ok := ParseSide(p.Direction)
	if !ok {
		return Candidate{}, false
	}
	halfATR := 5.0
	if p.ATR > 0 {
		halfATR = p.ATR / 2
	}
	stop := p.Price - halfATR
	if side == Sell {
		stop = p.Price + halfATR
	}
	return Candidate{
		Model:       ModelNews,
		Side:        side,
		Confidence:  p.Confidence,
		Entry:       p.Price,
		Stop:        stop,
		RewardRisk:  1.8,
		RiskPercent: 0.3,
	}, true
}

// ExpansionModel: trend continuation on an aligned EMA stack and a 50%
// pullback with momentum, stop at the last higher-low / lower-high.
type ExpansionModel struct{}

func (ExpansionModel) Name() string { return ModelExpansion }

func (ExpansionModel) Generate(p features.Payload) (Candidate, bool) {
	if !(p.TrendStructure && p.EMAAligned && p.Pullback50 && p.Momentum) {
		return Candidate{}, false
	}
	side, ok := ParseSide(p.Direction)
	if !ok {
		return Candidate{}, false
	}
	stop := p.LastHL
	if side == Sell {
		stop = p.LastLH
	}
	return Candidate{
		Model:       ModelExpansion,
		Side:        side,
		Confidence:  p.Confidence,
		Entry:       p.Price,
		Stop:        stop,
		RewardRisk:  2.5,
		RiskPercent: 0.4,
	}, true
}

// Registry holds the fixed, ordered model set. Evaluation order is the
// tie-break for equal scores downstream, so the order here is part of the
// contract.
type Registry struct {
	models []Model
}

func NewRegistry() *Registry {
	return &Registry{models: []Model{
		LiquidityModel{},
		AbsorptionModel{},
		CycleModel{},
		NewsModel{},
		ExpansionModel{},
	}}
}

// Evaluate runs every model against the payload and collects the candidates
// that fire, in registration order.
func (r *Registry) Evaluate(p features.Payload) []Candidate {
	var out []Candidate
	for _, m := range r.models {
		if c, ok := m.Generate(p); ok {
			out = append(out, c)
		}
	}
	return out
}

// ExitReason is returned when a fresh candidate opposes the active side.
type ExitReason struct {
	Model  string
	Reason string
}

// EvaluateExit scans candidates for one opposing the currently active side.
func EvaluateExit(candidates []Candidate, activeSide Side) (ExitReason, bool) {
	if activeSide != Buy && activeSide != Sell {
		return ExitReason{}, false
	}
	for _, c := range candidates {
		if c.Side != activeSide {
			return ExitReason{Model: c.Model, Reason: "opposite model signal"}, true
		}
	}
	return ExitReason{}, false
}
