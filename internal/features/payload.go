// Package features derives the per-cycle feature payload consumed by the
// signal models. A payload is a snapshot: rebuilt from scratch on every
// evaluation, never persisted, never shared across symbols.
package features

import (
	"math"

	"github.com/futurekit/tradecore/internal/market"
)

// Analysis carries the upstream per-symbol engine outputs the extractor
// folds into the payload. Producers are external collaborators; zero values
// mean "engine had nothing to say".
type Analysis struct {
	OrderflowDelta     float64
	OrderflowImbalance float64
	Absorption         bool
	AbsorptionPrice    float64
	AbsorptionType     string // "BUY_ABSORPTION" | "SELL_ABSORPTION" | ""
	StructureBreak     bool   // break of structure confirmed upstream
	FVGPresent         bool
	FVGPrice           float64
	CycleScore         float64
	CycleLevel50       float64
	DivergenceScore    float64
	Regime             string // e.g. "EXPANSION", "COMPRESSION"
	Confidence         float64
	Direction          string // fused direction hint, "BUY"/"SELL" or ""
	TradeHalt          bool
	HighImpactNews     bool
}

// Payload is the flattened per-evaluation feature snapshot.
type Payload struct {
	LiquiditySweep  bool
	StructureBreak  bool
	FVG             bool
	Confidence      float64
	Direction       string
	Price           float64
	FVGLow          float64
	FVGHigh         float64
	Absorption      bool
	Delta           float64
	VolumeSpike     bool
	HighImpactNews  bool
	AbsorptionLevel float64
	CycleHit        bool
	AngleRespected  bool
	Divergence      bool
	SwingLow        float64
	SwingHigh       float64
	RangeBreak      bool
	VolumeExpansion bool
	Spread          float64
	ATR             float64
	TrendStructure  bool
	EMAAligned      bool
	Pullback50      bool
	Momentum        bool
	LastHL          float64
	LastLH          float64
}

// Build computes the payload from normalized bars plus upstream analysis.
// The second return is false when there are not enough bars to say anything.
func Build(bars []market.Bar, analysis Analysis, maxSpread float64) (Payload, bool) {
	if len(bars) == 0 {
		return Payload{}, false
	}

	latest := bars[len(bars)-1]
	previous := latest
	if len(bars) >= 2 {
		previous = bars[len(bars)-2]
	}

	recent := bars
	if len(bars) > 20 {
		recent = bars[len(bars)-20:]
	}

	highs := make([]float64, len(recent))
	lows := make([]float64, len(recent))
	closes := make([]float64, len(recent))
	volumes := make([]float64, len(recent))
	for i, b := range recent {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	avgVolume := mean(volumes)
	volumeSpike := avgVolume > 0 && volumes[len(volumes)-1] > avgVolume*1.5
	rangeHigh := maxOf(highs)
	rangeLow := minOf(lows)

	direction := analysis.Direction
	if direction != "BUY" && direction != "SELL" {
		if latest.Close >= latest.Open {
			direction = "BUY"
		} else {
			direction = "SELL"
		}
	}

	atr := trueRangeAverage(recent)
	emaFast := tailMean(closes, 9)
	emaSlow := tailMean(closes, 21)

	swingLow := minOf(tail(lows, 5))
	swingHigh := maxOf(tail(highs, 5))
	lastHL := minOf(tail(lows, 3))
	lastLH := maxOf(tail(highs, 3))

	midpoint := latest.Close
	if rangeHigh+rangeLow != 0 {
		midpoint = (rangeHigh + rangeLow) / 2
	}
	pullback50 := math.Abs(latest.Close-midpoint) <= math.Max(0.5, atr)

	fvgPrice := analysis.FVGPrice
	if !analysis.FVGPresent || fvgPrice == 0 {
		fvgPrice = latest.Close
	}

	absorptionLevel := analysis.AbsorptionPrice
	if absorptionLevel == 0 {
		absorptionLevel = latest.Close
	}

	cycleHit := analysis.CycleScore >= 20
	level50 := analysis.CycleLevel50
	if level50 == 0 {
		level50 = latest.Close
	}
	angleRespected := latest.Close >= level50
	if direction == "SELL" {
		angleRespected = latest.Close <= level50
	}

	trendStructure := latest.High >= previous.High && latest.Low >= previous.Low
	emaAligned := emaFast >= emaSlow
	if direction == "SELL" {
		trendStructure = latest.High <= previous.High && latest.Low <= previous.Low
		emaAligned = emaFast <= emaSlow
	}

	return Payload{
		LiquiditySweep:  latest.High >= rangeHigh || latest.Low <= rangeLow,
		StructureBreak:  analysis.StructureBreak,
		FVG:             analysis.FVGPresent,
		Confidence:      analysis.Confidence,
		Direction:       direction,
		Price:           latest.Close,
		FVGLow:          math.Min(fvgPrice, latest.Low),
		FVGHigh:         math.Max(fvgPrice, latest.High),
		Absorption:      analysis.Absorption,
		Delta:           analysis.OrderflowDelta,
		VolumeSpike:     volumeSpike || analysis.OrderflowImbalance != 0,
		HighImpactNews:  analysis.TradeHalt || analysis.HighImpactNews,
		AbsorptionLevel: absorptionLevel,
		CycleHit:        cycleHit,
		AngleRespected:  angleRespected,
		Divergence:      analysis.DivergenceScore > 0,
		SwingLow:        swingLow,
		SwingHigh:       swingHigh,
		RangeBreak:      latest.High > previous.High || latest.Low < previous.Low,
		VolumeExpansion: volumeSpike,
		Spread:          maxSpread,
		ATR:             atr,
		TrendStructure:  trendStructure,
		EMAAligned:      emaAligned,
		Pullback50:      pullback50,
		Momentum:        math.Abs(analysis.OrderflowDelta) > 100,
		LastHL:          lastHL,
		LastLH:          lastLH,
	}, true
}

// trueRangeAverage is ATR over the last 14 true ranges of the window.
func trueRangeAverage(bars []market.Bar) float64 {
	if len(bars) == 0 {
		return 1.0
	}
	trs := make([]float64, 0, len(bars))
	for i, b := range bars {
		prevClose := b.Open
		if i > 0 {
			prevClose = bars[i-1].Close
		}
		tr := math.Max(b.High-b.Low, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
		trs = append(trs, tr)
	}
	window := trs
	if len(trs) > 14 {
		window = trs[len(trs)-14:]
	}
	atr := mean(window)
	if atr <= 0 {
		last := bars[len(bars)-1]
		return math.Max(1.0, last.High-last.Low)
	}
	return atr
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func tailMean(values []float64, n int) float64 {
	return mean(tail(values, n))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out
}
