package broker

import (
	"context"
	"math"
	"time"
)

// NewsStatus is what the external status source reports for a symbol.
type NewsStatus struct {
	TradeHalt  bool
	HighImpact bool
}

// NewsSource is the abstract news/status collaborator. Errors are treated
// as "no lock": the guardian fails open on news, while feed health fails
// closed.
type NewsSource interface {
	GetNewsStatus(ctx context.Context, symbol string) (NewsStatus, error)
}

// VenueProbe is the small slice of the execution backend the guardian
// needs: an instantaneous spread read and two price reads for the
// short-horizon volatility check.
type VenueProbe interface {
	CurrentSpread(ctx context.Context) (float64, bool)
	CurrentPrice(ctx context.Context) (float64, bool)
}

// Guardian runs the last-line checks against the live venue just before an
// order goes out.
type Guardian struct {
	probe       VenueProbe
	news        NewsSource
	volThresh   float64
	volInterval time.Duration
	sleep       func(time.Duration)
}

func NewGuardian(probe VenueProbe, news NewsSource) *Guardian {
	return &Guardian{
		probe:       probe,
		news:        news,
		volThresh:   0.5,
		volInterval: time.Second,
		sleep:       time.Sleep,
	}
}

// SpreadAllowed blocks when the venue spread is unreadable or above the
// ceiling. Unknown spread blocks: we never trade blind. With no probe wired
// the check is off and passes.
func (g *Guardian) SpreadAllowed(ctx context.Context, maxSpread float64) bool {
	if g.probe == nil {
		return true
	}
	spread, ok := g.probe.CurrentSpread(ctx)
	if !ok {
		return false
	}
	return spread <= maxSpread
}

// NewsClear blocks during a trade halt or high-impact window. Source
// errors clear the check.
func (g *Guardian) NewsClear(ctx context.Context, symbol string) bool {
	if g.news == nil {
		return true
	}
	status, err := g.news.GetNewsStatus(ctx, symbol)
	if err != nil {
		return true
	}
	return !status.TradeHalt && !status.HighImpact
}

// VolatilityCalm samples the venue price twice over a short horizon and
// blocks when the move exceeds the threshold. Unreadable prices pass: the
// feed-health gate already owns that failure mode.
func (g *Guardian) VolatilityCalm(ctx context.Context) bool {
	if g.probe == nil {
		return true
	}
	first, ok := g.probe.CurrentPrice(ctx)
	if !ok {
		return true
	}
	g.sleep(g.volInterval)
	second, ok := g.probe.CurrentPrice(ctx)
	if !ok {
		return true
	}
	return math.Abs(second-first) <= g.volThresh
}
