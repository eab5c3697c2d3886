// Package rollover detects futures contract rollover by volume crossover
// and synthesizes price-adjusted continuous series across the splice.
package rollover

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/futurekit/tradecore/internal/market"
	"github.com/futurekit/tradecore/internal/observ"
	"github.com/futurekit/tradecore/internal/symbols"
)

const (
	detectionTTL  = 15 * time.Minute
	continuousTTL = 20 * time.Second
	lookbackDays  = 5
)

// Detection is one cached rollover assessment for a root symbol.
type Detection struct {
	Symbol           string  `json:"symbol"`
	FrontContract    string  `json:"front_contract"`
	NextContract     string  `json:"next_contract"`
	ActiveContract   string  `json:"active_contract"`
	RolloverDetected bool    `json:"rollover_detected"`
	ConfirmedDays    int     `json:"rollover_confirmed_days"`
	RolloverDate     string  `json:"rollover_date"` // YYYY-MM-DD, empty if none
	AdjustmentValue  float64 `json:"adjustment_value"`
	LatestCompareDay string  `json:"latest_compare_day"`
	LatestFrontVol   float64 `json:"latest_front_volume"`
	LatestNextVol    float64 `json:"latest_next_volume"`
	VolumeRatio      float64 `json:"volume_ratio"`
}

// Series is a continuity-aware bar series plus its detection metadata.
type Series struct {
	Bars []market.Bar `json:"bars"`
	Meta SeriesMeta   `json:"meta"`
}

// SeriesMeta tags a series with its rollover context.
type SeriesMeta struct {
	Detection
	Continuous   bool `json:"continuous"`
	RolloverWeek bool `json:"rollover_week"`
}

// Status is the compact rollover view the scheduler consumes for its risk
// modifier.
type Status struct {
	Symbol           string  `json:"symbol"`
	FrontContract    string  `json:"current_front"`
	NextContract     string  `json:"next_contract"`
	ActiveContract   string  `json:"active_contract"`
	RolloverDetected bool    `json:"rollover_detected"`
	RolloverImminent bool    `json:"rollover_imminent"`
	RolloverWeek     bool    `json:"rollover_week"`
	VolumeRatio      float64 `json:"volume_ratio"`
	LatestCompareDay string  `json:"latest_compare_day"`
	AdjustmentValue  float64 `json:"adjustment_value"`
}

// Risky reports whether the scheduler should shrink risk for this root.
func (s Status) Risky() bool { return s.RolloverDetected || s.RolloverImminent }

type cachedDetection struct {
	at      time.Time
	payload Detection
}

type cachedSeries struct {
	at      time.Time
	payload Series
}

// Manager owns the contract chains, both caches and the event log.
type Manager struct {
	fetcher     *market.Fetcher
	eventLog    *EventLog
	confirmDays int
	now         func() time.Time

	mu         sync.Mutex
	chains     map[string][]string
	detections map[string]cachedDetection
	series     map[string]cachedSeries
}

func defaultChains() map[string][]string {
	return map[string][]string{
		"GC": {"GC.FUT", "GCZ6", "GCG6", "GCJ6"},
		"NQ": {"NQ.FUT", "NQZ6", "NQH7", "NQM7"},
		"YM": {"YM.FUT", "YMZ6", "YMH7", "YMM7"},
		"CL": {"CL.FUT", "CLZ6", "CLF7", "CLG7"},
		"6E": {"6E.FUT", "6EZ6", "6EH7", "6EM7"},
		"6B": {"6B.FUT", "6BZ6", "6BH7", "6BM7"},
	}
}

func NewManager(fetcher *market.Fetcher, eventLog *EventLog, confirmDays int) *Manager {
	if confirmDays < 1 {
		confirmDays = 2
	}
	return &Manager{
		fetcher:     fetcher,
		eventLog:    eventLog,
		confirmDays: confirmDays,
		now:         func() time.Time { return time.Now().UTC() },
		chains:      defaultChains(),
		detections:  map[string]cachedDetection{},
		series:      map[string]cachedSeries{},
	}
}

// ApplyChainOverride merges "GC:GC.FUT,GCZ6;NQ:NQ.FUT,NQZ6" style chains.
func (m *Manager) ApplyChainOverride(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, block := range strings.Split(raw, ";") {
		item := strings.TrimSpace(block)
		if item == "" || !strings.Contains(item, ":") {
			continue
		}
		parts := strings.SplitN(item, ":", 2)
		root := symbols.Normalize(parts[0])
		var contracts []string
		for _, c := range strings.Split(parts[1], ",") {
			if c = symbols.Normalize(c); c != "" {
				contracts = append(contracts, c)
			}
		}
		if root != "" && len(contracts) > 0 {
			m.chains[root] = contracts
		}
	}
}

type dailyStat struct {
	volume float64
	close  float64
}

// dailyStats buckets bars into UTC calendar days, summing volume and keeping
// the last close of the day.
func dailyStats(bars []market.Bar) map[string]dailyStat {
	out := map[string]dailyStat{}
	for _, b := range bars {
		day := b.Day()
		st := out[day]
		st.volume += b.Volume
		st.close = b.Close
		out[day] = st
	}
	return out
}

func (m *Manager) chainFor(root string) (front, next string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	contracts, ok := m.chains[root]
	if !ok || len(contracts) == 0 {
		return root + ".FUT", root + ".FUT"
	}
	front = contracts[0]
	next = front
	if len(contracts) > 1 {
		next = contracts[1]
	}
	return front, next
}

// Detect runs volume-crossover rollover detection for a symbol's root.
// Results are cached for 15 minutes; a fresh detection appends an
// idempotent event to the journal.
func (m *Manager) Detect(ctx context.Context, symbol string) Detection {
	root := symbols.RootOf(symbol)
	now := m.now()

	m.mu.Lock()
	if cached, ok := m.detections[root]; ok && now.Sub(cached.at) < detectionTTL {
		m.mu.Unlock()
		return cached.payload
	}
	m.mu.Unlock()

	front, next := m.chainFor(root)
	lookback := lookbackDays * 24 * 60
	frontDaily := dailyStats(m.fetcher.FetchWindow(ctx, front, lookback))
	nextDaily := dailyStats(m.fetcher.FetchWindow(ctx, next, lookback))

	var commonDays []string
	for day := range frontDaily {
		if _, ok := nextDaily[day]; ok {
			commonDays = append(commonDays, day)
		}
	}
	sort.Strings(commonDays)

	recent := commonDays
	if len(commonDays) > m.confirmDays {
		recent = commonDays[len(commonDays)-m.confirmDays:]
	}

	det := Detection{
		Symbol:        root,
		FrontContract: front,
		NextContract:  next,
	}

	// Count next-over-front volume wins across the confirm window. Every
	// qualifying day advances the rollover date and the adjustment value,
	// so the final values come from the last winning day.
	consecutive := 0
	for _, day := range recent {
		if nextDaily[day].volume > frontDaily[day].volume {
			consecutive++
			det.RolloverDate = day
			det.AdjustmentValue = nextDaily[day].close - frontDaily[day].close
		}
	}
	det.ConfirmedDays = consecutive
	det.RolloverDetected = consecutive >= m.confirmDays

	det.ActiveContract = front
	if det.RolloverDetected {
		det.ActiveContract = next
	}

	if len(commonDays) > 0 {
		latest := commonDays[len(commonDays)-1]
		det.LatestCompareDay = latest
		det.LatestFrontVol = frontDaily[latest].volume
		det.LatestNextVol = nextDaily[latest].volume
		if det.LatestFrontVol > 0 {
			det.VolumeRatio = det.LatestNextVol / det.LatestFrontVol
		}
	}

	if det.RolloverDetected && det.RolloverDate != "" && m.eventLog != nil {
		appended, err := m.eventLog.Append(Event{
			Symbol:          root,
			OldContract:     front,
			NewContract:     next,
			RolloverDate:    det.RolloverDate,
			AdjustmentValue: det.AdjustmentValue,
		})
		if err != nil {
			observ.Log("rollover_event_append_failed", map[string]any{"symbol": root, "error": err.Error()})
		} else if appended {
			observ.IncCounter("rollover_events_total", map[string]string{"symbol": root})
			observ.Log("rollover_detected", map[string]any{
				"symbol": root, "old": front, "new": next,
				"date": det.RolloverDate, "adjustment": det.AdjustmentValue,
			})
		}
	}

	m.mu.Lock()
	m.detections[root] = cachedDetection{at: now, payload: det}
	m.mu.Unlock()
	return det
}

// ContinuousOHLCV returns the continuity-aware series for a root over the
// requested minute window, cached for 20 seconds per (root, window).
func (m *Manager) ContinuousOHLCV(ctx context.Context, symbol string, minutes int) Series {
	root := symbols.RootOf(symbol)
	cacheKey := root + ":" + strconv.Itoa(minutes)
	now := m.now()

	m.mu.Lock()
	if cached, ok := m.series[cacheKey]; ok && now.Sub(cached.at) < continuousTTL {
		m.mu.Unlock()
		return cached.payload
	}
	m.mu.Unlock()

	det := m.Detect(ctx, root)
	payload := m.buildSeries(ctx, det, minutes, now)

	m.mu.Lock()
	m.series[cacheKey] = cachedSeries{at: now, payload: payload}
	m.mu.Unlock()
	return payload
}

func (m *Manager) buildSeries(ctx context.Context, det Detection, minutes int, now time.Time) Series {
	frontBars := m.fetcher.FetchWindow(ctx, det.FrontContract, minutes)
	if len(frontBars) == 0 {
		return Series{Meta: SeriesMeta{Detection: det}}
	}

	passthrough := Series{
		Bars: frontBars,
		Meta: SeriesMeta{Detection: det, Continuous: true},
	}
	if !det.RolloverDetected || det.FrontContract == det.NextContract {
		return passthrough
	}

	nextBars := m.fetcher.FetchWindow(ctx, det.NextContract, minutes)
	if len(nextBars) == 0 {
		return passthrough
	}

	combined := make([]market.Bar, 0, len(frontBars)+len(nextBars))
	for _, b := range frontBars {
		// front contributes only bars strictly before the rollover day
		if det.RolloverDate != "" && b.Day() >= det.RolloverDate {
			continue
		}
		combined = append(combined, b)
	}
	for _, b := range nextBars {
		b.Open -= det.AdjustmentValue
		b.High -= det.AdjustmentValue
		b.Low -= det.AdjustmentValue
		b.Close -= det.AdjustmentValue
		combined = append(combined, b)
	}
	sort.Slice(combined, func(i, j int) bool { return combined[i].Time.Before(combined[j].Time) })

	return Series{
		Bars: combined,
		Meta: SeriesMeta{Detection: det, Continuous: true, RolloverWeek: withinRolloverWeek(det.RolloverDate, now)},
	}
}

// withinRolloverWeek reports whether now falls inside the 8-day window
// around the rollover date.
func withinRolloverWeek(rolloverDate string, now time.Time) bool {
	if rolloverDate == "" {
		return false
	}
	rolloverAt, err := time.Parse("2006-01-02", rolloverDate)
	if err != nil {
		return false
	}
	days := now.Sub(rolloverAt).Hours() / 24
	if days < 0 {
		days = -days
	}
	return days <= 8
}

// GetStatus condenses the detection into the scheduler-facing status,
// including imminence at a 0.9 volume ratio.
func (m *Manager) GetStatus(ctx context.Context, symbol string) Status {
	det := m.Detect(ctx, symbol)
	return Status{
		Symbol:           det.Symbol,
		FrontContract:    det.FrontContract,
		NextContract:     det.NextContract,
		ActiveContract:   det.ActiveContract,
		RolloverDetected: det.RolloverDetected,
		RolloverImminent: det.VolumeRatio >= 0.9 && !det.RolloverDetected,
		RolloverWeek:     det.RolloverDetected && withinRolloverWeek(det.RolloverDate, m.now()),
		VolumeRatio:      det.VolumeRatio,
		LatestCompareDay: det.LatestCompareDay,
		AdjustmentValue:  det.AdjustmentValue,
	}
}

// History returns the recorded events for a symbol's root, newest first.
func (m *Manager) History(symbol string) []Event {
	if m.eventLog == nil {
		return nil
	}
	return m.eventLog.BySymbol(symbols.RootOf(symbol))
}
