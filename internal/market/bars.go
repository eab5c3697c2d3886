package market

import (
	"sort"
	"time"
)

// Bar is one normalized OHLCV bar. Times are always UTC.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Day returns the UTC calendar day the bar belongs to, as "YYYY-MM-DD".
func (b Bar) Day() string {
	return b.Time.UTC().Format("2006-01-02")
}

// Normalize returns bars sorted ascending by time with duplicate timestamps
// collapsed to the latest value and negative volumes clamped to zero.
// The input slice is not modified.
func Normalize(bars []Bar) []Bar {
	if len(bars) == 0 {
		return nil
	}

	byTime := make(map[int64]Bar, len(bars))
	for _, b := range bars {
		if b.Time.IsZero() {
			continue
		}
		if b.Volume < 0 {
			b.Volume = 0
		}
		b.Time = b.Time.UTC()
		// later entries win for the same timestamp
		byTime[b.Time.UnixNano()] = b
	}

	out := make([]Bar, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// LatestAge returns the age of the newest bar relative to now.
// The second return is false when there are no usable bars.
func LatestAge(bars []Bar, now time.Time) (time.Duration, bool) {
	if len(bars) == 0 {
		return 0, false
	}
	latest := bars[len(bars)-1].Time
	if latest.IsZero() {
		return 0, false
	}
	return now.Sub(latest), true
}

// IsStale reports whether the newest bar is older than limit. Missing or
// unreadable timestamps count as stale: no data is never fresh data.
func IsStale(bars []Bar, now time.Time, limit time.Duration) bool {
	age, ok := LatestAge(bars, now)
	if !ok {
		return true
	}
	return age > limit
}
