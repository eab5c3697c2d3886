package broker

// CheckAnomaly flags venue conditions that warrant a hard reject regardless
// of signal quality: a loss streak, an absurd spread, or heavy slippage.
// Returns the anomaly label, or "" when clean.
func CheckAnomaly(lossStreak int, spread, slippage float64) string {
	switch {
	case lossStreak >= 3:
		return "loss streak anomaly"
	case spread > 40:
		return "spread anomaly"
	case slippage > 2:
		return "slippage anomaly"
	}
	return ""
}
