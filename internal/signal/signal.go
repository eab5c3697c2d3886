package signal

// Side is a resolved trade direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide maps loose direction strings onto a Side; ok is false for
// anything that is not an unambiguous BUY or SELL.
func ParseSide(raw string) (Side, bool) {
	switch Side(raw) {
	case Buy:
		return Buy, true
	case Sell:
		return Sell, true
	}
	return "", false
}

// Opposite returns the reversing side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Candidate is one model's trade proposal for the current cycle. Each model
// emits at most one per evaluation; candidates are ephemeral.
type Candidate struct {
	Model       string
	Side        Side
	Confidence  float64 // [0,100]
	Entry       float64
	Stop        float64
	RewardRisk  float64
	RiskPercent float64
}
