package domain

// Risk bands for display, on max PGA in g.
const (
	RiskLow      = "low"
	RiskElevated = "elevated"
	RiskHigh     = "high"
)

// RiskBand buckets a peak ground acceleration for display: below 0.1 g is
// low, below 0.3 g elevated, anything else high.
func RiskBand(maxPGA float64) string {
	switch {
	case maxPGA < 0.1:
		return RiskLow
	case maxPGA < 0.3:
		return RiskElevated
	default:
		return RiskHigh
	}
}
