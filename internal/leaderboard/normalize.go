package leaderboard

import "math"

// MaxScore is the upper bound a stored score may take
const MaxScore = 1_000_000_000

// Normalize converts a raw client-reported score into a safe bounded integer.
// The value is floored, non-finite and negative input becomes 0, and anything
// above MaxScore clamps to MaxScore. It is total: no input fails.
//
// The score is advisory display data on top of a verified payment; it only
// needs to be boundable, not trustworthy.
func Normalize(raw float64) int64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}
	f := math.Floor(raw)
	if f <= 0 {
		return 0
	}
	if f >= MaxScore {
		return MaxScore
	}
	return int64(f)
}
