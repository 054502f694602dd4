package session

import (
	"math"
	"time"
)

// Delay returns the wait before reconnect attempt n (1-based):
// initial*multiplier^(n-1), capped at max. Attempts below 1 count as 1.
func Delay(attempt uint32, initial time.Duration, multiplier float64, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(max) {
		return max
	}
	return time.Duration(d)
}
