package model

import "math"

// Round2 rounds half away from zero to two decimals, the rounding used for
// every persisted score.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
