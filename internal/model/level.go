package model

import "math"

// XPPerLevelUnit is the divisor of the level curve.
const XPPerLevelUnit = 100

// LevelForXP returns floor(sqrt(xp/100)) + 1. Non-positive XP is level 1.
func LevelForXP(xp int64) int {
	if xp <= 0 {
		return 1
	}
	n := xp / XPPerLevelUnit
	r := int64(math.Sqrt(float64(n)))
	// correct float rounding at perfect squares
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return int(r) + 1
}
