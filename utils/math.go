package utils

import (
	"math"
)

// IsFinite returns whether f is neither NaN nor infinite.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// AllFinite returns whether every entry of v is finite.
func AllFinite(v []float64) bool {
	for _, f := range v {
		if !IsFinite(f) {
			return false
		}
	}
	return true
}
