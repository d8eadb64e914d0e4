package utils

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestFinite(t *testing.T) {
	test.That(t, IsFinite(1), test.ShouldBeTrue)
	test.That(t, IsFinite(math.NaN()), test.ShouldBeFalse)
	test.That(t, IsFinite(math.Inf(-1)), test.ShouldBeFalse)
	test.That(t, AllFinite([]float64{1, 2, 3}), test.ShouldBeTrue)
	test.That(t, AllFinite([]float64{1, math.Inf(1)}), test.ShouldBeFalse)
	test.That(t, AllFinite(nil), test.ShouldBeTrue)
}
