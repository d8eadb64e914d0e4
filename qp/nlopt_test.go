//go:build !windows && !no_cgo

package qp

import (
	"context"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/logging"
)

func TestNloptSolver(t *testing.T) {
	s, err := NewNloptSolver(0, 0, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.String(), test.ShouldContainSubstring, "slsqp")

	g, h := box([]float64{-1, -1, -1}, []float64{1, 1, 1})
	sol, err := s.Solve(context.Background(), &Problem{
		P: identity(3), Q: []float64{-2, 0.5, -0.3}, G: g, H: h,
	})
	test.That(t, err, test.ShouldBeNil)
	for i, want := range []float64{1, -0.5, 0.3} {
		test.That(t, sol.X[i], test.ShouldAlmostEqual, want, 1e-5)
	}

	sol, err = s.Solve(context.Background(), &Problem{
		P: identity(2), Q: []float64{0, 0},
		A: mat.NewDense(1, 2, []float64{1, 1}), B: []float64{1},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.X[0], test.ShouldAlmostEqual, 0.5, 1e-5)
	test.That(t, sol.X[1], test.ShouldAlmostEqual, 0.5, 1e-5)

	_, err = s.Solve(context.Background(), &Problem{
		P: identity(1), Q: []float64{0},
		G: mat.NewDense(2, 1, []float64{1, -1}), H: []float64{-1, -1},
	})
	test.That(t, IsInfeasible(err), test.ShouldBeTrue)
}
