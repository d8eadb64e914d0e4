// Package qp defines dense convex quadratic programs
//
//	minimize    ½xᵀPx + qᵀx
//	subject to  Gx ≤ h
//	            Ax = b
//
// and the solvers used to compute differential IK steps.
package qp

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/utils"
)

var (
	// ErrInfeasible is returned when the constraints of a problem admit no solution.
	ErrInfeasible = errors.New("quadratic program is infeasible")
	// ErrMaxIterations is returned when a solver ran out of iterations before converging.
	ErrMaxIterations = errors.New("quadratic program solver reached its iteration limit")
)

// IsInfeasible returns whether err reports an infeasible problem.
func IsInfeasible(err error) bool {
	return errors.Is(err, ErrInfeasible)
}

// Problem is a dense quadratic program. G and H are nil when there are no inequalities, A and B when there
// are no equalities. P must be positive semi-definite.
type Problem struct {
	P *mat.SymDense
	Q []float64
	G *mat.Dense
	H []float64
	A *mat.Dense
	B []float64
}

// Dim returns the number of variables.
func (p *Problem) Dim() int {
	return len(p.Q)
}

// NumInequalities returns the number of rows of G.
func (p *Problem) NumInequalities() int {
	return len(p.H)
}

// NumEqualities returns the number of rows of A.
func (p *Problem) NumEqualities() int {
	return len(p.B)
}

// Validate checks dimensions and that every entry is a number. Bounds in H may be +Inf.
func (p *Problem) Validate() error {
	n := len(p.Q)
	if n == 0 {
		return errors.New("quadratic program has no variables")
	}
	if p.P == nil || p.P.SymmetricDim() != n {
		return errors.Errorf("cost matrix must be %d×%d", n, n)
	}
	if !utils.AllFinite(p.Q) || !matrixFinite(p.P) {
		return errors.New("cost is not finite")
	}
	check := func(name string, m *mat.Dense, v []float64) error {
		if m == nil {
			if len(v) != 0 {
				return errors.Errorf("%s bound given without a matrix", name)
			}
			return nil
		}
		r, c := m.Dims()
		if c != n || r != len(v) {
			return errors.Errorf("%s constraints are %d×%d with %d bounds, want %d columns", name, r, c, len(v), n)
		}
		if !matrixFinite(m) {
			return errors.Errorf("%s constraint matrix is not finite", name)
		}
		return nil
	}
	if err := check("inequality", p.G, p.H); err != nil {
		return err
	}
	if err := check("equality", p.A, p.B); err != nil {
		return err
	}
	for _, v := range p.H {
		if math.IsNaN(v) || math.IsInf(v, -1) {
			return errors.Errorf("inequality bound %v admits nothing", v)
		}
	}
	if !utils.AllFinite(p.B) {
		return errors.New("equality bound is not finite")
	}
	return nil
}

// Objective returns ½xᵀPx + qᵀx.
func (p *Problem) Objective(x []float64) float64 {
	xv := mat.NewVecDense(len(x), x)
	return 0.5*mat.Inner(xv, p.P, xv) + floats.Dot(p.Q, x)
}

// MaxViolation returns the largest constraint violation of x.
func (p *Problem) MaxViolation(x []float64) float64 {
	worst := 0.
	xv := mat.NewVecDense(len(x), x)
	if p.G != nil {
		var gx mat.VecDense
		gx.MulVec(p.G, xv)
		for i, h := range p.H {
			worst = math.Max(worst, gx.AtVec(i)-h)
		}
	}
	if p.A != nil {
		var ax mat.VecDense
		ax.MulVec(p.A, xv)
		for i, b := range p.B {
			worst = math.Max(worst, math.Abs(ax.AtVec(i)-b))
		}
	}
	return worst
}

// Solution is the result of a solve.
type Solution struct {
	X          []float64
	Objective  float64
	Iterations int
	// Polished is set when the solution was refined by solving the KKT system of its active set.
	Polished bool
}

// Solver solves quadratic programs.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (*Solution, error)
	String() string
}

func matrixFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !utils.IsFinite(m.At(i, j)) {
				return false
			}
		}
	}
	return true
}
