//go:build !windows && !no_cgo

package qp

import (
	"context"
	"fmt"
	"math"

	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/logging"
)

const defaultNloptMaxEval = 2000

// NloptSolver solves quadratic programs with NLopt's SLSQP. It has no infeasibility certificate: a result
// still violating the constraints by more than Tolerance is reported as infeasible.
type NloptSolver struct {
	maxEval   int
	tolerance float64
	logger    logging.Logger
}

// NewNloptSolver returns an SLSQP solver. maxEval below 1 is set to the default of 2000.
func NewNloptSolver(maxEval int, tolerance float64, logger logging.Logger) (*NloptSolver, error) {
	if maxEval < 1 {
		maxEval = defaultNloptMaxEval
	}
	if tolerance <= 0 {
		tolerance = 1e-7
	}
	return &NloptSolver{maxEval: maxEval, tolerance: tolerance, logger: logger}, nil
}

func (s *NloptSolver) String() string {
	return fmt.Sprintf("nlopt(slsqp, max_eval=%d, tolerance=%g)", s.maxEval, s.tolerance)
}

type nloptResult struct {
	x   []float64
	f   float64
	err error
}

// Solve solves p starting from the origin.
func (s *NloptSolver) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := p.Dim()
	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(n))
	if err != nil {
		return nil, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	evals := 0
	objective := func(x, gradient []float64) float64 {
		evals++
		xv := mat.NewVecDense(n, x)
		var px mat.VecDense
		px.MulVec(p.P, xv)
		f := 0.
		for i := 0; i < n; i++ {
			f += x[i] * (0.5*px.AtVec(i) + p.Q[i])
		}
		for i := range gradient {
			gradient[i] = px.AtVec(i) + p.Q[i]
		}
		return f
	}
	err = multierr.Combine(
		opt.SetMinObjective(objective),
		opt.SetXtolRel(1e-12),
		opt.SetFtolAbs(1e-16),
		opt.SetMaxEval(s.maxEval),
	)

	// rows bounded by +Inf constrain nothing
	var rows []int
	for i, h := range p.H {
		if !math.IsInf(h, 1) {
			rows = append(rows, i)
		}
	}
	if len(rows) > 0 {
		tol := make([]float64, len(rows))
		for i := range tol {
			tol[i] = s.tolerance / 10
		}
		err = multierr.Combine(err, opt.AddInequalityMConstraint(linearConstraint(p.G, p.H, rows, n), tol))
	}
	if me := p.NumEqualities(); me > 0 {
		all := make([]int, me)
		tol := make([]float64, me)
		for i := range all {
			all[i] = i
			tol[i] = s.tolerance / 10
		}
		err = multierr.Combine(err, opt.AddEqualityMConstraint(linearConstraint(p.A, p.B, all, n), tol))
	}
	if err != nil {
		return nil, errors.Wrap(err, "nlopt setup")
	}

	done := make(chan nloptResult, 1)
	utils.PanicCapturingGo(func() {
		x, f, err := opt.Optimize(make([]float64, n))
		done <- nloptResult{x, f, err}
	})
	var res nloptResult
	select {
	case <-ctx.Done():
		err := opt.ForceStop()
		<-done
		return nil, multierr.Combine(ctx.Err(), err)
	case res = <-done:
	}

	if res.x == nil {
		return nil, errors.Wrap(res.err, "nlopt returned no solution")
	}
	if v := p.MaxViolation(res.x); v > s.tolerance {
		s.logger.Debugw("nlopt result violates constraints", "violation", v, "error", res.err)
		return nil, errors.Wrapf(ErrInfeasible, "best point found violates the constraints by %g", v)
	}
	if res.err != nil {
		// SLSQP stops on roundoff once it cannot improve; a feasible point is still usable
		s.logger.Debugw("nlopt finished with an error", "error", res.err)
	}
	return &Solution{X: res.x, Objective: p.Objective(res.x), Iterations: evals}, nil
}

// linearConstraint returns the NLopt form result_i = (M·x - v)_i over the given rows, with the row-major
// Jacobian M[rows].
func linearConstraint(m *mat.Dense, v []float64, rows []int, n int) nlopt.Mfunc {
	return func(result, x, gradient []float64) {
		for r, row := range rows {
			sum := -v[row]
			for j := 0; j < n; j++ {
				sum += m.At(row, j) * x[j]
				if len(gradient) > 0 {
					gradient[r*n+j] = m.At(row, j)
				}
			}
			result[r] = sum
		}
	}
}
