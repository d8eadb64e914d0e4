package qp

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/logging"
)

// ErrUnbounded is returned when the objective decreases without bound over the feasible set.
var ErrUnbounded = errors.New("quadratic program is unbounded")

const (
	minRho          = 1e-6
	maxRho          = 1e6
	equalityRhoRate = 1e3
	ctxCheckPeriod  = 25
	minCostScaling  = 1e-6
	maxCostScaling  = 1e15
)

// ADMMOptions tunes the ADMM solver.
type ADMMOptions struct {
	MaxIterations int
	// EpsAbs and EpsRel are the absolute and relative residual tolerances.
	EpsAbs float64
	EpsRel float64
	// EpsInfeasible is the tolerance of the infeasibility certificates.
	EpsInfeasible float64
	Rho           float64
	Sigma         float64
	// Alpha is the over-relaxation factor, in (0, 2).
	Alpha float64
	// AdaptiveRhoInterval is the number of iterations between step size updates. Zero disables them.
	AdaptiveRhoInterval int
	// Polish refines the solution by solving the KKT system of its active constraints.
	Polish bool
	// PolishRefineIterations is the number of iterative refinement steps of the polished solution.
	PolishRefineIterations int
}

// DefaultADMMOptions returns the options used by the differential IK engine.
func DefaultADMMOptions() ADMMOptions {
	return ADMMOptions{
		MaxIterations:          4000,
		EpsAbs:                 1e-7,
		EpsRel:                 1e-7,
		EpsInfeasible:          1e-6,
		Rho:                    0.1,
		Sigma:                  1e-6,
		Alpha:                  1.6,
		AdaptiveRhoInterval:    25,
		Polish:                 true,
		PolishRefineIterations: 3,
	}
}

// ADMMSolver is a dense operator splitting solver. Constraints are stacked as l ≤ Cx ≤ u with
// C = [G; A], and each iteration solves the regularized linear system
//
//	(P + σI + Cᵀ·diag(ρ)·C)·x̃ = σx - q + Cᵀ(ρ⊙z - y)
//
// with a Cholesky factorization that is reused until ρ changes. Infeasibility is detected from the
// successive differences of the iterates.
type ADMMSolver struct {
	opts   ADMMOptions
	logger logging.Logger
}

// NewADMMSolver returns an ADMM solver. Non-positive options fall back to their defaults.
func NewADMMSolver(opts ADMMOptions, logger logging.Logger) *ADMMSolver {
	def := DefaultADMMOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.EpsAbs <= 0 {
		opts.EpsAbs = def.EpsAbs
	}
	if opts.EpsRel <= 0 {
		opts.EpsRel = def.EpsRel
	}
	if opts.EpsInfeasible <= 0 {
		opts.EpsInfeasible = def.EpsInfeasible
	}
	if opts.Rho <= 0 {
		opts.Rho = def.Rho
	}
	if opts.Sigma <= 0 {
		opts.Sigma = def.Sigma
	}
	if opts.Alpha <= 0 || opts.Alpha >= 2 {
		opts.Alpha = def.Alpha
	}
	if opts.PolishRefineIterations < 0 {
		opts.PolishRefineIterations = def.PolishRefineIterations
	}
	return &ADMMSolver{opts: opts, logger: logger}
}

func (s *ADMMSolver) String() string {
	return fmt.Sprintf("admm(max_iterations=%d, eps_abs=%g, eps_rel=%g, polish=%v)",
		s.opts.MaxIterations, s.opts.EpsAbs, s.opts.EpsRel, s.opts.Polish)
}

// constraints is the stacked form l ≤ Cx ≤ u of a problem.
type constraints struct {
	c     *mat.Dense
	l, u  []float64
	numEq int
}

func stack(p *Problem) constraints {
	mi, me := p.NumInequalities(), p.NumEqualities()
	m := mi + me
	if m == 0 {
		return constraints{}
	}
	st := constraints{c: mat.NewDense(m, p.Dim(), nil), l: make([]float64, m), u: make([]float64, m), numEq: me}
	if mi > 0 {
		st.c.Slice(0, mi, 0, p.Dim()).(*mat.Dense).Copy(p.G)
		for i, h := range p.H {
			st.l[i] = math.Inf(-1)
			st.u[i] = h
		}
	}
	if me > 0 {
		st.c.Slice(mi, m, 0, p.Dim()).(*mat.Dense).Copy(p.A)
		copy(st.l[mi:], p.B)
		copy(st.u[mi:], p.B)
	}
	return st
}

func (st constraints) isEquality(i int) bool {
	return st.l[i] == st.u[i]
}

// Solve solves p. It returns an error wrapping ErrInfeasible or ErrUnbounded when a certificate is found,
// and the last iterate with an error wrapping ErrMaxIterations when the tolerances were not reached.
//
// The iterations run on a copy of p whose cost is scaled to unit size, so the tolerances stay meaningful
// for nearly flat costs. Only the multipliers depend on that scale; the solution does not.
func (s *ADMMSolver) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	scaled, costScale := scaleCost(p)
	s.logger.Debugw("ADMM cost scaling", "scale", costScale)
	sol, err := s.solve(ctx, scaled)
	if sol != nil {
		sol.Objective = p.Objective(sol.X)
	}
	return sol, err
}

// scaleCost returns a copy of p with its cost multiplied by c = 1/max(mean column ∞-norm of P, ‖q‖∞),
// clamped to [minCostScaling, maxCostScaling], and c itself. A zero cost is left unscaled. The constraints
// are shared with p.
func scaleCost(p *Problem) (*Problem, float64) {
	n := p.Dim()
	colNorm := 0.
	for j := 0; j < n; j++ {
		worst := 0.
		for i := 0; i < n; i++ {
			worst = math.Max(worst, math.Abs(p.P.At(i, j)))
		}
		colNorm += worst
	}
	size := math.Max(colNorm/float64(n), floats.Norm(p.Q, math.Inf(1)))
	if size == 0 {
		return p, 1
	}
	c := math.Min(math.Max(1/size, minCostScaling), maxCostScaling)
	pc := mat.NewSymDense(n, nil)
	pc.ScaleSym(c, p.P)
	qc := make([]float64, n)
	floats.ScaleTo(qc, c, p.Q)
	return &Problem{P: pc, Q: qc, G: p.G, H: p.H, A: p.A, B: p.B}, c
}

// solve runs ADMM on a validated problem.
func (s *ADMMSolver) solve(ctx context.Context, p *Problem) (*Solution, error) {
	st := stack(p)
	if st.c == nil {
		return s.solveUnconstrained(ctx, p)
	}

	n, m := p.Dim(), len(st.l)
	o := s.opts
	rhoScalar := o.Rho
	rho := make([]float64, m)
	setRho := func() {
		for i := range rho {
			rho[i] = rhoScalar
			if st.isEquality(i) {
				rho[i] = math.Min(rhoScalar*equalityRhoRate, maxRho)
			}
		}
	}
	var chol mat.Cholesky
	factor := func() error {
		setRho()
		k := mat.NewSymDense(n, nil)
		scaled := mat.DenseCopyOf(st.c)
		for i := 0; i < m; i++ {
			row := scaled.RawRowView(i)
			floats.Scale(rho[i], row)
		}
		var ctc mat.Dense
		ctc.Mul(st.c.T(), scaled)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := p.P.At(i, j) + ctc.At(i, j)
				if i == j {
					v += o.Sigma
				}
				k.SetSym(i, j, v)
			}
		}
		if !chol.Factorize(k) {
			return errors.New("ADMM linear system is not positive definite")
		}
		return nil
	}
	if err := factor(); err != nil {
		return nil, err
	}

	x := make([]float64, n)
	z := make([]float64, m)
	y := make([]float64, m)
	var (
		xt, rhs, cx, px, cty, dual mat.VecDense
		cdy, pdx, cdx              mat.VecDense
		rPrim, rDual               float64
	)
	zt := make([]float64, m)
	zNew := make([]float64, m)
	dy := make([]float64, m)
	dx := make([]float64, n)
	tmp := make([]float64, m)

	for iter := 1; iter <= o.MaxIterations; iter++ {
		if iter%ctxCheckPeriod == 1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		// x̃ = K⁻¹(σx - q + Cᵀ(ρ⊙z - y))
		for i := range tmp {
			tmp[i] = rho[i]*z[i] - y[i]
		}
		rhs.MulVec(st.c.T(), mat.NewVecDense(m, tmp))
		for i := 0; i < n; i++ {
			rhs.SetVec(i, rhs.AtVec(i)+o.Sigma*x[i]-p.Q[i])
		}
		if err := chol.SolveVecTo(&xt, &rhs); err != nil {
			return nil, errors.Wrap(err, "ADMM linear solve")
		}
		ztv := mat.NewVecDense(m, zt)
		ztv.MulVec(st.c, &xt)

		for i := 0; i < n; i++ {
			next := o.Alpha*xt.AtVec(i) + (1-o.Alpha)*x[i]
			dx[i] = next - x[i]
			x[i] = next
		}
		for i := 0; i < m; i++ {
			relaxed := o.Alpha*zt[i] + (1-o.Alpha)*z[i]
			zNew[i] = math.Min(math.Max(relaxed+y[i]/rho[i], st.l[i]), st.u[i])
			next := y[i] + rho[i]*(relaxed-zNew[i])
			dy[i] = next - y[i]
			y[i] = next
		}
		copy(z, zNew)

		// residuals
		xv := mat.NewVecDense(n, x)
		cx.MulVec(st.c, xv)
		px.MulVec(p.P, xv)
		cty.MulVec(st.c.T(), mat.NewVecDense(m, y))
		rPrim = 0
		for i := 0; i < m; i++ {
			rPrim = math.Max(rPrim, math.Abs(cx.AtVec(i)-z[i]))
		}
		dual.AddVec(&px, &cty)
		rDual = 0
		for i := 0; i < n; i++ {
			rDual = math.Max(rDual, math.Abs(dual.AtVec(i)+p.Q[i]))
		}
		primScale := math.Max(vecNormInf(&cx), floats.Norm(z, math.Inf(1)))
		dualScale := math.Max(math.Max(vecNormInf(&px), vecNormInf(&cty)), floats.Norm(p.Q, math.Inf(1)))
		if rPrim <= o.EpsAbs+o.EpsRel*primScale && rDual <= o.EpsAbs+o.EpsRel*dualScale {
			return s.finish(p, st, x, z, y, iter), nil
		}

		if normDy := floats.Norm(dy, math.Inf(1)); normDy > 0 {
			cdy.MulVec(st.c.T(), mat.NewVecDense(m, dy))
			if vecNormInf(&cdy) <= o.EpsInfeasible*normDy && supportValue(st, dy, o.EpsInfeasible*normDy) < -o.EpsInfeasible*normDy {
				s.logger.Debugw("primal infeasibility certificate", "iterations", iter)
				return nil, errors.Wrapf(ErrInfeasible, "certificate after %d iterations", iter)
			}
		}
		if normDx := floats.Norm(dx, math.Inf(1)); normDx > 0 {
			dxv := mat.NewVecDense(n, dx)
			pdx.MulVec(p.P, dxv)
			cdx.MulVec(st.c, dxv)
			tol := o.EpsInfeasible * normDx
			if vecNormInf(&pdx) <= tol && floats.Dot(p.Q, dx) < -tol && recessionFeasible(st, &cdx, tol) {
				return nil, errors.Wrapf(ErrUnbounded, "certificate after %d iterations", iter)
			}
		}

		if o.AdaptiveRhoInterval > 0 && iter%o.AdaptiveRhoInterval == 0 {
			num := rPrim / math.Max(primScale, 1e-12)
			den := rDual / math.Max(dualScale, 1e-12)
			next := rhoScalar * math.Sqrt(num/math.Max(den, 1e-12))
			next = math.Min(math.Max(next, minRho), maxRho)
			if next > 5*rhoScalar || next < 0.2*rhoScalar {
				rhoScalar = next
				if err := factor(); err != nil {
					return nil, err
				}
			}
		}
	}
	s.logger.Debugw("ADMM did not converge", "iterations", o.MaxIterations, "primal_residual", rPrim, "dual_residual", rDual)
	return &Solution{X: x, Objective: p.Objective(x), Iterations: o.MaxIterations},
		errors.Wrapf(ErrMaxIterations, "%d iterations, primal residual %g, dual residual %g", o.MaxIterations, rPrim, rDual)
}

// finish polishes a converged iterate when enabled.
func (s *ADMMSolver) finish(p *Problem, st constraints, x, z, y []float64, iter int) *Solution {
	sol := &Solution{X: x, Objective: p.Objective(x), Iterations: iter}
	if !s.opts.Polish {
		return sol
	}
	polished, ok := s.polish(p, st, x, z, y)
	if ok {
		sol.X = polished
		sol.Objective = p.Objective(polished)
		sol.Polished = true
	}
	s.logger.Debugw("ADMM converged", "iterations", iter, "polished", ok)
	return sol
}

// solveUnconstrained minimizes ½xᵀPx + qᵀx, directly when P is definite and by proximal point iterations
// (P + σI)x_{k+1} = σx_k - q otherwise.
func (s *ADMMSolver) solveUnconstrained(ctx context.Context, p *Problem) (*Solution, error) {
	n := p.Dim()
	negQ := mat.NewVecDense(n, nil)
	negQ.ScaleVec(-1, mat.NewVecDense(n, p.Q))

	var chol mat.Cholesky
	if chol.Factorize(p.P) {
		var x mat.VecDense
		if err := chol.SolveVecTo(&x, negQ); err == nil {
			sol := append([]float64(nil), x.RawVector().Data...)
			return &Solution{X: sol, Objective: p.Objective(sol), Polished: true}, nil
		}
	}

	k := mat.NewSymDense(n, nil)
	k.CopySym(p.P)
	for i := 0; i < n; i++ {
		k.SetSym(i, i, k.At(i, i)+s.opts.Sigma)
	}
	if !chol.Factorize(k) {
		return nil, errors.New("regularized cost matrix is not positive definite")
	}
	x := mat.NewVecDense(n, nil)
	var rhs, grad mat.VecDense
	tol := s.opts.EpsAbs + s.opts.EpsRel*floats.Norm(p.Q, math.Inf(1))
	for iter := 1; iter <= s.opts.MaxIterations; iter++ {
		if iter%ctxCheckPeriod == 1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rhs.ScaleVec(s.opts.Sigma, x)
		rhs.AddVec(&rhs, negQ)
		if err := chol.SolveVecTo(x, &rhs); err != nil {
			return nil, errors.Wrap(err, "proximal step")
		}
		grad.MulVec(p.P, x)
		grad.SubVec(&grad, negQ)
		if vecNormInf(&grad) <= tol {
			sol := append([]float64(nil), x.RawVector().Data...)
			return &Solution{X: sol, Objective: p.Objective(sol), Iterations: iter}, nil
		}
	}
	sol := append([]float64(nil), x.RawVector().Data...)
	return &Solution{X: sol, Objective: p.Objective(sol), Iterations: s.opts.MaxIterations},
		errors.Wrap(ErrMaxIterations, "unconstrained problem; the cost may be unbounded below")
}

// supportValue returns uᵀmax(δy, 0) + lᵀmin(δy, 0), ignoring entries smaller than tol in magnitude. It is
// +Inf when a significant entry meets an infinite bound.
func supportValue(st constraints, dy []float64, tol float64) float64 {
	sum := 0.
	for i, d := range dy {
		switch {
		case d > tol:
			if math.IsInf(st.u[i], 1) {
				return math.Inf(1)
			}
			sum += st.u[i] * d
		case d < -tol:
			if math.IsInf(st.l[i], -1) {
				return math.Inf(1)
			}
			sum += st.l[i] * d
		}
	}
	return sum
}

// recessionFeasible reports whether direction δx keeps every constraint satisfied: (Cδx)_i ≤ tol for
// inequalities and |(Cδx)_i| ≤ tol for equalities.
func recessionFeasible(st constraints, cdx *mat.VecDense, tol float64) bool {
	for i := range st.l {
		v := cdx.AtVec(i)
		if v > tol && !math.IsInf(st.u[i], 1) {
			return false
		}
		if v < -tol && !math.IsInf(st.l[i], -1) {
			return false
		}
	}
	return true
}

func vecNormInf(v *mat.VecDense) float64 {
	worst := 0.
	for i := 0; i < v.Len(); i++ {
		worst = math.Max(worst, math.Abs(v.AtVec(i)))
	}
	return worst
}
