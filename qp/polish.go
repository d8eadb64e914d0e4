package qp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const polishDelta = 1e-9

// polish guesses the active set from an ADMM iterate and solves the equality constrained problem on it:
//
//	[P + δI   Caᵀ] [x]   [-q]
//	[Ca      -δI ] [y] = [ba]
//
// followed by iterative refinement against the unregularized system. The result is kept only when it is
// feasible and its inequality multipliers are non-negative.
func (s *ADMMSolver) polish(p *Problem, st constraints, x, z, y []float64) ([]float64, bool) {
	n := p.Dim()
	var active []int
	for i := range st.l {
		if st.isEquality(i) || st.u[i]-z[i] < y[i] {
			active = append(active, i)
		}
	}
	k := len(active)
	size := n + k

	kkt := func(delta float64) *mat.Dense {
		m := mat.NewDense(size, size, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				m.Set(i, j, p.P.At(i, j))
			}
			m.Set(i, i, m.At(i, i)+delta)
		}
		for r, row := range active {
			for j := 0; j < n; j++ {
				v := st.c.At(row, j)
				m.Set(n+r, j, v)
				m.Set(j, n+r, v)
			}
			m.Set(n+r, n+r, -delta)
		}
		return m
	}
	rhs := mat.NewVecDense(size, nil)
	for i := 0; i < n; i++ {
		rhs.SetVec(i, -p.Q[i])
	}
	for r, row := range active {
		rhs.SetVec(n+r, st.u[row])
	}

	var lu mat.LU
	lu.Factorize(kkt(polishDelta))
	if math.IsInf(lu.Cond(), 1) {
		return nil, false
	}
	var sol mat.VecDense
	if err := lu.SolveVecTo(&sol, false, rhs); err != nil {
		return nil, false
	}
	exact := kkt(0)
	var residual, correction mat.VecDense
	for i := 0; i < s.opts.PolishRefineIterations; i++ {
		residual.MulVec(exact, &sol)
		residual.SubVec(rhs, &residual)
		if err := lu.SolveVecTo(&correction, false, &residual); err != nil {
			return nil, false
		}
		sol.AddVec(&sol, &correction)
	}

	candidate := make([]float64, n)
	for i := range candidate {
		candidate[i] = sol.AtVec(i)
		if math.IsNaN(candidate[i]) || math.IsInf(candidate[i], 0) {
			return nil, false
		}
	}
	for r, row := range active {
		if !st.isEquality(row) && sol.AtVec(n+r) < -s.opts.EpsAbs {
			return nil, false
		}
	}
	tol := math.Max(p.MaxViolation(x), s.opts.EpsAbs)
	if p.MaxViolation(candidate) > tol {
		return nil, false
	}
	return candidate, true
}
