// Package barriers implements control barrier functions. A barrier describes a safe set {q : h(q) ≥ 0} and
// contributes the linear inequality ∂h/∂q·Δq ≥ -gain·α(h) to the differential IK problem, which bounds how
// fast any margin may shrink during one cycle.
package barriers

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/kinematics"
)

// ErrZeroDimension is returned when a barrier would constrain nothing.
var ErrZeroDimension = errors.New("barrier has no dimension")

// Barrier is a control barrier function of the differential IK problem.
type Barrier interface {
	// Dim returns the number of barrier coordinates.
	Dim() int
	// ComputeBarrier returns h(q). The configuration is safe when every coordinate is non-negative.
	ComputeBarrier(cfg *kinematics.Configuration) ([]float64, error)
	// ComputeJacobian returns the Dim×nv Jacobian ∂h/∂q.
	ComputeJacobian(cfg *kinematics.Configuration) (*mat.Dense, error)
	// ComputeQPInequality returns (G, h) with G·Δq ≤ h encoding the barrier condition.
	ComputeQPInequality(cfg *kinematics.Configuration) (*mat.Dense, []float64, error)
	// ComputeQPObjective returns the (H, c) contribution of the safe policy regularizer.
	ComputeQPObjective(cfg *kinematics.Configuration) (*mat.SymDense, []float64, error)
	String() string
}

// ClassKFunc is an extended class-K function, applied to each barrier coordinate. It should be increasing.
type ClassKFunc func(h float64) float64

// ClassKLinear is the identity α(h) = h.
func ClassKLinear(h float64) float64 {
	return h
}

// ClassKSaturated is α(h) = h/(1+|h|), close to linear near the boundary and bounded by 1 far from it.
func ClassKSaturated(h float64) float64 {
	return h / (1 + math.Abs(h))
}

// ClassKInverseMargin is α(h) = 1/(1+|h|). It does not vanish at h = 0: the allowed rate of approach is
// largest at the boundary, so it only keeps h ≥ 0 approximately. It is the position barrier default.
func ClassKInverseMargin(h float64) float64 {
	return 1 / (1 + math.Abs(h))
}

// SafePolicyFunc returns a backup tangent displacement known to be safe at cfg.
type SafePolicyFunc func(cfg *kinematics.Configuration) []float64

// base holds what every barrier shares.
type base struct {
	dim        int
	gain       []float64
	classK     ClassKFunc
	r          float64
	safePolicy SafePolicyFunc
}

// newBase expands gain to one entry per coordinate. A single gain applies to all of them; a gain with half
// the entries is repeated for both sides of a two-sided barrier.
func newBase(dim int, gain []float64, classK ClassKFunc, r float64) (base, error) {
	if dim == 0 {
		return base{}, ErrZeroDimension
	}
	switch {
	case len(gain) == 0:
		gain = []float64{1}
		fallthrough
	case len(gain) == 1:
		g := gain[0]
		gain = make([]float64, dim)
		for i := range gain {
			gain[i] = g
		}
	case 2*len(gain) == dim:
		gain = append(append([]float64(nil), gain...), gain...)
	case len(gain) == dim:
		gain = append([]float64(nil), gain...)
	default:
		return base{}, kinematics.NewIncorrectDimensionError("barrier gain", len(gain), dim)
	}
	for _, g := range gain {
		if !(g >= 0) || math.IsInf(g, 1) {
			return base{}, errors.Errorf("barrier gains must be finite and non-negative, got %v", gain)
		}
	}
	if !(r >= 0) || math.IsInf(r, 1) {
		return base{}, errors.Errorf("safe policy weight must be finite and non-negative, got %v", r)
	}
	if classK == nil {
		classK = ClassKLinear
	}
	return base{dim: dim, gain: gain, classK: classK, r: r}, nil
}

// Dim returns the number of barrier coordinates.
func (b *base) Dim() int {
	return b.dim
}

// Gain returns a copy of the per-coordinate gain.
func (b *base) Gain() []float64 {
	return append([]float64(nil), b.gain...)
}

// R returns the weight of the safe policy regularizer.
func (b *base) R() float64 {
	return b.r
}

// SetSafePolicy sets the backup policy pulled toward by the regularizer. nil means standing still.
func (b *base) SetSafePolicy(policy SafePolicyFunc) {
	b.safePolicy = policy
}

// inequality turns a barrier value and Jacobian into G = -J, h = gain ⊙ α(h).
func (b *base) inequality(jac *mat.Dense, h []float64) (*mat.Dense, []float64) {
	r, c := jac.Dims()
	g := mat.NewDense(r, c, nil)
	g.Scale(-1, jac)
	bound := make([]float64, len(h))
	for i, v := range h {
		bound[i] = b.gain[i] * b.classK(v)
	}
	return g, bound
}

// objective returns the regularizer (r/‖J‖²)·‖Δq - Δq_safe‖² as H = r/‖J‖²·I, c = -2r/‖J‖²·Δq_safe. It
// vanishes when r or the Jacobian is zero.
func (b *base) objective(cfg *kinematics.Configuration, jac *mat.Dense) (*mat.SymDense, []float64, error) {
	nv := cfg.NV()
	h := mat.NewSymDense(nv, nil)
	c := make([]float64, nv)
	norm := mat.Norm(jac, 2)
	if b.r <= 1e-6 || norm == 0 {
		return h, c, nil
	}
	w := b.r / (norm * norm)
	for i := 0; i < nv; i++ {
		h.SetSym(i, i, w)
	}
	if b.safePolicy == nil {
		return h, c, nil
	}
	policy := b.safePolicy(cfg)
	if len(policy) != nv {
		return nil, nil, kinematics.NewIncorrectDimensionError("safe policy", len(policy), nv)
	}
	for i, v := range policy {
		c[i] = -2 * w * v
	}
	return h, c, nil
}

func (b *base) describe(kind string) string {
	return fmt.Sprintf("%s(dim=%d, gain=%v, r=%v, safe_policy=%v)", kind, b.dim, b.gain, b.r, b.safePolicy != nil)
}
