package barriers

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/kinematics"
)

// ConfigurationBarrier keeps bounded joints inside their position limits:
//
//	h = [q ⊖ q_min; q_max ⊖ q]
//
// restricted to the bounded tangent subspace, with Jacobian [P; -P] for the subspace projection P.
type ConfigurationBarrier struct {
	base
	tangent *kinematics.BoundedTangent
}

// NewConfigurationBarrier returns a configuration barrier on the provider's bounded joints. A nil gain
// defaults to 0.5. The class-K function is ClassKSaturated.
func NewConfigurationBarrier(p kinematics.Provider, gain []float64, r float64) (*ConfigurationBarrier, error) {
	bt := kinematics.NewBoundedTangent(p)
	if gain == nil {
		gain = []float64{0.5}
	}
	b, err := newBase(2*bt.Dim(), gain, ClassKSaturated, r)
	if err != nil {
		return nil, errors.Wrapf(err, "configuration barrier on model %q", p.Name())
	}
	return &ConfigurationBarrier{base: b, tangent: bt}, nil
}

// Tangent returns the bounded subspace the barrier acts on.
func (b *ConfigurationBarrier) Tangent() *kinematics.BoundedTangent {
	return b.tangent
}

// ComputeBarrier returns the tangent distances to the lower then the upper limits.
func (b *ConfigurationBarrier) ComputeBarrier(cfg *kinematics.Configuration) ([]float64, error) {
	toLower, toUpper, err := b.tangent.LimitDisplacements(cfg.Q())
	if err != nil {
		return nil, err
	}
	h := make([]float64, 0, b.dim)
	for _, d := range toLower {
		h = append(h, -d)
	}
	return append(h, toUpper...), nil
}

// ComputeJacobian returns [P; -P].
func (b *ConfigurationBarrier) ComputeJacobian(cfg *kinematics.Configuration) (*mat.Dense, error) {
	if cfg.NV() != b.tangent.NV() {
		return nil, kinematics.NewIncorrectDimensionError("configuration tangent", cfg.NV(), b.tangent.NV())
	}
	jac := mat.NewDense(b.dim, cfg.NV(), nil)
	k := b.tangent.Dim()
	for row, i := range b.tangent.Indices() {
		jac.Set(row, i, 1)
		jac.Set(k+row, i, -1)
	}
	return jac, nil
}

// ComputeQPInequality returns (G, h) with G·Δq ≤ h.
func (b *ConfigurationBarrier) ComputeQPInequality(cfg *kinematics.Configuration) (*mat.Dense, []float64, error) {
	jac, err := b.ComputeJacobian(cfg)
	if err != nil {
		return nil, nil, err
	}
	h, err := b.ComputeBarrier(cfg)
	if err != nil {
		return nil, nil, err
	}
	g, bound := b.inequality(jac, h)
	return g, bound, nil
}

// ComputeQPObjective returns the safe policy regularizer.
func (b *ConfigurationBarrier) ComputeQPObjective(cfg *kinematics.Configuration) (*mat.SymDense, []float64, error) {
	jac, err := b.ComputeJacobian(cfg)
	if err != nil {
		return nil, nil, err
	}
	return b.objective(cfg, jac)
}

func (b *ConfigurationBarrier) String() string {
	return b.describe("ConfigurationBarrier")
}
