package kinematics

import (
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/referenceframe"
)

const (
	// An upper limit at or beyond this value counts as unbounded.
	boundedUpperThreshold = 1e20
	// Limit intervals narrower than this are locked joints, not bounded ones.
	boundedMinWidth = 1e-10
)

// BoundedTangent is the subspace of the tangent space spanned by joints with finite, non-degenerate position
// limits. It is computed once per model and never modified.
type BoundedTangent struct {
	provider      Provider
	nv            int
	indices       []int
	qIndices      []int
	joints        []string
	projection    *mat.Dense
	velocityLimit []float64
}

// NewBoundedTangent computes the bounded subspace of the provider's tangent space. A joint is bounded when
// every one of its configuration coordinates has a finite upper limit above its lower limit plus 1e-10;
// its tangent indices are then appended in joint order.
func NewBoundedTangent(p Provider) *BoundedTangent {
	lower := p.LowerPositionLimit()
	upper := p.UpperPositionLimit()
	eligible := func(k int) bool {
		return upper[k] < boundedUpperThreshold && upper[k] > lower[k]+boundedMinWidth
	}

	bounded := lo.Filter(p.Joints(), func(j referenceframe.JointInfo, _ int) bool {
		return lo.EveryBy(lo.RangeFrom(j.IdxQ, j.NQ), eligible)
	})
	bt := &BoundedTangent{
		provider: p,
		nv:       p.NV(),
		indices: lo.FlatMap(bounded, func(j referenceframe.JointInfo, _ int) []int {
			return lo.RangeFrom(j.IdxV, j.NV)
		}),
		qIndices: lo.FlatMap(bounded, func(j referenceframe.JointInfo, _ int) []int {
			return lo.RangeFrom(j.IdxQ, j.NQ)
		}),
		joints: lo.Map(bounded, func(j referenceframe.JointInfo, _ int) string { return j.Name }),
	}

	vlim := p.VelocityLimit()
	bt.velocityLimit = lo.Map(bt.indices, func(i, _ int) float64 { return vlim[i] })
	if len(bt.indices) > 0 {
		bt.projection = mat.NewDense(len(bt.indices), bt.nv, nil)
		for row, i := range bt.indices {
			bt.projection.Set(row, i, 1)
		}
	}
	return bt
}

// Dim returns the dimension of the bounded subspace.
func (bt *BoundedTangent) Dim() int {
	return len(bt.indices)
}

// NV returns the dimension of the full tangent space.
func (bt *BoundedTangent) NV() int {
	return bt.nv
}

// Indices returns a copy of the tangent indices of the bounded subspace, in joint order.
func (bt *BoundedTangent) Indices() []int {
	return append([]int(nil), bt.indices...)
}

// Joints returns the names of the bounded joints.
func (bt *BoundedTangent) Joints() []string {
	return append([]string(nil), bt.joints...)
}

// Projection returns a copy of the Dim×NV matrix selecting the bounded coordinates, or nil when no joint
// is bounded.
func (bt *BoundedTangent) Projection() *mat.Dense {
	if bt.projection == nil {
		return nil
	}
	return mat.DenseCopyOf(bt.projection)
}

// VelocityLimit returns a copy of the velocity limits of the bounded coordinates.
func (bt *BoundedTangent) VelocityLimit() []float64 {
	return append([]float64(nil), bt.velocityLimit...)
}

// Project gathers the bounded coordinates of a full tangent vector.
func (bt *BoundedTangent) Project(v []float64) ([]float64, error) {
	if len(v) != bt.nv {
		return nil, NewIncorrectDimensionError("tangent vector", len(v), bt.nv)
	}
	return lo.Map(bt.indices, func(i, _ int) float64 { return v[i] }), nil
}

// LimitDisplacements returns, on the bounded subspace, the tangent displacements q_min ⊖ q and q_max ⊖ q from
// q to the lower and upper position limits. Unbounded joints keep their value from q, so they never reach
// the difference.
func (bt *BoundedTangent) LimitDisplacements(q []float64) (toLower, toUpper []float64, err error) {
	if len(q) != bt.provider.NQ() {
		return nil, nil, NewIncorrectDimensionError("configuration", len(q), bt.provider.NQ())
	}
	toward := func(limit []float64) ([]float64, error) {
		target := append([]float64(nil), q...)
		for _, k := range bt.qIndices {
			target[k] = limit[k]
		}
		diff, err := bt.provider.Difference(q, target)
		if err != nil {
			return nil, err
		}
		return bt.Project(diff)
	}
	if toLower, err = toward(bt.provider.LowerPositionLimit()); err != nil {
		return nil, nil, err
	}
	if toUpper, err = toward(bt.provider.UpperPositionLimit()); err != nil {
		return nil, nil, err
	}
	return toLower, toUpper, nil
}
