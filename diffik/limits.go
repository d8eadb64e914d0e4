package diffik

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/kinematics"
	"go.viam.com/diffik/utils"
)

// Limit is a hard constraint of the differential IK problem expressed on the tangent displacement Δq.
type Limit interface {
	// ComputeQPInequality returns (G, h) with G·Δq ≤ h for a step of dt seconds from cfg. Both are nil when
	// the limit constrains nothing.
	ComputeQPInequality(cfg *kinematics.Configuration, dt float64) (*mat.Dense, []float64, error)
	String() string
}

// ConfigurationLimit keeps bounded joints within their position limits:
//
//	Δq ≤ gain·(q_max ⊖ q)
//	-Δq ≤ gain·(q ⊖ q_min)
//
// on the bounded tangent subspace.
type ConfigurationLimit struct {
	tangent *kinematics.BoundedTangent
	gain    float64
}

// NewConfigurationLimit returns the position limit of the bounded subspace. gain must lie in (0, 1].
func NewConfigurationLimit(tangent *kinematics.BoundedTangent, gain float64) (*ConfigurationLimit, error) {
	if !(gain > 0 && gain <= 1) {
		return nil, errors.Errorf("configuration limit gain must be in (0, 1], got %v", gain)
	}
	return &ConfigurationLimit{tangent: tangent, gain: gain}, nil
}

// ComputeQPInequality returns the position limit rows at cfg. Rows with a non-finite bound are dropped.
func (l *ConfigurationLimit) ComputeQPInequality(cfg *kinematics.Configuration, dt float64) (*mat.Dense, []float64, error) {
	if l.tangent.Dim() == 0 {
		return nil, nil, nil
	}
	toLower, toUpper, err := l.tangent.LimitDisplacements(cfg.Q())
	if err != nil {
		return nil, nil, err
	}
	upper := lo.Map(toUpper, func(d float64, _ int) float64 { return l.gain * d })
	lower := lo.Map(toLower, func(d float64, _ int) float64 { return -l.gain * d })
	g, h := boundRows(l.tangent.Projection(), upper, lower)
	return g, h, nil
}

func (l *ConfigurationLimit) String() string {
	return fmt.Sprintf("ConfigurationLimit(joints=%v, gain=%v)", l.tangent.Joints(), l.gain)
}

// VelocityLimit bounds |Δq_i| ≤ dt·v_max,i on the bounded coordinates with a finite velocity limit.
type VelocityLimit struct {
	tangent *kinematics.BoundedTangent
}

// NewVelocityLimit returns the velocity limit of the bounded subspace.
func NewVelocityLimit(tangent *kinematics.BoundedTangent) *VelocityLimit {
	return &VelocityLimit{tangent: tangent}
}

// ComputeQPInequality returns the velocity limit rows for a step of dt seconds.
func (l *VelocityLimit) ComputeQPInequality(cfg *kinematics.Configuration, dt float64) (*mat.Dense, []float64, error) {
	if !(dt > 0) {
		return nil, nil, errors.Errorf("time step must be positive, got %v", dt)
	}
	if l.tangent.Dim() == 0 {
		return nil, nil, nil
	}
	bound := lo.Map(l.tangent.VelocityLimit(), func(v float64, _ int) float64 { return dt * v })
	g, h := boundRows(l.tangent.Projection(), bound, bound)
	return g, h, nil
}

func (l *VelocityLimit) String() string {
	return fmt.Sprintf("VelocityLimit(joints=%v)", l.tangent.Joints())
}

// boundRows stacks the rows P_k·Δq ≤ upper_k, then -P_k·Δq ≤ lower_k, for the rows P_k of the projection
// P. Rows whose bound is not finite are dropped.
func boundRows(projection *mat.Dense, upper, lower []float64) (*mat.Dense, []float64) {
	var rows [][]float64
	var h []float64
	for _, side := range []struct {
		sign   float64
		bounds []float64
	}{{1, upper}, {-1, lower}} {
		for k, bound := range side.bounds {
			if !utils.IsFinite(bound) {
				continue
			}
			row := mat.Row(nil, k, projection)
			floats.Scale(side.sign, row)
			rows = append(rows, row)
			h = append(h, bound)
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	_, nv := projection.Dims()
	g := mat.NewDense(len(rows), nv, nil)
	for r, row := range rows {
		g.SetRow(r, row)
	}
	return g, h
}

var (
	_ Limit = (*ConfigurationLimit)(nil)
	_ Limit = (*VelocityLimit)(nil)
)
