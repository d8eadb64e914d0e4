package barriers

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/kinematics"
)

// BodySphericalBarrier keeps the origins of two frames at least DMin apart:
//
//	h = ‖p1 - p2‖² - d_min²
type BodySphericalBarrier struct {
	base
	frames [2]string
	dMin   float64
}

// NewBodySphericalBarrier returns a distance barrier between frame1 and frame2. A nil gain defaults to 1 and
// a nil classK to ClassKLinear.
func NewBodySphericalBarrier(frame1, frame2 string, dMin float64, gain []float64, classK ClassKFunc, r float64,
) (*BodySphericalBarrier, error) {
	if frame1 == frame2 {
		return nil, errors.Errorf("spherical barrier needs two distinct frames, got %q twice", frame1)
	}
	if !(dMin >= 0) || math.IsInf(dMin, 1) {
		return nil, errors.Errorf("minimum distance must be finite and non-negative, got %v", dMin)
	}
	b, err := newBase(1, gain, classK, r)
	if err != nil {
		return nil, err
	}
	return &BodySphericalBarrier{base: b, frames: [2]string{frame1, frame2}, dMin: dMin}, nil
}

// Frames returns the names of the two frames.
func (b *BodySphericalBarrier) Frames() (string, string) {
	return b.frames[0], b.frames[1]
}

func (b *BodySphericalBarrier) offset(cfg *kinematics.Configuration) ([]float64, error) {
	p1, err := cfg.FramePose(b.frames[0])
	if err != nil {
		return nil, err
	}
	p2, err := cfg.FramePose(b.frames[1])
	if err != nil {
		return nil, err
	}
	d := p1.Point().Sub(p2.Point())
	return []float64{d.X, d.Y, d.Z}, nil
}

// ComputeBarrier returns the squared distance margin.
func (b *BodySphericalBarrier) ComputeBarrier(cfg *kinematics.Configuration) ([]float64, error) {
	d, err := b.offset(cfg)
	if err != nil {
		return nil, err
	}
	return []float64{d[0]*d[0] + d[1]*d[1] + d[2]*d[2] - b.dMin*b.dMin}, nil
}

// ComputeJacobian returns 2(p1 - p2)ᵀ(J1 - J2) for the world-aligned position Jacobians J1, J2.
func (b *BodySphericalBarrier) ComputeJacobian(cfg *kinematics.Configuration) (*mat.Dense, error) {
	d, err := b.offset(cfg)
	if err != nil {
		return nil, err
	}
	j1, err := cfg.WorldPositionJacobian(b.frames[0])
	if err != nil {
		return nil, err
	}
	j2, err := cfg.WorldPositionJacobian(b.frames[1])
	if err != nil {
		return nil, err
	}
	var rel mat.Dense
	rel.Sub(j1, j2)
	jac := mat.NewDense(1, cfg.NV(), nil)
	jac.Mul(mat.NewDense(1, 3, []float64{2 * d[0], 2 * d[1], 2 * d[2]}), &rel)
	return jac, nil
}

// ComputeQPInequality returns (G, h) with G·Δq ≤ h.
func (b *BodySphericalBarrier) ComputeQPInequality(cfg *kinematics.Configuration) (*mat.Dense, []float64, error) {
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
func (b *BodySphericalBarrier) ComputeQPObjective(cfg *kinematics.Configuration) (*mat.SymDense, []float64, error) {
	jac, err := b.ComputeJacobian(cfg)
	if err != nil {
		return nil, nil, err
	}
	return b.objective(cfg, jac)
}

func (b *BodySphericalBarrier) String() string {
	return b.describe(fmt.Sprintf("BodySphericalBarrier[%s, %s, d_min=%v]", b.frames[0], b.frames[1], b.dMin))
}

var (
	_ Barrier = (*PositionBarrier)(nil)
	_ Barrier = (*ConfigurationBarrier)(nil)
	_ Barrier = (*BodySphericalBarrier)(nil)
)
