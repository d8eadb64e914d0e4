package barriers

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/kinematics"
)

// ErrNoPositionLimit is returned when a position barrier is given neither a minimum nor a maximum.
var ErrNoPositionLimit = errors.New("position barrier requires a minimum or a maximum position")

// PositionBarrierConfig configures a PositionBarrier.
type PositionBarrierConfig struct {
	// PMin and PMax bound the frame origin in the world. At least one must be set.
	PMin *r3.Vector
	PMax *r3.Vector
	// Axes selects the world axes (0 for x, 1 for y, 2 for z) that are limited. Defaults to all three.
	Axes []int
	// Gain has one entry, one per axis (repeated for both sides), or one per barrier coordinate.
	// Defaults to 1.
	Gain []float64
	// ClassK defaults to ClassKInverseMargin.
	ClassK ClassKFunc
	// R weighs the safe policy regularizer. Zero disables it.
	R float64
}

// PositionBarrier keeps the origin of a frame inside an axis-aligned box of the world. Its barrier is
//
//	h = [p[axes] - pmin[axes]; pmax[axes] - p[axes]]
//
// with either side omitted when its bound is unset.
type PositionBarrier struct {
	base
	frame string
	axes  []int
	pMin  *r3.Vector
	pMax  *r3.Vector
}

// NewPositionBarrier returns a barrier on the world position of frame.
func NewPositionBarrier(frame string, cfg PositionBarrierConfig) (*PositionBarrier, error) {
	if cfg.PMin == nil && cfg.PMax == nil {
		return nil, errors.Wrapf(ErrNoPositionLimit, "frame %q", frame)
	}
	axes := cfg.Axes
	if axes == nil {
		axes = []int{0, 1, 2}
	}
	if len(axes) == 0 {
		return nil, errors.Wrapf(ErrZeroDimension, "position barrier on frame %q has no axes", frame)
	}
	if bad := lo.Filter(axes, func(a, _ int) bool { return a < 0 || a > 2 }); len(bad) > 0 {
		return nil, errors.Errorf("position barrier axes must be 0, 1 or 2, got %v", bad)
	}
	if dups := lo.FindDuplicates(axes); len(dups) > 0 {
		return nil, errors.Errorf("position barrier axes repeated: %v", dups)
	}

	dim := 0
	if cfg.PMin != nil {
		dim += len(axes)
	}
	if cfg.PMax != nil {
		dim += len(axes)
	}
	classK := cfg.ClassK
	if classK == nil {
		classK = ClassKInverseMargin
	}
	b, err := newBase(dim, cfg.Gain, classK, cfg.R)
	if err != nil {
		return nil, errors.Wrapf(err, "position barrier on frame %q", frame)
	}
	pb := &PositionBarrier{base: b, frame: frame, axes: append([]int(nil), axes...)}
	if cfg.PMin != nil {
		p := *cfg.PMin
		pb.pMin = &p
	}
	if cfg.PMax != nil {
		p := *cfg.PMax
		pb.pMax = &p
	}
	return pb, nil
}

// Frame returns the name of the constrained frame.
func (b *PositionBarrier) Frame() string {
	return b.frame
}

func component(v r3.Vector, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// ComputeBarrier returns the margins to the minimum then the maximum position.
func (b *PositionBarrier) ComputeBarrier(cfg *kinematics.Configuration) ([]float64, error) {
	pose, err := cfg.FramePose(b.frame)
	if err != nil {
		return nil, err
	}
	p := pose.Point()
	h := make([]float64, 0, b.dim)
	if b.pMin != nil {
		for _, a := range b.axes {
			h = append(h, component(p, a)-component(*b.pMin, a))
		}
	}
	if b.pMax != nil {
		for _, a := range b.axes {
			h = append(h, component(*b.pMax, a)-component(p, a))
		}
	}
	return h, nil
}

// ComputeJacobian returns the selected rows of the world-aligned position Jacobian, negated for the maximum
// side.
func (b *PositionBarrier) ComputeJacobian(cfg *kinematics.Configuration) (*mat.Dense, error) {
	pj, err := cfg.WorldPositionJacobian(b.frame)
	if err != nil {
		return nil, err
	}
	jac := mat.NewDense(b.dim, cfg.NV(), nil)
	row := 0
	stack := func(sign float64) {
		for _, a := range b.axes {
			for k := 0; k < cfg.NV(); k++ {
				jac.Set(row, k, sign*pj.At(a, k))
			}
			row++
		}
	}
	if b.pMin != nil {
		stack(1)
	}
	if b.pMax != nil {
		stack(-1)
	}
	return jac, nil
}

// ComputeQPInequality returns (G, h) with G·Δq ≤ h.
func (b *PositionBarrier) ComputeQPInequality(cfg *kinematics.Configuration) (*mat.Dense, []float64, error) {
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
func (b *PositionBarrier) ComputeQPObjective(cfg *kinematics.Configuration) (*mat.SymDense, []float64, error) {
	jac, err := b.ComputeJacobian(cfg)
	if err != nil {
		return nil, nil, err
	}
	return b.objective(cfg, jac)
}

func (b *PositionBarrier) String() string {
	return b.describe("PositionBarrier[" + b.frame + "]")
}
