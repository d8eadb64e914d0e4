package kinematics

import (
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/referenceframe"
	"go.viam.com/diffik/spatialmath"
)

// ErrNotWithinConfigurationLimits is returned when a configuration lies outside its model's position limits.
var ErrNotWithinConfigurationLimits = errors.New("configuration not within limits")

// Configuration is an immutable snapshot of a robot state: the model, a joint vector q and the frame
// transforms and Jacobians at q. Kinematic quantities come from a single forward kinematics pass made at
// construction and are memoized per frame. A new Configuration is built for every control cycle.
type Configuration struct {
	provider Provider
	q        []float64
	state    referenceframe.KinematicState

	poses     sync.Map
	jacobians sync.Map
}

// NewConfiguration runs forward kinematics for q on the provider's model.
func NewConfiguration(p Provider, q []float64) (*Configuration, error) {
	if len(q) != p.NQ() {
		return nil, NewIncorrectDimensionError("configuration", len(q), p.NQ())
	}
	q = append([]float64(nil), q...)
	st, err := p.ForwardKinematics(q)
	if err != nil {
		return nil, err
	}
	return &Configuration{provider: p, q: q, state: st}, nil
}

// Provider returns the kinematics provider of the configuration's model.
func (c *Configuration) Provider() Provider {
	return c.provider
}

// Q returns a copy of the joint vector.
func (c *Configuration) Q() []float64 {
	return append([]float64(nil), c.q...)
}

// NQ returns the configuration dimension of the model.
func (c *Configuration) NQ() int {
	return c.provider.NQ()
}

// NV returns the tangent dimension of the model.
func (c *Configuration) NV() int {
	return c.provider.NV()
}

// FramePose returns the pose of the named frame in the world.
func (c *Configuration) FramePose(name string) (spatialmath.Pose, error) {
	if v, ok := c.poses.Load(name); ok {
		return v.(spatialmath.Pose), nil
	}
	pose, err := c.state.FramePose(name)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	c.poses.Store(name, pose)
	return pose, nil
}

// FrameJacobian returns a copy of the 6×nv body Jacobian of the named frame, expressed in that frame with
// linear rows first.
func (c *Configuration) FrameJacobian(name string) (*mat.Dense, error) {
	if v, ok := c.jacobians.Load(name); ok {
		return mat.DenseCopyOf(v.(*mat.Dense)), nil
	}
	jac, err := c.state.FrameJacobian(name)
	if err != nil {
		return nil, err
	}
	c.jacobians.Store(name, jac)
	return mat.DenseCopyOf(jac), nil
}

// WorldPositionJacobian returns the 3×nv Jacobian of the named frame's origin expressed in the world frame,
// i.e. the linear rows of the body Jacobian rotated by the frame orientation.
func (c *Configuration) WorldPositionJacobian(name string) (*mat.Dense, error) {
	pose, err := c.FramePose(name)
	if err != nil {
		return nil, err
	}
	jac, err := c.FrameJacobian(name)
	if err != nil {
		return nil, err
	}
	rot := pose.Rotation()
	r := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r.Set(i, j, rot.At(i, j))
		}
	}
	out := mat.NewDense(3, c.NV(), nil)
	out.Mul(r, jac.Slice(0, 3, 0, c.NV()))
	return out, nil
}

// Integrate returns the configuration reached by moving at tangent velocity v for dt seconds.
func (c *Configuration) Integrate(v []float64, dt float64) ([]float64, error) {
	if len(v) != c.NV() {
		return nil, NewIncorrectDimensionError("velocity", len(v), c.NV())
	}
	step := make([]float64, len(v))
	for i, vi := range v {
		step[i] = vi * dt
	}
	return c.provider.Integrate(c.q, step)
}

// CheckLimits returns an ErrNotWithinConfigurationLimits error naming the first joint coordinate that lies
// more than tol outside its position limits.
func (c *Configuration) CheckLimits(tol float64) error {
	lower := c.provider.LowerPositionLimit()
	upper := c.provider.UpperPositionLimit()
	for _, j := range c.provider.Joints() {
		for k := j.IdxQ; k < j.IdxQ+j.NQ; k++ {
			if c.q[k] < lower[k]-tol || c.q[k] > upper[k]+tol {
				return errors.Wrapf(ErrNotWithinConfigurationLimits,
					"joint %q coordinate %d is %.6g, limits [%.6g, %.6g]", j.Name, k-j.IdxQ, c.q[k], lower[k], upper[k])
			}
		}
	}
	return nil
}
