package referenceframe

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/diffik/spatialmath"
)

// JointType names the kinds of joints a Model can hold.
type JointType string

// Supported joint types. Spherical and free-flyer joints store a unit quaternion in (x, y, z, w) order, so
// their configuration dimension exceeds their tangent dimension.
const (
	RevoluteJoint  = JointType("revolute")
	PrismaticJoint = JointType("prismatic")
	SphericalJoint = JointType("spherical")
	FreeFlyerJoint = JointType("free_flyer")
)

// Limit represents the limits of motion of one configuration coordinate.
type Limit struct {
	Min float64
	Max float64
}

// Unbounded is the limit of a coordinate free to take any value.
var Unbounded = Limit{Min: math.Inf(-1), Max: math.Inf(1)}

// NQ returns the number of configuration coordinates of a joint of this type.
func (t JointType) NQ() int {
	switch t {
	case SphericalJoint:
		return 4
	case FreeFlyerJoint:
		return 7
	default:
		return 1
	}
}

// NV returns the number of tangent coordinates of a joint of this type.
func (t JointType) NV() int {
	switch t {
	case SphericalJoint:
		return 3
	case FreeFlyerJoint:
		return 6
	default:
		return 1
	}
}

func (t JointType) valid() bool {
	switch t {
	case RevoluteJoint, PrismaticJoint, SphericalJoint, FreeFlyerJoint:
		return true
	default:
		return false
	}
}

// JointInfo describes where a joint sits in the configuration and tangent vectors of its model.
type JointInfo struct {
	Name string
	Type JointType
	IdxQ int
	NQ   int
	IdxV int
	NV   int
}

// Joint is one articulation of a Model. Placement is the pose of the joint frame in its parent joint's frame
// at the neutral configuration; the joint motion is applied on the right of it.
type Joint struct {
	Name      string
	Type      JointType
	Parent    string
	Placement spatialmath.Pose
	// Axis is the rotation (revolute) or translation (prismatic) direction in the joint frame.
	Axis r3.Vector
	// Limits holds one entry per configuration coordinate.
	Limits []Limit
	// VelocityLimits holds one entry per tangent coordinate.
	VelocityLimits []float64

	info JointInfo
}

// Info returns the joint's layout. It is only meaningful once the joint belongs to a finalized Model.
func (j *Joint) Info() JointInfo {
	return j.info
}

// transform returns the joint motion for its configuration slice.
func (j *Joint) transform(q []float64) spatialmath.Pose {
	switch j.Type {
	case RevoluteJoint:
		return spatialmath.NewPose(r3.Vector{}, spatialmath.ExpSO3(j.Axis.Mul(q[0])))
	case PrismaticJoint:
		return spatialmath.NewPoseFromPoint(j.Axis.Mul(q[0]))
	case SphericalJoint:
		return spatialmath.NewPoseFromQuaternion(r3.Vector{}, quatFromSlice(q))
	default:
		return spatialmath.NewPoseFromQuaternion(r3.Vector{X: q[0], Y: q[1], Z: q[2]}, quatFromSlice(q[3:]))
	}
}

// motionSubspace returns the 6×nv matrix mapping the joint's tangent coordinates to a twist in the joint frame.
func (j *Joint) motionSubspace() *mat.Dense {
	s := mat.NewDense(6, j.Type.NV(), nil)
	switch j.Type {
	case RevoluteJoint:
		s.Set(3, 0, j.Axis.X)
		s.Set(4, 0, j.Axis.Y)
		s.Set(5, 0, j.Axis.Z)
	case PrismaticJoint:
		s.Set(0, 0, j.Axis.X)
		s.Set(1, 0, j.Axis.Y)
		s.Set(2, 0, j.Axis.Z)
	case SphericalJoint:
		for i := 0; i < 3; i++ {
			s.Set(3+i, i, 1)
		}
	default:
		for i := 0; i < 6; i++ {
			s.Set(i, i, 1)
		}
	}
	return s
}

// integrate writes into out the configuration reached from q by the tangent displacement v in unit time.
func (j *Joint) integrate(q, v, out []float64) {
	switch j.Type {
	case RevoluteJoint, PrismaticJoint:
		out[0] = q[0] + v[0]
	case SphericalJoint:
		r := spatialmath.QuatToRotationMatrix(quatFromSlice(q))
		next := r.Mul3(spatialmath.ExpSO3(r3.Vector{X: v[0], Y: v[1], Z: v[2]}))
		quatToSlice(spatialmath.RotationMatrixToQuat(next), out)
	default:
		m := j.transform(q)
		next := spatialmath.Compose(m, spatialmath.ExpSE3(spatialmath.NewTwistFromSlice(v)))
		p := next.Point()
		out[0], out[1], out[2] = p.X, p.Y, p.Z
		quatToSlice(next.Quaternion(), out[3:])
	}
}

// difference writes into out the tangent displacement taking q0 to q1.
func (j *Joint) difference(q0, q1, out []float64) {
	switch j.Type {
	case RevoluteJoint, PrismaticJoint:
		out[0] = q1[0] - q0[0]
	case SphericalJoint:
		r0 := spatialmath.QuatToRotationMatrix(quatFromSlice(q0))
		r1 := spatialmath.QuatToRotationMatrix(quatFromSlice(q1))
		w := spatialmath.LogSO3(spatialmath.OrientationBetween(r0, r1))
		out[0], out[1], out[2] = w.X, w.Y, w.Z
	default:
		xi := spatialmath.LogSE3(spatialmath.PoseBetween(j.transform(q0), j.transform(q1)))
		copy(out, xi.Slice())
	}
}

// neutral writes the joint's neutral configuration into out.
func (j *Joint) neutral(out []float64) {
	for i := range out {
		out[i] = 0
	}
	switch j.Type {
	case SphericalJoint:
		out[3] = 1
	case FreeFlyerJoint:
		out[6] = 1
	case RevoluteJoint, PrismaticJoint:
		// zero unless that is outside the limits
		if l := j.Limits[0]; l.Min > 0 || l.Max < 0 {
			out[0] = clampFinite(0, l)
		}
	}
}

// random writes a random configuration into out. Unbounded coordinates are drawn from [-π, π] for revolute
// joints and [-1, 1] otherwise.
func (j *Joint) random(rnd *rand.Rand, out []float64) {
	switch j.Type {
	case RevoluteJoint, PrismaticJoint:
		l := j.Limits[0]
		fallback := 1.
		if j.Type == RevoluteJoint {
			fallback = math.Pi
		}
		lo, hi := math.Max(l.Min, -fallback), math.Min(l.Max, fallback)
		if lo > hi {
			lo, hi = l.Min, l.Max
		}
		out[0] = lo + rnd.Float64()*(hi-lo)
	case SphericalJoint:
		quatToSlice(spatialmath.RandomPose(rnd, 0).Quaternion(), out)
	default:
		p := spatialmath.RandomPose(rnd, 1)
		pt := p.Point()
		out[0], out[1], out[2] = pt.X, pt.Y, pt.Z
		quatToSlice(p.Quaternion(), out[3:])
	}
}

func clampFinite(v float64, l Limit) float64 {
	if v < l.Min {
		return l.Min
	}
	if v > l.Max {
		return l.Max
	}
	return v
}

func quatFromSlice(q []float64) quat.Number {
	return quat.Number{Imag: q[0], Jmag: q[1], Kmag: q[2], Real: q[3]}
}

func quatToSlice(q quat.Number, out []float64) {
	out[0], out[1], out[2], out[3] = q.Imag, q.Jmag, q.Kmag, q.Real
}
