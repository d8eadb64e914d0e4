// Package spatialmath defines spatial mathematical operations: rigid transforms and the exponential and
// logarithm maps of SO(3) and SE(3) together with their Jacobians.
package spatialmath

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation. Poses map points expressed in a child
// frame into the parent frame. The zero value is not a valid pose; use NewZeroPose.
type Pose struct {
	rotation mgl64.Mat3
	point    r3.Vector
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{rotation: mgl64.Ident3()}
}

// NewPose returns a pose with the given translation and rotation matrix.
func NewPose(point r3.Vector, rotation mgl64.Mat3) Pose {
	return Pose{rotation: rotation, point: point}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return Pose{rotation: mgl64.Ident3(), point: point}
}

// NewPoseFromQuaternion returns a pose from a translation and a (not necessarily normalized) quaternion.
func NewPoseFromQuaternion(point r3.Vector, q quat.Number) Pose {
	return Pose{rotation: QuatToRotationMatrix(q), point: point}
}

// NewPoseFromAxisAngle returns a pose rotating by theta about axis, then translating by point.
func NewPoseFromAxisAngle(point, axis r3.Vector, theta float64) Pose {
	if axis.Norm() == 0 {
		return NewPoseFromPoint(point)
	}
	return Pose{rotation: ExpSO3(axis.Normalize().Mul(theta)), point: point}
}

// Point returns the translation of the pose.
func (p Pose) Point() r3.Vector {
	return p.point
}

// Rotation returns the rotation matrix of the pose.
func (p Pose) Rotation() mgl64.Mat3 {
	return p.rotation
}

// Quaternion returns the rotation of the pose as a unit quaternion with a non-negative real part.
func (p Pose) Quaternion() quat.Number {
	return RotationMatrixToQuat(p.rotation)
}

// Transform maps a point from the pose's child frame into its parent frame.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	return Rotate(p.rotation, v).Add(p.point)
}

func (p Pose) String() string {
	aa := QuatToR4AA(p.Quaternion())
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f TH:%.4f RX:%.4f RY:%.4f RZ:%.4f}",
		p.point.X, p.point.Y, p.point.Z, aa.Theta, aa.RX, aa.RY, aa.RZ)
}

// Compose returns a·b, i.e. b expressed in a's parent frame.
func Compose(a, b Pose) Pose {
	return Pose{
		rotation: a.rotation.Mul3(b.rotation),
		point:    a.Transform(b.point),
	}
}

// PoseInverse returns the inverse transform of p.
func PoseInverse(p Pose) Pose {
	rt := p.rotation.Transpose()
	return Pose{rotation: rt, point: Rotate(rt, p.point).Mul(-1)}
}

// PoseBetween returns the pose of b relative to a, i.e. a⁻¹·b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// PoseAlmostEqual returns whether two poses are within 1e-8 in translation and rotation.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-8)
}

// PoseAlmostEqualEps returns whether two poses are within epsilon in translation and rotation (radians).
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	return R3VectorAlmostEqual(a.point, b.point, epsilon) && OrientationAlmostEqual(a.rotation, b.rotation, epsilon)
}

// RandomPose returns a pose with a uniformly random rotation and a translation in [-scale, scale]³.
func RandomPose(rnd *rand.Rand, scale float64) Pose {
	q := quat.Number{Real: rnd.NormFloat64(), Imag: rnd.NormFloat64(), Jmag: rnd.NormFloat64(), Kmag: rnd.NormFloat64()}
	pt := r3.Vector{X: 2*rnd.Float64() - 1, Y: 2*rnd.Float64() - 1, Z: 2*rnd.Float64() - 1}.Mul(scale)
	return NewPoseFromQuaternion(pt, q)
}

// R3VectorAlmostEqual compares two r3.Vector objects and returns if the all elementwise differences are less than epsilon.
func R3VectorAlmostEqual(a, b r3.Vector, epsilon float64) bool {
	return math.Abs(a.X-b.X) < epsilon && math.Abs(a.Y-b.Y) < epsilon && math.Abs(a.Z-b.Z) < epsilon
}

// Rotate applies a rotation matrix to a vector.
func Rotate(m mgl64.Mat3, v r3.Vector) r3.Vector {
	out := m.Mul3x1(mgl64.Vec3{v.X, v.Y, v.Z})
	return r3.Vector{X: out[0], Y: out[1], Z: out[2]}
}
