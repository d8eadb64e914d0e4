package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// See here for a thorough explanation: https://en.wikipedia.org/wiki/Axis%E2%80%93angle_representation
// An R4 axis angle is a unit axis (RX, RY, RZ) plus a rotation Theta about it. Its R3 form scales the axis by
// Theta, which is the rotation vector used by the SO(3) exponential map.

// R4AA represents an R4 axis angle. It is the orientation format used in JSON model files.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA creates an R4AA describing no rotation.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// ToR3 converts an R4 angle axis to R3.
func (r4 *R4AA) ToR3() r3.Vector {
	n := math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
	if n == 0 {
		return r3.Vector{}
	}
	return r3.Vector{X: r4.RX * r4.Theta / n, Y: r4.RY * r4.Theta / n, Z: r4.RZ * r4.Theta / n}
}

// ToQuat converts an R4 axis angle to a unit quaternion.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/angleToQuaternion/index.htm
func (r4 *R4AA) ToQuat() quat.Number {
	v := r4.ToR3()
	n := v.Norm()
	if n == 0 {
		return quat.Number{Real: 1}
	}
	s := math.Sin(n/2) / n
	return quat.Number{Real: math.Cos(n / 2), Imag: v.X * s, Jmag: v.Y * s, Kmag: v.Z * s}
}

// R3ToR4 converts an R3 angle axis to R4.
func R3ToR4(aa r3.Vector) *R4AA {
	theta := aa.Norm()
	if theta == 0 {
		return NewR4AA()
	}
	return &R4AA{theta, aa.X / theta, aa.Y / theta, aa.Z / theta}
}

// QuatToR4AA converts a quat to an R4 axis angle with a non-negative angle in [0, π].
func QuatToR4AA(q quat.Number) *R4AA {
	return R3ToR4(quatToR3AA(q))
}

// quatToR3AA converts a unit quaternion to a rotation vector in the same way the C++ Eigen library does.
// https://eigen.tuxfamily.org/dox/AngleAxis_8h_source.html
func quatToR3AA(q quat.Number) r3.Vector {
	if q.Real < 0 {
		q = Flip(q)
	}
	denom := Norm(q)
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	if denom < 1e-12 {
		// first order: θ ≈ 2|v|
		return v.Mul(2)
	}
	angle := 2 * math.Atan2(denom, q.Real)
	return v.Mul(angle / denom)
}
