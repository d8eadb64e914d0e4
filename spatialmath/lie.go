package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Below this angle the closed forms below are replaced by their Taylor expansions.
const smallAngle = 1e-2

// Twist is a spatial displacement or velocity. Six-vectors in this module always put the linear part first.
type Twist struct {
	Linear  r3.Vector
	Angular r3.Vector
}

// NewTwistFromSlice builds a Twist from a [linear; angular] slice of length six.
func NewTwistFromSlice(v []float64) Twist {
	return Twist{
		Linear:  r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Angular: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
	}
}

// Slice returns the twist as a [linear; angular] slice.
func (t Twist) Slice() []float64 {
	return []float64{t.Linear.X, t.Linear.Y, t.Linear.Z, t.Angular.X, t.Angular.Y, t.Angular.Z}
}

// Skew returns the cross-product matrix of v, so that Skew(v)·u = v × u.
func Skew(v r3.Vector) mgl64.Mat3 {
	// column major
	return mgl64.Mat3{
		0, v.Z, -v.Y,
		-v.Z, 0, v.X,
		v.Y, -v.X, 0,
	}
}

// ExpSO3 maps a rotation vector to a rotation matrix (Rodrigues' formula).
func ExpSO3(w r3.Vector) mgl64.Mat3 {
	theta := w.Norm()
	a, b := expCoefs(theta)
	W := Skew(w)
	return mgl64.Ident3().Add(W.Mul(a)).Add(W.Mul3(W).Mul(b))
}

// LogSO3 maps a rotation matrix to its rotation vector, with angle in [0, π].
func LogSO3(m mgl64.Mat3) r3.Vector {
	return quatToR3AA(RotationMatrixToQuat(m))
}

// JlogSO3 returns the Jacobian of LogSO3 at exp(w) under a right (body) perturbation, which is the inverse
// of the right Jacobian of SO(3): I + ½·[w] + k(θ)·[w]².
func JlogSO3(w r3.Vector) mgl64.Mat3 {
	W := Skew(w)
	return mgl64.Ident3().Add(W.Mul(0.5)).Add(W.Mul3(W).Mul(jlogCoef(w.Norm())))
}

// ExpSE3 maps a twist to the rigid transform it generates in unit time.
func ExpSE3(t Twist) Pose {
	theta := t.Angular.Norm()
	_, b := expCoefs(theta)
	c := vCoef(theta)
	W := Skew(t.Angular)
	v := mgl64.Ident3().Add(W.Mul(b)).Add(W.Mul3(W).Mul(c))
	return Pose{rotation: ExpSO3(t.Angular), point: Rotate(v, t.Linear)}
}

// LogSE3 maps a rigid transform to the twist generating it.
func LogSE3(p Pose) Twist {
	w := LogSO3(p.rotation)
	W := Skew(w)
	vinv := mgl64.Ident3().Sub(W.Mul(0.5)).Add(W.Mul3(W).Mul(jlogCoef(w.Norm())))
	return Twist{Linear: Rotate(vinv, p.point), Angular: w}
}

// JlogSE3 returns the 6×6 Jacobian of LogSE3 at p under a right (body) perturbation:
// LogSE3(p·ExpSE3(δ)) ≈ LogSE3(p) + JlogSE3(p)·δ.
func JlogSE3(p Pose) *mat.Dense {
	xi := LogSE3(p)
	a := JlogSO3(xi.Angular)
	q := barfootQ(xi.Linear.Mul(-1), xi.Angular.Mul(-1))
	upper := a.Mul3(q).Mul3(a).Mul(-1)

	out := mat.NewDense(6, 6, nil)
	setBlock(out, 0, 0, a)
	setBlock(out, 0, 3, upper)
	setBlock(out, 3, 3, a)
	return out
}

// Adjoint returns the 6×6 matrix mapping twists expressed in p's child frame to its parent frame:
// [[R, [t]·R], [0, R]].
func Adjoint(p Pose) *mat.Dense {
	out := mat.NewDense(6, 6, nil)
	setBlock(out, 0, 0, p.rotation)
	setBlock(out, 0, 3, Skew(p.point).Mul3(p.rotation))
	setBlock(out, 3, 3, p.rotation)
	return out
}

// barfootQ is the off-diagonal block of the left Jacobian of SE(3) (Barfoot, State Estimation for Robotics, 7.86).
func barfootQ(rho, phi r3.Vector) mgl64.Mat3 {
	theta := phi.Norm()
	var c1, c2, c3 float64
	if theta < smallAngle {
		t2 := theta * theta
		c1 = 1./6 - t2/120
		c2 = 1./24 - t2/720
		c3 = 1./120 - t2/2520
	} else {
		s, c := math.Sincos(theta)
		t2 := theta * theta
		c1 = (theta - s) / (t2 * theta)
		c2 = (t2 + 2*c - 2) / (2 * t2 * t2)
		c3 = (2*theta - 3*s + theta*c) / (2 * t2 * t2 * theta)
	}
	R := Skew(rho)
	P := Skew(phi)
	PR := P.Mul3(R)
	RP := R.Mul3(P)
	PRP := PR.Mul3(P)
	PP := P.Mul3(P)

	out := R.Mul(0.5)
	out = out.Add(PR.Add(RP).Add(PRP).Mul(c1))
	out = out.Add(PP.Mul3(R).Add(RP.Mul3(P)).Sub(PRP.Mul(3)).Mul(c2))
	out = out.Add(PRP.Mul3(P).Add(PP.Mul3(R).Mul3(P)).Mul(c3))
	return out
}

// expCoefs returns sin(θ)/θ and (1-cos θ)/θ².
func expCoefs(theta float64) (float64, float64) {
	if theta < smallAngle {
		t2 := theta * theta
		return 1 - t2/6 + t2*t2/120, 0.5 - t2/24 + t2*t2/720
	}
	s, c := math.Sincos(theta)
	return s / theta, (1 - c) / (theta * theta)
}

// vCoef returns (θ - sin θ)/θ³.
func vCoef(theta float64) float64 {
	if theta < smallAngle {
		t2 := theta * theta
		return 1./6 - t2/120 + t2*t2/5040
	}
	return (theta - math.Sin(theta)) / (theta * theta * theta)
}

// jlogCoef returns 1/θ² - (1+cos θ)/(2θ·sin θ).
func jlogCoef(theta float64) float64 {
	if theta < smallAngle {
		t2 := theta * theta
		return 1./12 + t2/720 + t2*t2/30240
	}
	return 1/(theta*theta) - 1/(2*theta*math.Tan(theta/2))
}

func setBlock(dst *mat.Dense, i, j int, m mgl64.Mat3) {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			dst.Set(i+r, j+c, m.At(r, c))
		}
	}
}
