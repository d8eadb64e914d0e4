package spatialmath

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestExpLogSO3(t *testing.T) {
	for _, w := range []r3.Vector{
		{},
		{X: 1e-9},
		{X: 0.3, Y: -0.2, Z: 0.1},
		{Z: math.Pi / 2},
		{X: 1, Y: 1, Z: 1},
		{Y: 3.1},
	} {
		got := LogSO3(ExpSO3(w))
		test.That(t, R3VectorAlmostEqual(got, w, 1e-9), test.ShouldBeTrue)
	}
}

func TestExpSO3IsRotation(t *testing.T) {
	m := ExpSO3(r3.Vector{X: 0.4, Y: -1.1, Z: 0.7})
	test.That(t, m.Det(), test.ShouldAlmostEqual, 1)
	id := m.Transpose().Mul3(m)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1
			}
			test.That(t, id.At(i, j), test.ShouldAlmostEqual, want)
		}
	}
	// quarter turn about z sends x to y
	q := ExpSO3(r3.Vector{Z: math.Pi / 2})
	test.That(t, R3VectorAlmostEqual(Rotate(q, r3.Vector{X: 1}), r3.Vector{Y: 1}, 1e-12), test.ShouldBeTrue)
}

func TestExpLogSE3(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		xi := Twist{
			Linear:  r3.Vector{X: rnd.NormFloat64(), Y: rnd.NormFloat64(), Z: rnd.NormFloat64()},
			Angular: r3.Vector{X: rnd.NormFloat64(), Y: rnd.NormFloat64(), Z: rnd.NormFloat64()}.Mul(0.8),
		}
		got := LogSE3(ExpSE3(xi))
		test.That(t, R3VectorAlmostEqual(got.Linear, xi.Linear, 1e-9), test.ShouldBeTrue)
		test.That(t, R3VectorAlmostEqual(got.Angular, xi.Angular, 1e-9), test.ShouldBeTrue)
	}

	// pure translation
	p := ExpSE3(Twist{Linear: r3.Vector{X: 1, Y: 2, Z: 3}})
	test.That(t, PoseAlmostEqual(p, NewPoseFromPoint(r3.Vector{X: 1, Y: 2, Z: 3})), test.ShouldBeTrue)
}

func TestJlogSO3FiniteDifference(t *testing.T) {
	const h = 1e-6
	w := r3.Vector{X: 0.5, Y: -0.3, Z: 0.9}
	r := ExpSO3(w)
	jlog := JlogSO3(w)
	for k := 0; k < 3; k++ {
		var d r3.Vector
		switch k {
		case 0:
			d.X = h
		case 1:
			d.Y = h
		default:
			d.Z = h
		}
		plus := LogSO3(r.Mul3(ExpSO3(d)))
		minus := LogSO3(r.Mul3(ExpSO3(d.Mul(-1))))
		col := plus.Sub(minus).Mul(1 / (2 * h))
		test.That(t, col.X, test.ShouldAlmostEqual, jlog.At(0, k), 1e-6)
		test.That(t, col.Y, test.ShouldAlmostEqual, jlog.At(1, k), 1e-6)
		test.That(t, col.Z, test.ShouldAlmostEqual, jlog.At(2, k), 1e-6)
	}
}

func TestJlogSE3FiniteDifference(t *testing.T) {
	const h = 1e-6
	rnd := rand.New(rand.NewSource(7))
	for _, p := range []Pose{
		NewZeroPose(),
		NewPoseFromPoint(r3.Vector{X: 0.1, Y: -0.4, Z: 0.2}),
		ExpSE3(Twist{Linear: r3.Vector{X: 0.3, Y: 0.2, Z: -0.5}, Angular: r3.Vector{X: 0.2, Y: 0.7, Z: -0.4}}),
		ExpSE3(Twist{Linear: r3.Vector{X: -1}, Angular: r3.Vector{X: 1e-4, Y: 2e-4}}),
		RandomPose(rnd, 1),
	} {
		jlog := JlogSE3(p)
		for k := 0; k < 6; k++ {
			d := make([]float64, 6)
			d[k] = h
			plus := LogSE3(Compose(p, ExpSE3(NewTwistFromSlice(d)))).Slice()
			d[k] = -h
			minus := LogSE3(Compose(p, ExpSE3(NewTwistFromSlice(d)))).Slice()
			for i := 0; i < 6; i++ {
				fd := (plus[i] - minus[i]) / (2 * h)
				test.That(t, fd, test.ShouldAlmostEqual, jlog.At(i, k), 1e-6)
			}
		}
	}
}

func TestAdjoint(t *testing.T) {
	// Ad(p)·ξ must equal log(p·exp(εξ)·p⁻¹)/ε for small ε.
	p := ExpSE3(Twist{Linear: r3.Vector{X: 0.3, Y: -0.1, Z: 0.6}, Angular: r3.Vector{X: -0.4, Y: 0.2, Z: 1.1}})
	xi := []float64{0.1, 0.2, -0.3, 0.4, -0.2, 0.3}
	const eps = 1e-7
	small := make([]float64, 6)
	for i := range xi {
		small[i] = xi[i] * eps
	}
	conj := LogSE3(Compose(Compose(p, ExpSE3(NewTwistFromSlice(small))), PoseInverse(p))).Slice()

	var got mat.VecDense
	got.MulVec(Adjoint(p), mat.NewVecDense(6, xi))
	for i := 0; i < 6; i++ {
		test.That(t, conj[i]/eps, test.ShouldAlmostEqual, got.AtVec(i), 1e-5)
	}
}

func TestSmallAngleCoefficientsContinuous(t *testing.T) {
	below := smallAngle * (1 - 1e-9)
	above := smallAngle * (1 + 1e-9)
	for _, f := range []func(float64) float64{
		jlogCoef,
		vCoef,
		func(x float64) float64 { a, _ := expCoefs(x); return a },
		func(x float64) float64 { _, b := expCoefs(x); return b },
	} {
		test.That(t, f(below), test.ShouldAlmostEqual, f(above), 1e-9)
	}
}
