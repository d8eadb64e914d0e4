package spatialmath

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestComposeInverse(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		a := RandomPose(rnd, 2)
		b := RandomPose(rnd, 2)
		test.That(t, PoseAlmostEqual(Compose(a, PoseInverse(a)), NewZeroPose()), test.ShouldBeTrue)
		test.That(t, PoseAlmostEqual(Compose(a, PoseBetween(a, b)), b), test.ShouldBeTrue)
	}
}

func TestTransform(t *testing.T) {
	p := NewPoseFromAxisAngle(r3.Vector{X: 1}, r3.Vector{Z: 1}, math.Pi/2)
	got := p.Transform(r3.Vector{X: 1})
	test.That(t, got.X, test.ShouldAlmostEqual, 1)
	test.That(t, got.Y, test.ShouldAlmostEqual, 1)
	test.That(t, got.Z, test.ShouldAlmostEqual, 0)

	// a zero axis means no rotation
	p = NewPoseFromAxisAngle(r3.Vector{Y: 2}, r3.Vector{}, 1)
	test.That(t, PoseAlmostEqual(p, NewPoseFromPoint(r3.Vector{Y: 2})), test.ShouldBeTrue)
}

func TestQuaternionRoundTrip(t *testing.T) {
	th := math.Pi / 4
	q45x := quat.Number{Real: math.Cos(th / 2), Imag: math.Sin(th / 2)}
	p := NewPoseFromQuaternion(r3.Vector{}, q45x)
	q := p.Quaternion()
	test.That(t, q.Real, test.ShouldAlmostEqual, q45x.Real)
	test.That(t, q.Imag, test.ShouldAlmostEqual, q45x.Imag)
	test.That(t, q.Jmag, test.ShouldAlmostEqual, 0)
	test.That(t, q.Kmag, test.ShouldAlmostEqual, 0)

	rnd := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		in := Normalize(quat.Number{
			Real: rnd.NormFloat64(), Imag: rnd.NormFloat64(), Jmag: rnd.NormFloat64(), Kmag: rnd.NormFloat64(),
		})
		out := RotationMatrixToQuat(QuatToRotationMatrix(in))
		test.That(t, QuaternionAlmostEqual(in, out, 1e-9), test.ShouldBeTrue)
		test.That(t, out.Real, test.ShouldBeGreaterThanOrEqualTo, 0)
	}
}

func TestAxisAngleRoundTrip(t *testing.T) {
	data := []R4AA{
		{1, 1, 1, 1},
		{1, 1, 0, 0},
		{1, 0, 1, 0},
		{1, 0, 0, 1},
	}

	// Quaternion [x, y, z, w]
	// from https://www.andre-gaschler.com/rotationconverter/
	qc := [][]float64{
		{0.2767965, 0.2767965, 0.2767965, 0.8775826},
		{0.4794255, 0, 0, 0.8775826},
		{0, 0.4794255, 0, 0.8775826},
		{0, 0, 0.4794255, 0.8775826},
	}

	for idx, d := range data {
		q := d.ToQuat()
		test.That(t, q.Real, test.ShouldAlmostEqual, qc[idx][3], .00001)
		test.That(t, q.Imag, test.ShouldAlmostEqual, qc[idx][0], .00001)
		test.That(t, q.Jmag, test.ShouldAlmostEqual, qc[idx][1], .00001)
		test.That(t, q.Kmag, test.ShouldAlmostEqual, qc[idx][2], .00001)

		d2 := QuatToR4AA(q)
		n := math.Sqrt(d.RX*d.RX + d.RY*d.RY + d.RZ*d.RZ)
		test.That(t, d2.Theta, test.ShouldAlmostEqual, d.Theta)
		test.That(t, d2.RX, test.ShouldAlmostEqual, d.RX/n)
		test.That(t, d2.RY, test.ShouldAlmostEqual, d.RY/n)
		test.That(t, d2.RZ, test.ShouldAlmostEqual, d.RZ/n)
	}
	test.That(t, *QuatToR4AA(quat.Number{Real: 1}), test.ShouldResemble, *NewR4AA())
}

func TestOrientationAlmostEqual(t *testing.T) {
	a := ExpSO3(r3.Vector{X: 0.2})
	b := ExpSO3(r3.Vector{X: 0.2 + 1e-3})
	test.That(t, OrientationAlmostEqual(a, b, 1e-2), test.ShouldBeTrue)
	test.That(t, OrientationAlmostEqual(a, b, 1e-4), test.ShouldBeFalse)
}
