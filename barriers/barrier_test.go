package barriers

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/kinematics"
	"go.viam.com/diffik/referenceframe"
	"go.viam.com/diffik/spatialmath"
	"go.viam.com/diffik/utils"
)

// cartesianModel is three stacked prismatic joints along x, y and z carrying a "tool" frame, so the tool
// position equals q and its position Jacobian is the identity.
func cartesianModel(t *testing.T, limits ...referenceframe.Limit) *referenceframe.Model {
	t.Helper()
	m := referenceframe.NewModel("cartesian")
	parent := referenceframe.World
	for i, axis := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
		name := []string{"x", "y", "z"}[i]
		j := &referenceframe.Joint{Name: name, Type: referenceframe.PrismaticJoint, Parent: parent, Axis: axis}
		if i < len(limits) {
			j.Limits = []referenceframe.Limit{limits[i]}
		}
		test.That(t, m.AddJoint(j), test.ShouldBeNil)
		parent = name
	}
	test.That(t, m.AddFrame("tool", "z", spatialmath.NewZeroPose()), test.ShouldBeNil)
	test.That(t, m.Finalize(), test.ShouldBeNil)
	return m
}

func loadModel(t *testing.T, name string) *referenceframe.Model {
	t.Helper()
	m, err := referenceframe.ParseModelJSONFile(utils.ResolveFile("referenceframe/testdata/"+name+".json"), "")
	test.That(t, err, test.ShouldBeNil)
	return m
}

func newConfiguration(t *testing.T, p kinematics.Provider, q []float64) *kinematics.Configuration {
	t.Helper()
	cfg, err := kinematics.NewConfiguration(p, q)
	test.That(t, err, test.ShouldBeNil)
	return cfg
}

// checkBarrierJacobian verifies ∂h/∂q against central differences along every tangent direction.
func checkBarrierJacobian(t *testing.T, m *referenceframe.Model, q []float64, b Barrier) {
	t.Helper()
	const step = 1e-6
	jac, err := b.ComputeJacobian(newConfiguration(t, m, q))
	test.That(t, err, test.ShouldBeNil)
	barrierAt := func(k int, s float64) []float64 {
		v := make([]float64, m.NV())
		v[k] = s
		qn, err := m.Integrate(q, v)
		test.That(t, err, test.ShouldBeNil)
		h, err := b.ComputeBarrier(newConfiguration(t, m, qn))
		test.That(t, err, test.ShouldBeNil)
		return h
	}
	for k := 0; k < m.NV(); k++ {
		plus, minus := barrierAt(k, step), barrierAt(k, -step)
		for i := range plus {
			test.That(t, (plus[i]-minus[i])/(2*step), test.ShouldAlmostEqual, jac.At(i, k), 1e-6)
		}
	}
}

func TestClassK(t *testing.T) {
	for _, fn := range []ClassKFunc{ClassKLinear, ClassKSaturated} {
		test.That(t, fn(0), test.ShouldEqual, 0.)
		test.That(t, fn(0.5), test.ShouldBeLessThan, fn(1))
		test.That(t, fn(-1), test.ShouldBeLessThan, fn(-0.5))
	}
	test.That(t, ClassKSaturated(3), test.ShouldAlmostEqual, 0.75)
	test.That(t, ClassKSaturated(-3), test.ShouldAlmostEqual, -0.75)
	test.That(t, ClassKInverseMargin(0), test.ShouldEqual, 1.)
	test.That(t, ClassKInverseMargin(3), test.ShouldAlmostEqual, 0.25)
}

func TestPositionBarrierConstruction(t *testing.T) {
	lower := r3.Vector{X: -1, Y: -1, Z: 0}
	upper := r3.Vector{X: 1, Y: 1, Z: 1}

	_, err := NewPositionBarrier("tool", PositionBarrierConfig{})
	test.That(t, errors.Is(err, ErrNoPositionLimit), test.ShouldBeTrue)
	_, err = NewPositionBarrier("tool", PositionBarrierConfig{PMax: &upper, Axes: []int{}})
	test.That(t, errors.Is(err, ErrZeroDimension), test.ShouldBeTrue)
	_, err = NewPositionBarrier("tool", PositionBarrierConfig{PMax: &upper, Axes: []int{3}})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewPositionBarrier("tool", PositionBarrierConfig{PMax: &upper, Axes: []int{1, 1}})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewPositionBarrier("tool", PositionBarrierConfig{PMin: &lower, PMax: &upper, Gain: []float64{1, 2, 3, 4}})
	test.That(t, kinematics.IsDimensionError(err), test.ShouldBeTrue)
	_, err = NewPositionBarrier("tool", PositionBarrierConfig{PMin: &lower, Gain: []float64{-1}})
	test.That(t, err, test.ShouldNotBeNil)

	for _, tc := range []struct {
		name string
		cfg  PositionBarrierConfig
		dim  int
		gain []float64
	}{
		{"min only", PositionBarrierConfig{PMin: &lower}, 3, []float64{1, 1, 1}},
		{"both sides", PositionBarrierConfig{PMin: &lower, PMax: &upper, Gain: []float64{2}}, 6, []float64{2, 2, 2, 2, 2, 2}},
		{"per axis gain", PositionBarrierConfig{PMin: &lower, PMax: &upper, Gain: []float64{1, 2, 3}}, 6, []float64{1, 2, 3, 1, 2, 3}},
		{"z max", PositionBarrierConfig{PMax: &upper, Axes: []int{2}}, 1, []float64{1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b, err := NewPositionBarrier("tool", tc.cfg)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, b.Dim(), test.ShouldEqual, tc.dim)
			test.That(t, b.Gain(), test.ShouldResemble, tc.gain)
			test.That(t, b.Frame(), test.ShouldEqual, "tool")
			test.That(t, b.String(), test.ShouldContainSubstring, "PositionBarrier[tool]")
		})
	}
}

func TestPositionBarrierValues(t *testing.T) {
	m := cartesianModel(t)
	cfg := newConfiguration(t, m, []float64{0.2, -0.3, 0.5})
	lower := r3.Vector{X: -1, Y: -1, Z: 0}
	upper := r3.Vector{X: 1, Y: 1, Z: 1}
	b, err := NewPositionBarrier("tool", PositionBarrierConfig{PMin: &lower, PMax: &upper})
	test.That(t, err, test.ShouldBeNil)
	// the barrier keeps its own copy of the bounds
	upper.Z = 10

	h, err := b.ComputeBarrier(cfg)
	test.That(t, err, test.ShouldBeNil)
	want := []float64{1.2, 0.7, 0.5, 0.8, 1.3, 0.5}
	for i := range want {
		test.That(t, h[i], test.ShouldAlmostEqual, want[i])
	}

	jac, err := b.ComputeJacobian(cfg)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			id := 0.
			if i == k {
				id = 1
			}
			test.That(t, jac.At(i, k), test.ShouldAlmostEqual, id)
			test.That(t, jac.At(3+i, k), test.ShouldAlmostEqual, -id)
		}
	}

	g, bound, err := b.ComputeQPInequality(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.At(0, 0), test.ShouldAlmostEqual, -1)
	test.That(t, g.At(3, 0), test.ShouldAlmostEqual, 1)
	for i := range want {
		test.That(t, bound[i], test.ShouldAlmostEqual, 1/(1+want[i]))
	}

	zOnly, err := NewPositionBarrier("tool", PositionBarrierConfig{PMax: &upper, Axes: []int{2}, ClassK: ClassKLinear})
	test.That(t, err, test.ShouldBeNil)
	h, err = zOnly.ComputeBarrier(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h, test.ShouldHaveLength, 1)
	test.That(t, h[0], test.ShouldAlmostEqual, 9.5)

	missing, err := NewPositionBarrier("nowhere", PositionBarrierConfig{PMin: &lower})
	test.That(t, err, test.ShouldBeNil)
	_, err = missing.ComputeBarrier(cfg)
	test.That(t, referenceframe.IsFrameMissing(err), test.ShouldBeTrue)
}

func TestBarrierJacobians(t *testing.T) {
	rnd := rand.New(rand.NewSource(12))
	arm := loadModel(t, "arm6")
	lower := r3.Vector{X: -0.5, Y: -0.5, Z: 0.2}
	upper := r3.Vector{X: 0.5, Y: 0.5, Z: 1.2}
	pos, err := NewPositionBarrier("ee_link", PositionBarrierConfig{PMin: &lower, PMax: &upper, Axes: []int{0, 2}})
	test.That(t, err, test.ShouldBeNil)
	sphere, err := NewBodySphericalBarrier("ee_link", "elbow", 0.2, nil, nil, 0)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 5; i++ {
		q := arm.RandomConfiguration(rnd)
		checkBarrierJacobian(t, arm, q, pos)
		checkBarrierJacobian(t, arm, q, sphere)
	}

	floating := loadModel(t, "floating")
	limits, err := NewConfigurationBarrier(floating, nil, 0)
	test.That(t, err, test.ShouldBeNil)
	feet, err := NewBodySphericalBarrier("left_toe", "head", 0.5, nil, nil, 0)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		q := floating.RandomConfiguration(rnd)
		checkBarrierJacobian(t, floating, q, limits)
		checkBarrierJacobian(t, floating, q, feet)
	}
}

func TestConfigurationBarrier(t *testing.T) {
	m := cartesianModel(t, referenceframe.Limit{Min: -1, Max: 1}, referenceframe.Limit{Min: -1, Max: 1})
	b, err := NewConfigurationBarrier(m, nil, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Dim(), test.ShouldEqual, 4)
	test.That(t, b.Tangent().Joints(), test.ShouldResemble, []string{"x", "y"})
	test.That(t, b.Gain(), test.ShouldResemble, []float64{0.5, 0.5, 0.5, 0.5})

	cfg := newConfiguration(t, m, []float64{0.2, -0.3, 5})
	h, err := b.ComputeBarrier(cfg)
	test.That(t, err, test.ShouldBeNil)
	want := []float64{1.2, 0.7, 0.8, 1.3}
	for i := range want {
		test.That(t, h[i], test.ShouldAlmostEqual, want[i])
	}

	jac, err := b.ComputeJacobian(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Equal(jac, mat.NewDense(4, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		-1, 0, 0,
		0, -1, 0,
	})), test.ShouldBeTrue)

	_, bound, err := b.ComputeQPInequality(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bound[0], test.ShouldAlmostEqual, 0.5*1.2/2.2)

	_, err = NewConfigurationBarrier(cartesianModel(t), nil, 0)
	test.That(t, errors.Is(err, ErrZeroDimension), test.ShouldBeTrue)
}

func TestBodySphericalBarrier(t *testing.T) {
	_, err := NewBodySphericalBarrier("tool", "tool", 0.5, nil, nil, 0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewBodySphericalBarrier("tool", referenceframe.World, -0.5, nil, nil, 0)
	test.That(t, err, test.ShouldNotBeNil)

	b, err := NewBodySphericalBarrier("tool", referenceframe.World, 0.5, []float64{2}, nil, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Dim(), test.ShouldEqual, 1)
	f1, f2 := b.Frames()
	test.That(t, f1, test.ShouldEqual, "tool")
	test.That(t, f2, test.ShouldEqual, referenceframe.World)

	m := cartesianModel(t)
	cfg := newConfiguration(t, m, []float64{0.3, 0.4, 1})
	h, err := b.ComputeBarrier(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h[0], test.ShouldAlmostEqual, 1)
	jac, err := b.ComputeJacobian(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, jac.At(0, 0), test.ShouldAlmostEqual, 0.6)
	test.That(t, jac.At(0, 1), test.ShouldAlmostEqual, 0.8)
	test.That(t, jac.At(0, 2), test.ShouldAlmostEqual, 2)

	_, bound, err := b.ComputeQPInequality(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bound[0], test.ShouldAlmostEqual, 2)
}

func TestSafePolicyObjective(t *testing.T) {
	m := cartesianModel(t)
	cfg := newConfiguration(t, m, []float64{0, 0, 0})
	lower := r3.Vector{X: -1, Y: -1, Z: -1}
	upper := r3.Vector{X: 1, Y: 1, Z: 1}

	off, err := NewPositionBarrier("tool", PositionBarrierConfig{PMin: &lower, PMax: &upper})
	test.That(t, err, test.ShouldBeNil)
	h, c, err := off.ComputeQPObjective(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Norm(h, 1), test.ShouldEqual, 0.)
	test.That(t, c, test.ShouldResemble, []float64{0, 0, 0})

	b, err := NewPositionBarrier("tool", PositionBarrierConfig{PMin: &lower, PMax: &upper, R: 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.R(), test.ShouldEqual, 2.)
	h, c, err = b.ComputeQPObjective(cfg)
	test.That(t, err, test.ShouldBeNil)
	// ‖[I; -I]‖² = 6
	for i := 0; i < 3; i++ {
		test.That(t, h.At(i, i), test.ShouldAlmostEqual, 1./3)
		test.That(t, c[i], test.ShouldEqual, 0.)
	}

	b.SetSafePolicy(func(*kinematics.Configuration) []float64 { return []float64{1, 0, 0} })
	_, c, err = b.ComputeQPObjective(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c[0], test.ShouldAlmostEqual, -2./3)

	b.SetSafePolicy(func(*kinematics.Configuration) []float64 { return []float64{1} })
	_, _, err = b.ComputeQPObjective(cfg)
	test.That(t, kinematics.IsDimensionError(err), test.ShouldBeTrue)
}

// TestBarrierForwardInvariance steps a point with random commands clipped to satisfy G·Δq ≤ h exactly and
// checks the margins never turn negative.
func TestBarrierForwardInvariance(t *testing.T) {
	rnd := rand.New(rand.NewSource(99))
	m := cartesianModel(t)
	lower := r3.Vector{X: -0.5, Y: -0.5, Z: 0}
	upper := r3.Vector{X: 0.5, Y: 0.5, Z: 0.3}
	b, err := NewPositionBarrier("tool", PositionBarrierConfig{
		PMin: &lower, PMax: &upper, Gain: []float64{0.8}, ClassK: ClassKLinear,
	})
	test.That(t, err, test.ShouldBeNil)

	q := []float64{0, 0, 0.1}
	for step := 0; step < 300; step++ {
		cfg := newConfiguration(t, m, q)
		g, bound, err := b.ComputeQPInequality(cfg)
		test.That(t, err, test.ShouldBeNil)

		dq := make([]float64, 3)
		for k := range dq {
			dq[k] = 0.5 * (2*rnd.Float64() - 1)
		}
		// every row of G has a single non-zero entry on this model
		rows, _ := g.Dims()
		for r := 0; r < rows; r++ {
			for k := 0; k < 3; k++ {
				coef := g.At(r, k)
				if math.Abs(coef) < 1e-12 {
					continue
				}
				if limit := bound[r] / coef; coef > 0 {
					dq[k] = math.Min(dq[k], limit)
				} else {
					dq[k] = math.Max(dq[k], limit)
				}
			}
		}
		q, err = m.Integrate(q, dq)
		test.That(t, err, test.ShouldBeNil)

		h, err := b.ComputeBarrier(newConfiguration(t, m, q))
		test.That(t, err, test.ShouldBeNil)
		for _, v := range h {
			test.That(t, v, test.ShouldBeGreaterThanOrEqualTo, -1e-12)
		}
	}
}
