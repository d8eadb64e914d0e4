package kinematics

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/diffik/referenceframe"
)

func threeJointModel(t *testing.T) *referenceframe.Model {
	t.Helper()
	m := referenceframe.NewModel("three")
	z := r3.Vector{Z: 1}
	test.That(t, m.AddJoint(&referenceframe.Joint{
		Name: "j1", Type: referenceframe.RevoluteJoint, Axis: z,
		Limits: []referenceframe.Limit{{Min: -0.5, Max: 0.5}}, VelocityLimits: []float64{2},
	}), test.ShouldBeNil)
	test.That(t, m.AddJoint(&referenceframe.Joint{
		Name: "j2", Type: referenceframe.RevoluteJoint, Parent: "j1", Axis: z,
		Limits: []referenceframe.Limit{{Min: 0.3, Max: 0.3 + 1e-12}}, VelocityLimits: []float64{3},
	}), test.ShouldBeNil)
	test.That(t, m.AddJoint(&referenceframe.Joint{
		Name: "j3", Type: referenceframe.PrismaticJoint, Parent: "j2", Axis: z,
		Limits: []referenceframe.Limit{referenceframe.Unbounded}, VelocityLimits: []float64{4},
	}), test.ShouldBeNil)
	test.That(t, m.Finalize(), test.ShouldBeNil)
	return m
}

func TestBoundedTangentSelection(t *testing.T) {
	bt := NewBoundedTangent(threeJointModel(t))
	test.That(t, bt.Indices(), test.ShouldResemble, []int{0})
	test.That(t, bt.Joints(), test.ShouldResemble, []string{"j1"})
	test.That(t, bt.Dim(), test.ShouldEqual, 1)
	test.That(t, bt.NV(), test.ShouldEqual, 3)
	test.That(t, bt.VelocityLimit(), test.ShouldResemble, []float64{2})

	p := bt.Projection()
	r, c := p.Dims()
	test.That(t, r, test.ShouldEqual, 1)
	test.That(t, c, test.ShouldEqual, 3)
	test.That(t, p.At(0, 0), test.ShouldEqual, 1.)
	test.That(t, p.At(0, 1), test.ShouldEqual, 0.)

	got, err := bt.Project([]float64{7, 8, 9})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, []float64{7})

	_, err = bt.Project([]float64{1, 2})
	test.That(t, err, test.ShouldBeError, NewIncorrectDimensionError("tangent vector", 2, 3))
	test.That(t, IsDimensionError(err), test.ShouldBeTrue)

	// indices are handed out as copies
	idx := bt.Indices()
	idx[0] = 2
	test.That(t, bt.Indices(), test.ShouldResemble, []int{0})
}

func TestBoundedTangentMultiDoF(t *testing.T) {
	quatLimits := func(upper float64) []referenceframe.Limit {
		return []referenceframe.Limit{{Min: -1, Max: 1}, {Min: -1, Max: 1}, {Min: -1, Max: 1}, {Min: -1, Max: upper}}
	}
	for _, tc := range []struct {
		name    string
		upper   float64
		indices []int
	}{
		{"all coordinates bounded", 1, []int{0, 1, 2, 3}},
		{"one coordinate unbounded", math.Inf(1), []int{3}},
		{"one coordinate beyond threshold", 1e21, []int{3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := referenceframe.NewModel("ball")
			test.That(t, m.AddJoint(&referenceframe.Joint{
				Name: "ball", Type: referenceframe.SphericalJoint, Limits: quatLimits(tc.upper),
			}), test.ShouldBeNil)
			test.That(t, m.AddJoint(&referenceframe.Joint{
				Name: "slide", Type: referenceframe.PrismaticJoint, Parent: "ball", Axis: r3.Vector{X: 1},
				Limits: []referenceframe.Limit{{Min: 0, Max: 0.2}},
			}), test.ShouldBeNil)
			test.That(t, m.Finalize(), test.ShouldBeNil)

			bt := NewBoundedTangent(m)
			test.That(t, bt.Indices(), test.ShouldResemble, tc.indices)
			got, err := bt.Project([]float64{10, 11, 12, 13})
			test.That(t, err, test.ShouldBeNil)
			want := make([]float64, 0, len(tc.indices))
			for _, i := range tc.indices {
				want = append(want, float64(10+i))
			}
			test.That(t, got, test.ShouldResemble, want)
		})
	}
}

func TestBoundedTangentEmpty(t *testing.T) {
	m := referenceframe.NewModel("free")
	test.That(t, m.AddJoint(&referenceframe.Joint{Name: "base", Type: referenceframe.FreeFlyerJoint}), test.ShouldBeNil)
	test.That(t, m.Finalize(), test.ShouldBeNil)
	bt := NewBoundedTangent(m)
	test.That(t, bt.Dim(), test.ShouldEqual, 0)
	test.That(t, bt.Projection(), test.ShouldBeNil)
	got, err := bt.Project(make([]float64, 6))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldBeEmpty)
}

func TestLimitDisplacements(t *testing.T) {
	bt := NewBoundedTangent(threeJointModel(t))
	toLower, toUpper, err := bt.LimitDisplacements([]float64{0.1, 0.3, 5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, toLower, test.ShouldHaveLength, 1)
	test.That(t, toLower[0], test.ShouldAlmostEqual, -0.6)
	test.That(t, toUpper[0], test.ShouldAlmostEqual, 0.4)

	_, _, err = bt.LimitDisplacements([]float64{0.1})
	test.That(t, IsDimensionError(err), test.ShouldBeTrue)
}
