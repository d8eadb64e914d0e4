package kinematics

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/diffik/referenceframe"
	"go.viam.com/diffik/utils"
)

func loadArm(t *testing.T) *referenceframe.Model {
	t.Helper()
	m, err := referenceframe.ParseModelJSONFile(utils.ResolveFile("referenceframe/testdata/arm6.json"), "")
	test.That(t, err, test.ShouldBeNil)
	return m
}

func TestNewConfiguration(t *testing.T) {
	arm := loadArm(t)
	_, err := NewConfiguration(arm, []float64{1, 2})
	test.That(t, err, test.ShouldBeError, NewIncorrectDimensionError("configuration", 2, 6))

	q := []float64{0.1, -0.2, 0.3, 0.4, -0.5, 0.6}
	cfg, err := NewConfiguration(arm, q)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.NQ(), test.ShouldEqual, 6)
	test.That(t, cfg.NV(), test.ShouldEqual, 6)
	test.That(t, cfg.Provider(), test.ShouldEqual, arm)

	// the snapshot does not alias the caller's slice, nor hands out its own
	q[0] = 9
	test.That(t, cfg.Q()[0], test.ShouldEqual, 0.1)
	got := cfg.Q()
	got[1] = 9
	test.That(t, cfg.Q()[1], test.ShouldEqual, -0.2)
}

func TestConfigurationFrames(t *testing.T) {
	arm := loadArm(t)
	q := arm.RandomConfiguration(rand.New(rand.NewSource(2)))
	cfg, err := NewConfiguration(arm, q)
	test.That(t, err, test.ShouldBeNil)

	st, err := arm.ForwardKinematics(q)
	test.That(t, err, test.ShouldBeNil)
	want, err := st.FramePose("ee_link")
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 2; i++ {
		pose, err := cfg.FramePose("ee_link")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose, test.ShouldResemble, want)
	}

	jac, err := cfg.FrameJacobian("ee_link")
	test.That(t, err, test.ShouldBeNil)
	before := jac.At(0, 0)
	jac.Set(0, 0, 1234)
	again, err := cfg.FrameJacobian("ee_link")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.At(0, 0), test.ShouldEqual, before)

	_, err = cfg.FramePose("missing")
	test.That(t, referenceframe.IsFrameMissing(err), test.ShouldBeTrue)
	_, err = cfg.FrameJacobian("missing")
	test.That(t, referenceframe.IsFrameMissing(err), test.ShouldBeTrue)
}

func TestWorldPositionJacobian(t *testing.T) {
	const h = 1e-6
	arm := loadArm(t)
	q := arm.RandomConfiguration(rand.New(rand.NewSource(8)))
	cfg, err := NewConfiguration(arm, q)
	test.That(t, err, test.ShouldBeNil)
	jac, err := cfg.WorldPositionJacobian("ee_link")
	test.That(t, err, test.ShouldBeNil)

	position := func(qq []float64) []float64 {
		c, err := NewConfiguration(arm, qq)
		test.That(t, err, test.ShouldBeNil)
		p, err := c.FramePose("ee_link")
		test.That(t, err, test.ShouldBeNil)
		return []float64{p.Point().X, p.Point().Y, p.Point().Z}
	}
	for k := 0; k < arm.NV(); k++ {
		plus := append([]float64(nil), q...)
		minus := append([]float64(nil), q...)
		plus[k] += h
		minus[k] -= h
		pp, pm := position(plus), position(minus)
		for i := 0; i < 3; i++ {
			test.That(t, (pp[i]-pm[i])/(2*h), test.ShouldAlmostEqual, jac.At(i, k), 1e-6)
		}
	}
}

func TestConfigurationIntegrate(t *testing.T) {
	arm := loadArm(t)
	cfg, err := NewConfiguration(arm, arm.Neutral())
	test.That(t, err, test.ShouldBeNil)
	next, err := cfg.Integrate([]float64{1, 2, 3, 4, 5, 6}, 0.1)
	test.That(t, err, test.ShouldBeNil)
	for i, v := range next {
		test.That(t, v, test.ShouldAlmostEqual, 0.1*float64(i+1))
	}
	_, err = cfg.Integrate([]float64{1}, 0.1)
	test.That(t, IsDimensionError(err), test.ShouldBeTrue)
}

func TestCheckLimits(t *testing.T) {
	arm := loadArm(t)
	cfg, err := NewConfiguration(arm, arm.Neutral())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.CheckLimits(0), test.ShouldBeNil)

	q := arm.Neutral()
	q[2] = 7
	cfg, err = NewConfiguration(arm, q)
	test.That(t, err, test.ShouldBeNil)
	err = cfg.CheckLimits(1e-8)
	test.That(t, errors.Is(err, ErrNotWithinConfigurationLimits), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "elbow")
	// a generous tolerance accepts it
	test.That(t, cfg.CheckLimits(1), test.ShouldBeNil)
}
