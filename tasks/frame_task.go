package tasks

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/kinematics"
	"go.viam.com/diffik/spatialmath"
)

// FrameTask regulates the pose of a model frame in the world. Its error and costs are expressed in the frame
// itself, position coordinates first.
type FrameTask struct {
	params
	frame  string
	cost   []float64
	target *spatialmath.Pose
}

// NewFrameTask returns a task driving frame to a target pose, with isotropic position cost (per meter) and
// orientation cost (per radian). The gain defaults to 1 and the Levenberg-Marquardt damping to 1e-6.
func NewFrameTask(frame string, positionCost, orientationCost float64) (*FrameTask, error) {
	t := &FrameTask{
		params: params{gain: 1, lmDamping: 1e-6},
		frame:  frame,
		cost:   make([]float64, 6),
	}
	if err := t.SetPositionCost(positionCost); err != nil {
		return nil, err
	}
	if err := t.SetOrientationCost(orientationCost); err != nil {
		return nil, err
	}
	return t, nil
}

// Frame returns the name of the regulated frame.
func (t *FrameTask) Frame() string {
	return t.frame
}

// Cost returns a copy of the 6D cost vector.
func (t *FrameTask) Cost() []float64 {
	return append([]float64(nil), t.cost...)
}

// SetPositionCost sets the position cost: one value for all axes or one per axis of the frame.
func (t *FrameTask) SetPositionCost(cost ...float64) error {
	return t.setCost(0, cost)
}

// SetOrientationCost sets the orientation cost: one value for all axes or one per axis of the frame.
func (t *FrameTask) SetOrientationCost(cost ...float64) error {
	return t.setCost(3, cost)
}

func (t *FrameTask) setCost(offset int, cost []float64) error {
	if len(cost) != 1 && len(cost) != 3 {
		return kinematics.NewIncorrectDimensionError("cost of "+t.String(), len(cost), 3)
	}
	if !validCosts(cost) {
		return NewInvalidCostError(t.String(), cost)
	}
	for i := 0; i < 3; i++ {
		if len(cost) == 1 {
			t.cost[offset+i] = cost[0]
		} else {
			t.cost[offset+i] = cost[i]
		}
	}
	return nil
}

// SetTarget sets the target pose of the frame in the world.
func (t *FrameTask) SetTarget(target spatialmath.Pose) {
	t.target = &target
}

// SetTargetFromConfiguration sets the target to the frame's current pose in cfg.
func (t *FrameTask) SetTargetFromConfiguration(cfg *kinematics.Configuration) error {
	pose, err := cfg.FramePose(t.frame)
	if err != nil {
		return err
	}
	t.SetTarget(pose)
	return nil
}

// Target returns the target pose and whether one was set.
func (t *FrameTask) Target() (spatialmath.Pose, bool) {
	if t.target == nil {
		return spatialmath.Pose{}, false
	}
	return *t.target, true
}

// targetToFrame returns the pose of the frame relative to the target, T_tb = T_0t⁻¹·T_0b.
func (t *FrameTask) targetToFrame(cfg *kinematics.Configuration) (spatialmath.Pose, error) {
	if t.target == nil {
		return spatialmath.Pose{}, &TargetNotSetError{Task: "frame " + t.frame}
	}
	pose, err := cfg.FramePose(t.frame)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return spatialmath.PoseBetween(*t.target, pose), nil
}

// ComputeError returns e = -log6(T_tb), the twist taking the frame to its target.
func (t *FrameTask) ComputeError(cfg *kinematics.Configuration) ([]float64, error) {
	tb, err := t.targetToFrame(cfg)
	if err != nil {
		return nil, err
	}
	e := spatialmath.LogSE3(tb).Slice()
	for i := range e {
		e[i] = -e[i]
	}
	return e, nil
}

// ComputeJacobian returns J = Jlog6(T_tb)·J_b where J_b is the frame's body Jacobian.
func (t *FrameTask) ComputeJacobian(cfg *kinematics.Configuration) (*mat.Dense, error) {
	tb, err := t.targetToFrame(cfg)
	if err != nil {
		return nil, err
	}
	jb, err := cfg.FrameJacobian(t.frame)
	if err != nil {
		return nil, err
	}
	jac := mat.NewDense(6, cfg.NV(), nil)
	jac.Mul(spatialmath.JlogSE3(tb), jb)
	return jac, nil
}

// ComputeQPObjective returns the task's contribution to the QP objective.
func (t *FrameTask) ComputeQPObjective(cfg *kinematics.Configuration) (*mat.SymDense, []float64, error) {
	jac, err := t.ComputeJacobian(cfg)
	if err != nil {
		return nil, nil, err
	}
	e, err := t.ComputeError(cfg)
	if err != nil {
		return nil, nil, err
	}
	h, c := qpObjective(jac, e, t.cost, t.gain, t.lmDamping)
	return h, c, nil
}

func (t *FrameTask) String() string {
	target := "unset"
	if t.target != nil {
		target = t.target.String()
	}
	return fmt.Sprintf("FrameTask(frame=%s, gain=%v, position_cost=%v, orientation_cost=%v, lm_damping=%v, target=%s)",
		t.frame, t.gain, t.cost[0:3], t.cost[3:6], t.lmDamping, target)
}
