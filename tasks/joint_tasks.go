package tasks

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/kinematics"
)

// jointTask is the part shared by tasks acting directly on joint coordinates. They skip the floating base,
// so their dimension is nv - rootNV and their Jacobian selects the matching rows of the identity.
type jointTask struct {
	params
	cost float64
}

func newJointTask(cost float64) (jointTask, error) {
	if !validCosts([]float64{cost}) {
		return jointTask{}, NewInvalidCostError("joint task", []float64{cost})
	}
	return jointTask{params: params{gain: 1}, cost: cost}, nil
}

// Cost returns the task cost.
func (t *jointTask) Cost() float64 {
	return t.cost
}

// SetCost sets the cost applied to every joint coordinate.
func (t *jointTask) SetCost(cost float64) error {
	if !validCosts([]float64{cost}) {
		return NewInvalidCostError("joint task", []float64{cost})
	}
	t.cost = cost
	return nil
}

func jointDim(cfg *kinematics.Configuration) (int, error) {
	p := cfg.Provider()
	k := p.NV() - p.RootNV()
	if k <= 0 {
		return 0, errors.Errorf("model %q has no joints besides its floating base", p.Name())
	}
	return k, nil
}

// ComputeJacobian returns the rows of the nv×nv identity past the floating base.
func (t *jointTask) ComputeJacobian(cfg *kinematics.Configuration) (*mat.Dense, error) {
	k, err := jointDim(cfg)
	if err != nil {
		return nil, err
	}
	root := cfg.Provider().RootNV()
	jac := mat.NewDense(k, cfg.NV(), nil)
	for i := 0; i < k; i++ {
		jac.Set(i, root+i, 1)
	}
	return jac, nil
}

func (t *jointTask) objective(cfg *kinematics.Configuration, e []float64) (*mat.SymDense, []float64, error) {
	jac, err := t.ComputeJacobian(cfg)
	if err != nil {
		return nil, nil, err
	}
	cost := make([]float64, len(e))
	for i := range cost {
		cost[i] = t.cost
	}
	h, c := qpObjective(jac, e, cost, t.gain, t.lmDamping)
	return h, c, nil
}

// PostureTask regulates the joint configuration toward a target configuration.
type PostureTask struct {
	jointTask
	target []float64
}

// NewPostureTask returns a posture task with the given cost per joint coordinate (per radian or meter).
func NewPostureTask(cost float64) (*PostureTask, error) {
	jt, err := newJointTask(cost)
	if err != nil {
		return nil, err
	}
	return &PostureTask{jointTask: jt}, nil
}

// SetTarget sets the target configuration. It is copied.
func (t *PostureTask) SetTarget(q []float64) {
	t.target = append([]float64(nil), q...)
}

// SetTargetFromConfiguration sets the target to the configuration's joint vector.
func (t *PostureTask) SetTargetFromConfiguration(cfg *kinematics.Configuration) {
	t.target = cfg.Q()
}

// Target returns a copy of the target configuration, nil if unset.
func (t *PostureTask) Target() []float64 {
	if t.target == nil {
		return nil
	}
	return append([]float64(nil), t.target...)
}

// ComputeError returns q_target ⊖ q past the floating base.
func (t *PostureTask) ComputeError(cfg *kinematics.Configuration) ([]float64, error) {
	if t.target == nil {
		return nil, &TargetNotSetError{Task: "posture task"}
	}
	if len(t.target) != cfg.NQ() {
		return nil, kinematics.NewIncorrectDimensionError("posture target", len(t.target), cfg.NQ())
	}
	if _, err := jointDim(cfg); err != nil {
		return nil, err
	}
	diff, err := cfg.Provider().Difference(cfg.Q(), t.target)
	if err != nil {
		return nil, err
	}
	return diff[cfg.Provider().RootNV():], nil
}

// ComputeQPObjective returns the task's contribution to the QP objective.
func (t *PostureTask) ComputeQPObjective(cfg *kinematics.Configuration) (*mat.SymDense, []float64, error) {
	e, err := t.ComputeError(cfg)
	if err != nil {
		return nil, nil, err
	}
	return t.objective(cfg, e)
}

func (t *PostureTask) String() string {
	return fmt.Sprintf("PostureTask(cost=%v, gain=%v, lm_damping=%v, target=%v)", t.cost, t.gain, t.lmDamping, t.target)
}

// JointVelocityTask asks each joint coordinate past the floating base to move by a target displacement per
// cycle. Its error does not depend on the configuration.
type JointVelocityTask struct {
	jointTask
	target []float64
}

// NewJointVelocityTask returns a joint velocity task with the given cost per joint coordinate.
func NewJointVelocityTask(cost float64) (*JointVelocityTask, error) {
	jt, err := newJointTask(cost)
	if err != nil {
		return nil, err
	}
	return &JointVelocityTask{jointTask: jt}, nil
}

// SetTarget sets the desired tangent displacement per cycle, one entry per coordinate past the floating
// base. It is copied.
func (t *JointVelocityTask) SetTarget(dq []float64) {
	t.target = append([]float64(nil), dq...)
}

// ComputeError returns the target displacement.
func (t *JointVelocityTask) ComputeError(cfg *kinematics.Configuration) ([]float64, error) {
	if t.target == nil {
		return nil, &TargetNotSetError{Task: "joint velocity task"}
	}
	k, err := jointDim(cfg)
	if err != nil {
		return nil, err
	}
	if len(t.target) != k {
		return nil, kinematics.NewIncorrectDimensionError("joint velocity target", len(t.target), k)
	}
	return append([]float64(nil), t.target...), nil
}

// ComputeQPObjective returns the task's contribution to the QP objective.
func (t *JointVelocityTask) ComputeQPObjective(cfg *kinematics.Configuration) (*mat.SymDense, []float64, error) {
	e, err := t.ComputeError(cfg)
	if err != nil {
		return nil, nil, err
	}
	return t.objective(cfg, e)
}

func (t *JointVelocityTask) String() string {
	return fmt.Sprintf("JointVelocityTask(cost=%v, gain=%v, target=%v)", t.cost, t.gain, t.target)
}

// DampingTask penalizes joint motion, bringing the robot to rest when nothing else drives it. The floating
// base is left undamped.
type DampingTask struct {
	jointTask
}

// NewDampingTask returns a damping task with the given cost per joint coordinate (per radian or meter of
// displacement per cycle).
func NewDampingTask(cost float64) (*DampingTask, error) {
	jt, err := newJointTask(cost)
	if err != nil {
		return nil, err
	}
	return &DampingTask{jointTask: jt}, nil
}

// ComputeError returns the zero vector of dimension nv - rootNV.
func (t *DampingTask) ComputeError(cfg *kinematics.Configuration) ([]float64, error) {
	k, err := jointDim(cfg)
	if err != nil {
		return nil, err
	}
	return make([]float64, k), nil
}

// ComputeQPObjective returns the task's contribution to the QP objective.
func (t *DampingTask) ComputeQPObjective(cfg *kinematics.Configuration) (*mat.SymDense, []float64, error) {
	e, err := t.ComputeError(cfg)
	if err != nil {
		return nil, nil, err
	}
	return t.objective(cfg, e)
}

func (t *DampingTask) String() string {
	return fmt.Sprintf("DampingTask(cost=%v)", t.cost)
}

var (
	_ Task = (*FrameTask)(nil)
	_ Task = (*PostureTask)(nil)
	_ Task = (*JointVelocityTask)(nil)
	_ Task = (*DampingTask)(nil)
)
