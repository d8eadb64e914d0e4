// Package tasks implements differential IK objectives. A task turns a Configuration into a linearized
// error e and Jacobian J with de/dq = -J, and contributes the weighted least-squares term
// ‖J·Δq - gain·e‖²_W to the QP objective.
package tasks

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/kinematics"
	"go.viam.com/diffik/utils"
)

// Task is an objective of the differential IK problem.
type Task interface {
	// ComputeError returns the task error at cfg.
	ComputeError(cfg *kinematics.Configuration) ([]float64, error)
	// ComputeJacobian returns the k×nv task Jacobian at cfg. Its sign is such that the derivative of the
	// error along a tangent direction v is -J·v.
	ComputeJacobian(cfg *kinematics.Configuration) (*mat.Dense, error)
	// ComputeQPObjective returns the task's (H, c) contribution to the QP objective ½Δqᵀ·H·Δq + cᵀ·Δq.
	ComputeQPObjective(cfg *kinematics.Configuration) (*mat.SymDense, []float64, error)
	String() string
}

// TargetNotSetError is returned when a task needing a target is evaluated before any target was set.
type TargetNotSetError struct {
	Task string
}

func (e *TargetNotSetError) Error() string {
	return fmt.Sprintf("no target set for %s", e.Task)
}

// IsTargetNotSet returns whether err is a TargetNotSetError.
func IsTargetNotSet(err error) bool {
	var tns *TargetNotSetError
	return errors.As(err, &tns)
}

// InvalidCostError is returned by setters given a negative or non-finite cost.
type InvalidCostError struct {
	Task string
	Cost []float64
}

func (e *InvalidCostError) Error() string {
	return fmt.Sprintf("%s: costs must be finite and non-negative, got %v", e.Task, e.Cost)
}

// NewInvalidCostError returns an InvalidCostError.
func NewInvalidCostError(task string, cost []float64) error {
	return &InvalidCostError{Task: task, Cost: append([]float64(nil), cost...)}
}

func validCosts(cost []float64) bool {
	for _, c := range cost {
		if c < 0 || !utils.IsFinite(c) {
			return false
		}
	}
	return true
}

// params holds the tunables every task shares.
type params struct {
	gain      float64
	lmDamping float64
}

// Gain returns the task gain.
func (p *params) Gain() float64 {
	return p.gain
}

// SetGain sets the task gain, the fraction of the error the task tries to remove in one step. It must lie
// in [0, 1].
func (p *params) SetGain(gain float64) error {
	if !(gain >= 0 && gain <= 1) {
		return errors.Errorf("task gain must be in [0, 1], got %v", gain)
	}
	p.gain = gain
	return nil
}

// LMDamping returns the Levenberg-Marquardt damping scale.
func (p *params) LMDamping() float64 {
	return p.lmDamping
}

// SetLMDamping sets the unitless Levenberg-Marquardt damping scale. It must be non-negative.
func (p *params) SetLMDamping(lmDamping float64) error {
	if !(lmDamping >= 0) || math.IsInf(lmDamping, 1) {
		return errors.Errorf("lm_damping must be finite and non-negative, got %v", lmDamping)
	}
	p.lmDamping = lmDamping
	return nil
}

// qpObjective builds the weighted least-squares objective shared by all tasks:
//
//	W = diag(cost), Jw = W·J, ew = W·(gain·e), μ = lmDamping·ewᵀew
//	H = JwᵀJw + μ·I, c = -Jwᵀew
func qpObjective(jac *mat.Dense, e, cost []float64, gain, lmDamping float64) (*mat.SymDense, []float64) {
	k, n := jac.Dims()
	jw := mat.NewDense(k, n, nil)
	ew := make([]float64, k)
	for i := 0; i < k; i++ {
		for j := 0; j < n; j++ {
			jw.Set(i, j, cost[i]*jac.At(i, j))
		}
		ew[i] = cost[i] * gain * e[i]
	}
	mu := lmDamping * floats.Dot(ew, ew)

	h := mat.NewSymDense(n, nil)
	h.SymOuterK(1, jw.T())
	for i := 0; i < n; i++ {
		h.SetSym(i, i, h.At(i, i)+mu)
	}

	var c mat.VecDense
	c.MulVec(jw.T(), mat.NewVecDense(k, ew))
	c.ScaleVec(-1, &c)
	return h, c.RawVector().Data
}
