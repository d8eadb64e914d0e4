// Package kinematics holds what the differential IK engine needs from a robot model: the Provider contract,
// the per-cycle Configuration snapshot and the BoundedTangent subspace.
package kinematics

import (
	"go.viam.com/diffik/referenceframe"
)

// Provider supplies the rigid-body kinematics of a robot model. *referenceframe.Model implements it.
type Provider interface {
	Name() string
	// NQ is the dimension of configuration vectors, NV the dimension of tangent (velocity) vectors.
	NQ() int
	NV() int
	// RootNV is the tangent dimension of the floating base, zero for fixed-base robots.
	RootNV() int
	// Joints lists each joint's slice of the configuration and tangent vectors, in order.
	Joints() []referenceframe.JointInfo
	LowerPositionLimit() []float64
	UpperPositionLimit() []float64
	VelocityLimit() []float64
	Neutral() []float64
	Integrate(q, v []float64) ([]float64, error)
	Difference(q0, q1 []float64) ([]float64, error)
	ForwardKinematics(q []float64) (referenceframe.KinematicState, error)
}

// NewIncorrectDimensionError returns an error indicating that what has actual entries instead of expected.
func NewIncorrectDimensionError(what string, actual, expected int) error {
	return referenceframe.NewIncorrectDimensionError(what, actual, expected)
}

// IsDimensionError returns whether err is a dimension-mismatch error.
func IsDimensionError(err error) bool {
	return referenceframe.IsDimensionError(err)
}

var _ Provider = (*referenceframe.Model)(nil)
