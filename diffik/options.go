package diffik

import (
	"go.viam.com/diffik/logging"
	"go.viam.com/diffik/qp"
)

// default values for the engine.
const (
	// Tikhonov regularization added to the summed task Hessian.
	defaultDamping = 1e-12

	// Fraction of the distance to a position limit a single step may cover.
	defaultConfigurationLimitGain = 0.5

	// Configurations further than this outside their limits trip the safety break.
	defaultLimitTolerance = 1e-6
)

// Options configures an Engine.
type Options struct {
	// Damping is the weight of the isotropic regularizer Damping·‖Δq‖² added to the objective.
	Damping float64 `json:"damping"`

	// SafetyBreak makes Solve refuse configurations outside the model's position limits.
	SafetyBreak bool `json:"safety_break"`

	// LimitTolerance is how far outside its limits a configuration may be before the safety break trips.
	LimitTolerance float64 `json:"limit_tolerance"`

	// ConfigurationLimitGain scales the distance to a position limit allowed per step, in (0, 1].
	ConfigurationLimitGain float64 `json:"configuration_limit_gain"`

	// FrozenJoints are held still with equality constraints.
	FrozenJoints []string `json:"frozen_joints"`

	// Solver is used for every cycle. An ADMM solver with default options is used when nil.
	Solver qp.Solver `json:"-"`

	Logger logging.Logger `json:"-"`
}

// NewDefaultOptions returns the engine defaults: safety break on, damping 1e-12, limit gain 0.5 and an
// ADMM solver.
func NewDefaultOptions(logger logging.Logger) Options {
	return Options{
		Damping:                defaultDamping,
		SafetyBreak:            true,
		LimitTolerance:         defaultLimitTolerance,
		ConfigurationLimitGain: defaultConfigurationLimitGain,
		Logger:                 logger,
	}
}
