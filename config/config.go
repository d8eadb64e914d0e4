// Package config defines the configuration surface of the differential IK engine and its control loop.
// Values come from defaults, then DIFFIK_* environment variables, then an optional JSON file.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"math"

	"github.com/a8m/envsubst"
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/diffik/control"
	"go.viam.com/diffik/diffik"
	"go.viam.com/diffik/logging"
	"go.viam.com/diffik/qp"
)

// Supported QP solvers.
const (
	SolverADMM  = "admm"
	SolverNlopt = "nlopt"
)

// Config holds the engine and loop settings.
type Config struct {
	// Dt is the step used when stepping the engine offline, in seconds.
	Dt float64 `json:"dt" env:"DIFFIK_DT" envDefault:"0.01"`

	Damping                float64  `json:"damping" env:"DIFFIK_DAMPING" envDefault:"1e-12"`
	SafetyBreak            bool     `json:"safety_break" env:"DIFFIK_SAFETY_BREAK" envDefault:"true"`
	ConfigurationLimitGain float64  `json:"configuration_limit_gain" env:"DIFFIK_CONFIGURATION_LIMIT_GAIN" envDefault:"0.5"`
	FrozenJoints           []string `json:"frozen_joints" env:"DIFFIK_FROZEN_JOINTS" envSeparator:","`

	Solver        string  `json:"solver" env:"DIFFIK_SOLVER" envDefault:"admm"`
	MaxIterations int     `json:"max_iterations" env:"DIFFIK_MAX_ITERATIONS" envDefault:"4000"`
	EpsAbs        float64 `json:"eps_abs" env:"DIFFIK_EPS_ABS" envDefault:"1e-7"`
	EpsRel        float64 `json:"eps_rel" env:"DIFFIK_EPS_REL" envDefault:"1e-7"`

	LogLevel    string  `json:"log_level" env:"DIFFIK_LOG_LEVEL" envDefault:"info"`
	FrequencyHz float64 `json:"frequency_hz" env:"DIFFIK_FREQUENCY_HZ" envDefault:"100"`
}

// New returns the defaults overridden by the environment.
func New() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	return &cfg, nil
}

// Read reads a JSON config file on top of New. ${VAR} references in the file are expanded from the
// environment first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader decodes a JSON config on top of New and validates it. originalPath is only used in errors.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg, err := New()
	if err != nil {
		return nil, err
	}
	if err := json.NewDecoder(r).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode config from %q", originalPath)
	}
	if err := cfg.Validate(originalPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns every problem of the config, combined.
func (cfg *Config) Validate(path string) error {
	var errs error
	fail := func(err error) {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, err))
	}
	positive := func(field string, v float64) {
		if !(v > 0) || math.IsInf(v, 1) {
			fail(errors.Errorf("%s must be positive and finite, got %v", field, v))
		}
	}

	positive("dt", cfg.Dt)
	positive("eps_abs", cfg.EpsAbs)
	positive("eps_rel", cfg.EpsRel)
	if !(cfg.Damping >= 0) || math.IsInf(cfg.Damping, 1) {
		fail(errors.Errorf("damping must be finite and non-negative, got %v", cfg.Damping))
	}
	if !(cfg.ConfigurationLimitGain > 0 && cfg.ConfigurationLimitGain <= 1) {
		fail(errors.Errorf("configuration_limit_gain must be in (0, 1], got %v", cfg.ConfigurationLimitGain))
	}
	if !(cfg.FrequencyHz > 0 && cfg.FrequencyHz <= 1000) {
		fail(errors.Errorf("frequency_hz must be in (0, 1000], got %v", cfg.FrequencyHz))
	}
	switch cfg.Solver {
	case SolverADMM, SolverNlopt:
	case "":
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "solver"))
	default:
		fail(errors.Errorf("unknown solver %q, want %q or %q", cfg.Solver, SolverADMM, SolverNlopt))
	}
	if cfg.MaxIterations < 1 {
		fail(errors.Errorf("max_iterations must be at least 1, got %d", cfg.MaxIterations))
	}
	if _, err := logging.LevelFromString(cfg.LogLevel); err != nil {
		fail(err)
	}
	if lo.Contains(cfg.FrozenJoints, "") {
		fail(errors.New("frozen_joints cannot contain an empty name"))
	}
	if dups := lo.FindDuplicates(cfg.FrozenJoints); len(dups) > 0 {
		fail(errors.Errorf("frozen_joints lists %v more than once", dups))
	}
	return errs
}

// Level returns the configured log level, INFO when it does not parse.
func (cfg *Config) Level() logging.Level {
	level, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

// NewSolver returns the configured QP solver.
func (cfg *Config) NewSolver(logger logging.Logger) (qp.Solver, error) {
	switch cfg.Solver {
	case SolverNlopt:
		return qp.NewNloptSolver(cfg.MaxIterations, cfg.EpsAbs, logger)
	case SolverADMM, "":
		opts := qp.DefaultADMMOptions()
		opts.MaxIterations = cfg.MaxIterations
		opts.EpsAbs = cfg.EpsAbs
		opts.EpsRel = cfg.EpsRel
		return qp.NewADMMSolver(opts, logger), nil
	default:
		return nil, errors.Errorf("unknown solver %q", cfg.Solver)
	}
}

// EngineOptions returns the engine options described by the config.
func (cfg *Config) EngineOptions(logger logging.Logger) (diffik.Options, error) {
	solver, err := cfg.NewSolver(logger.Sublogger("qp"))
	if err != nil {
		return diffik.Options{}, err
	}
	opts := diffik.NewDefaultOptions(logger)
	opts.Damping = cfg.Damping
	opts.SafetyBreak = cfg.SafetyBreak
	opts.ConfigurationLimitGain = cfg.ConfigurationLimitGain
	opts.FrozenJoints = append([]string(nil), cfg.FrozenJoints...)
	opts.Solver = solver
	return opts, nil
}

// LoopConfig returns the control loop settings described by the config.
func (cfg *Config) LoopConfig() control.Config {
	return control.Config{Frequency: cfg.FrequencyHz}
}
