package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/diffik/config"
	"go.viam.com/diffik/control"
	"go.viam.com/diffik/diffik"
	"go.viam.com/diffik/kinematics"
	"go.viam.com/diffik/logging"
	"go.viam.com/diffik/referenceframe"
	"go.viam.com/diffik/tasks"
)

type setup struct {
	cfg    *config.Config
	logger logging.Logger
	model  *referenceframe.Model
	engine *diffik.Engine
	task   *tasks.FrameTask
	start  []float64
}

// loadEngine parses the model file and builds its engine.
func loadEngine(cfg *config.Config, logger logging.Logger, modelPath string) (*referenceframe.Model, *diffik.Engine, error) {
	model, err := referenceframe.ParseModelJSONFile(modelPath, "")
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.EngineOptions(logger)
	if err != nil {
		return nil, nil, err
	}
	engine, err := diffik.NewEngine(model, opts)
	if err != nil {
		return nil, nil, err
	}
	return model, engine, nil
}

// describe writes the joint table of the model and the limits its engine enforces.
func describe(w io.Writer, cfg *config.Config, logger logging.Logger, modelPath string) error {
	model, engine, err := loadEngine(cfg, logger, modelPath)
	if err != nil {
		return err
	}
	tangent := engine.Tangent()
	fmt.Fprintln(w, model)
	fmt.Fprintf(w, "bounded joints %v, %d of %d tangent coordinates\n", tangent.Joints(), tangent.Dim(), model.NV())
	for _, l := range engine.Limits() {
		fmt.Fprintf(w, "limit %s\n", l)
	}
	return nil
}

// loadSetup builds an engine for the model file and a frame task whose target is the pose of frame at goal.
func loadSetup(cfg *config.Config, logger logging.Logger, modelPath, frame string, start, goal []float64) (*setup, error) {
	if len(goal) == 0 {
		return nil, errors.New("a goal configuration is required")
	}
	model, engine, err := loadEngine(cfg, logger, modelPath)
	if err != nil {
		return nil, err
	}
	if len(start) == 0 {
		start = model.Neutral()
	}
	if len(start) != model.NQ() {
		return nil, kinematics.NewIncorrectDimensionError("start configuration", len(start), model.NQ())
	}
	goalCfg, err := kinematics.NewConfiguration(model, goal)
	if err != nil {
		return nil, errors.Wrap(err, "goal configuration")
	}
	target, err := goalCfg.FramePose(frame)
	if err != nil {
		return nil, err
	}

	task, err := tasks.NewFrameTask(frame, 1, 1)
	if err != nil {
		return nil, err
	}
	task.SetTarget(target)
	logger.Debugw("target", "frame", frame, "pose", target.String())
	return &setup{cfg: cfg, logger: logger, model: model, engine: engine, task: task, start: start}, nil
}

type reachResult struct {
	errors    []float64
	q         []float64
	converged bool
}

func (r *reachResult) final() float64 {
	return r.errors[len(r.errors)-1]
}

func (r *reachResult) status() string {
	if r.converged {
		return "converged"
	}
	return "stopped"
}

// reach steps the engine by cfg.Dt until the task error norm drops below tolerance or cycles steps ran. The
// error norm before every step and after the last one is recorded.
func reach(ctx context.Context, s *setup, cycles int, tolerance float64) (*reachResult, error) {
	res := &reachResult{q: s.start}
	for i := 0; ; i++ {
		cfg, err := kinematics.NewConfiguration(s.model, res.q)
		if err != nil {
			return nil, err
		}
		e, err := s.task.ComputeError(cfg)
		if err != nil {
			return nil, err
		}
		res.errors = append(res.errors, floats.Norm(e, 2))
		if res.final() < tolerance {
			res.converged = true
			return res, nil
		}
		if i == cycles {
			return res, nil
		}
		v, err := s.engine.Solve(ctx, cfg, []tasks.Task{s.task}, nil, s.cfg.Dt)
		if err != nil {
			return nil, errors.Wrapf(err, "cycle %d", i)
		}
		if res.q, err = cfg.Integrate(v, s.cfg.Dt); err != nil {
			return nil, err
		}
	}
}

// simRobot integrates the commanded velocity over one loop period per command.
type simRobot struct {
	mu     sync.Mutex
	model  *referenceframe.Model
	q      []float64
	period time.Duration
}

func (r *simRobot) Configuration(ctx context.Context) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.q...), nil
}

func (r *simRobot) SetVelocity(ctx context.Context, v []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	step := make([]float64, len(v))
	floats.ScaleTo(step, r.period.Seconds(), v)
	q, err := r.model.Integrate(r.q, step)
	if err != nil {
		return err
	}
	r.q = q
	return nil
}

func (r *simRobot) Stop(ctx context.Context) error {
	return nil
}

// simulate runs the control loop against a simRobot for duration, or until ctx is done or a cycle fails.
func simulate(ctx context.Context, s *setup, duration time.Duration) (control.CycleStats, []float64, error) {
	loopCfg := s.cfg.LoopConfig()
	robot := &simRobot{
		model:  s.model,
		q:      append([]float64(nil), s.start...),
		period: time.Duration(float64(time.Second) / loopCfg.Frequency),
	}
	loop, err := control.NewLoop(s.logger.Sublogger("loop"), loopCfg, s.engine, robot, robot, []tasks.Task{s.task}, nil)
	if err != nil {
		return control.CycleStats{}, nil, err
	}
	if err := loop.Start(); err != nil {
		return control.CycleStats{}, nil, err
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-loop.Done():
	}
	stopErr := loop.Stop()
	q, _ := robot.Configuration(ctx)
	if err := loop.Err(); err != nil {
		return loop.Stats(), q, err
	}
	return loop.Stats(), q, stopErr
}
