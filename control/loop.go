// Package control runs the differential IK engine in closed loop: at a fixed rate it reads the robot
// configuration, solves one cycle and commands the resulting joint velocity.
package control

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/diffik/barriers"
	"go.viam.com/diffik/diffik"
	"go.viam.com/diffik/kinematics"
	"go.viam.com/diffik/logging"
	"go.viam.com/diffik/tasks"
)

// maxFrequency is the fastest supported loop rate, in Hz.
const maxFrequency = 1000.

// StateSource reads the current joint configuration of the robot.
type StateSource interface {
	Configuration(ctx context.Context) ([]float64, error)
}

// VelocityCommander drives the robot joints.
type VelocityCommander interface {
	// SetVelocity commands tangent velocity v until the next call.
	SetVelocity(ctx context.Context, v []float64) error
	// Stop halts every joint.
	Stop(ctx context.Context) error
}

// Config configures a Loop.
type Config struct {
	// Frequency is the loop rate in Hz. Each cycle solves for a step of 1/Frequency seconds.
	Frequency float64
	// Clock drives the loop. The wall clock is used when nil.
	Clock clock.Clock
}

// Loop repeatedly solves one differential IK cycle and commands its velocity. It stops at the first failed
// cycle after halting the robot; a failed cycle is never retried.
type Loop struct {
	engine *diffik.Engine
	source StateSource
	sink   VelocityCommander
	clock  clock.Clock
	dt     time.Duration
	logger logging.Logger

	// taskMu guards the tasks and barriers while a cycle solves.
	taskMu   sync.Mutex
	tasks    []tasks.Task
	barriers []barriers.Barrier

	mu        sync.Mutex
	durations []float64
	err       error
	running   bool
	overruns  atomic.Int64

	ticker                  *clock.Ticker
	cancelCtx               context.Context
	cancel                  context.CancelFunc
	done                    chan struct{}
	activeBackgroundWorkers sync.WaitGroup
}

// NewLoop returns a loop driving engine toward the given tasks under the given barriers. Once the loop is
// started, targets and costs of the tasks and barriers may only be changed through UpdateTasks.
func NewLoop(
	logger logging.Logger,
	cfg Config,
	engine *diffik.Engine,
	source StateSource,
	sink VelocityCommander,
	taskList []tasks.Task,
	barrierList []barriers.Barrier,
) (*Loop, error) {
	if !(cfg.Frequency > 0) || cfg.Frequency > maxFrequency {
		return nil, errors.Errorf("loop frequency must be in (0, %v] Hz, got %v", maxFrequency, cfg.Frequency)
	}
	if engine == nil || source == nil || sink == nil {
		return nil, errors.New("loop needs an engine, a state source and a velocity commander")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		engine:   engine,
		source:   source,
		sink:     sink,
		tasks:    taskList,
		barriers: barrierList,
		clock:    clk,
		dt:       time.Duration(float64(time.Second) / cfg.Frequency),
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Step runs one cycle: read the configuration, solve, command the velocity.
func (l *Loop) Step(ctx context.Context) error {
	start := l.clock.Now()
	q, err := l.source.Configuration(ctx)
	if err != nil {
		return errors.Wrap(err, "reading configuration")
	}
	cfg, err := kinematics.NewConfiguration(l.engine.Provider(), q)
	if err != nil {
		return err
	}
	l.taskMu.Lock()
	v, err := l.engine.Solve(ctx, cfg, l.tasks, l.barriers, l.dt.Seconds())
	l.taskMu.Unlock()
	if err != nil {
		return err
	}
	if err := l.sink.SetVelocity(ctx, v); err != nil {
		return errors.Wrap(err, "commanding velocity")
	}
	elapsed := l.clock.Since(start)
	l.record(elapsed)
	if elapsed > l.dt {
		l.overruns.Add(1)
		l.logger.CDebugw(ctx, "cycle overran its period", "elapsed", elapsed, "period", l.dt)
	}
	return nil
}

// UpdateTasks runs fn between cycles, so fn may retarget or reweight the loop's tasks and barriers
// while the loop runs.
func (l *Loop) UpdateTasks(fn func()) {
	l.taskMu.Lock()
	defer l.taskMu.Unlock()
	fn()
}

func (l *Loop) record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.durations = append(l.durations, d.Seconds())
}

// Start runs cycles in the background at the configured rate until Stop is called or a cycle fails.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running || l.cancelCtx != nil {
		return errors.New("loop already started")
	}
	l.logger.Infow("starting differential IK loop", "period", l.dt, "tasks", len(l.tasks), "barriers", len(l.barriers))
	l.cancelCtx, l.cancel = context.WithCancel(context.Background())
	l.ticker = l.clock.Ticker(l.dt)
	l.running = true

	l.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-l.cancelCtx.Done():
				return
			case <-l.ticker.C:
			}
			if err := l.Step(l.cancelCtx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				l.fail(err)
				return
			}
		}
	}, func() {
		close(l.done)
		l.activeBackgroundWorkers.Done()
	})
	return nil
}

// fail records the error that ended the loop and halts the robot.
func (l *Loop) fail(err error) {
	l.logger.Errorw("differential IK cycle failed, stopping", "error", err)
	stopErr := l.sink.Stop(context.Background())
	if stopErr != nil {
		l.logger.Warnw("failed to stop the robot", "error", stopErr)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = multierr.Combine(err, stopErr)
	l.running = false
}

// Done is closed once the loop has ended, by Stop or by a failed cycle.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that ended the loop, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Running returns whether the loop is still cycling.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stop ends the loop, waits for the running cycle and halts the robot.
func (l *Loop) Stop() error {
	l.mu.Lock()
	started := l.cancel != nil
	l.mu.Unlock()
	if !started {
		return nil
	}
	l.logger.Debug("closing loop")
	l.cancel()
	l.ticker.Stop()
	l.activeBackgroundWorkers.Wait()

	l.mu.Lock()
	wasRunning := l.running
	l.running = false
	l.mu.Unlock()
	if !wasRunning {
		// a failed cycle already stopped the robot
		return nil
	}
	return l.sink.Stop(context.Background())
}
