// Package diffik assembles and solves the quadratic program of one differential inverse kinematics cycle.
// Tasks contribute least-squares objectives, barriers and limits contribute linear inequalities on the
// tangent displacement Δq, and frozen joints contribute equalities. The solution is returned as the joint
// velocity Δq/dt to command for the cycle.
package diffik

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/barriers"
	"go.viam.com/diffik/kinematics"
	"go.viam.com/diffik/logging"
	"go.viam.com/diffik/qp"
	"go.viam.com/diffik/referenceframe"
	"go.viam.com/diffik/tasks"
)

// ErrNotWithinConfigurationLimits is returned by Solve when the safety break is on and the configuration
// lies outside the model's position limits.
var ErrNotWithinConfigurationLimits = kinematics.ErrNotWithinConfigurationLimits

// Engine solves differential IK problems for one robot model. Its bounded tangent, limits and options are
// fixed at creation; task targets are owned by the caller.
type Engine struct {
	provider kinematics.Provider
	tangent  *kinematics.BoundedTangent
	limits   []Limit
	frozen   []int
	opts     Options
	solver   qp.Solver
	logger   logging.Logger
}

// NewEngine returns an engine for the provider's model.
func NewEngine(p kinematics.Provider, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global().Sublogger("diffik")
	}
	if !(opts.Damping >= 0) || math.IsInf(opts.Damping, 1) {
		return nil, errors.Errorf("damping must be finite and non-negative, got %v", opts.Damping)
	}
	if opts.ConfigurationLimitGain == 0 {
		opts.ConfigurationLimitGain = defaultConfigurationLimitGain
	}
	if opts.LimitTolerance <= 0 {
		opts.LimitTolerance = defaultLimitTolerance
	}

	tangent := kinematics.NewBoundedTangent(p)
	configurationLimit, err := NewConfigurationLimit(tangent, opts.ConfigurationLimitGain)
	if err != nil {
		return nil, err
	}

	joints := p.Joints()
	var frozen []int
	for _, name := range lo.Uniq(opts.FrozenJoints) {
		j, ok := lo.Find(joints, func(j referenceframe.JointInfo) bool { return j.Name == name })
		if !ok {
			return nil, errors.Errorf("cannot freeze unknown joint %q of model %q", name, p.Name())
		}
		frozen = append(frozen, lo.RangeFrom(j.IdxV, j.NV)...)
	}

	solver := opts.Solver
	if solver == nil {
		solver = qp.NewADMMSolver(qp.DefaultADMMOptions(), logger.Sublogger("qp"))
	}
	logger.Debugw("created differential IK engine",
		"model", p.Name(), "nq", p.NQ(), "nv", p.NV(), "bounded_joints", tangent.Joints(), "solver", solver.String())
	return &Engine{
		provider: p,
		tangent:  tangent,
		limits:   []Limit{configurationLimit, NewVelocityLimit(tangent)},
		frozen:   frozen,
		opts:     opts,
		solver:   solver,
		logger:   logger,
	}, nil
}

// Provider returns the engine's kinematics provider.
func (e *Engine) Provider() kinematics.Provider {
	return e.provider
}

// Tangent returns the bounded tangent subspace of the engine's model.
func (e *Engine) Tangent() *kinematics.BoundedTangent {
	return e.tangent
}

// Limits returns the hard limits added to every problem.
func (e *Engine) Limits() []Limit {
	return append([]Limit(nil), e.limits...)
}

// BuildProblem assembles the quadratic program over Δq for a step of dt seconds from cfg:
//
//	minimize    ½Δqᵀ(ΣH_i + damping·I)Δq + (Σc_i)ᵀΔq
//	subject to  G·Δq ≤ h  (limits and barriers)
//	            A·Δq = 0  (frozen joints)
func (e *Engine) BuildProblem(
	cfg *kinematics.Configuration,
	taskList []tasks.Task,
	barrierList []barriers.Barrier,
	dt float64,
) (*qp.Problem, error) {
	if !(dt > 0) || math.IsInf(dt, 1) {
		return nil, errors.Errorf("time step must be positive and finite, got %v", dt)
	}
	nv := e.provider.NV()
	if cfg.NQ() != e.provider.NQ() {
		return nil, kinematics.NewIncorrectDimensionError("configuration", cfg.NQ(), e.provider.NQ())
	}
	if cfg.NV() != nv {
		return nil, kinematics.NewIncorrectDimensionError("configuration tangent", cfg.NV(), nv)
	}
	if cfg.Provider() != e.provider {
		return nil, errors.Errorf("configuration of model %q given to the engine of model %q",
			cfg.Provider().Name(), e.provider.Name())
	}

	h := mat.NewSymDense(nv, nil)
	c := make([]float64, nv)
	for i := 0; i < nv; i++ {
		h.SetSym(i, i, e.opts.Damping)
	}
	addObjective := func(name string, th *mat.SymDense, tc []float64) error {
		if th.SymmetricDim() != nv || len(tc) != nv {
			return kinematics.NewIncorrectDimensionError(name+" objective", len(tc), nv)
		}
		h.AddSym(h, th)
		for i, v := range tc {
			c[i] += v
		}
		return nil
	}

	for _, task := range taskList {
		th, tc, err := task.ComputeQPObjective(cfg)
		if err != nil {
			return nil, errors.Wrap(err, task.String())
		}
		if err := addObjective(task.String(), th, tc); err != nil {
			return nil, err
		}
	}

	var blocks []inequalityBlock
	for _, limit := range e.limits {
		g, bound, err := limit.ComputeQPInequality(cfg, dt)
		if err != nil {
			return nil, errors.Wrap(err, limit.String())
		}
		blocks = append(blocks, inequalityBlock{g, bound})
	}
	for _, barrier := range barrierList {
		g, bound, err := barrier.ComputeQPInequality(cfg)
		if err != nil {
			return nil, errors.Wrap(err, barrier.String())
		}
		blocks = append(blocks, inequalityBlock{g, bound})
		bh, bc, err := barrier.ComputeQPObjective(cfg)
		if err != nil {
			return nil, errors.Wrap(err, barrier.String())
		}
		if err := addObjective(barrier.String(), bh, bc); err != nil {
			return nil, err
		}
	}

	prob := &qp.Problem{P: h, Q: c}
	g, bound, err := stackInequalities(blocks, nv)
	if err != nil {
		return nil, err
	}
	prob.G, prob.H = g, bound

	if len(e.frozen) > 0 {
		prob.A = mat.NewDense(len(e.frozen), nv, nil)
		prob.B = make([]float64, len(e.frozen))
		for r, i := range e.frozen {
			prob.A.Set(r, i, 1)
		}
	}
	return prob, nil
}

// Solve computes the joint velocity to command for the next dt seconds from cfg. An infeasible problem is
// reported with an error satisfying qp.IsInfeasible. Failed cycles are never retried.
func (e *Engine) Solve(
	ctx context.Context,
	cfg *kinematics.Configuration,
	taskList []tasks.Task,
	barrierList []barriers.Barrier,
	dt float64,
) ([]float64, error) {
	if e.opts.SafetyBreak {
		if err := cfg.CheckLimits(e.opts.LimitTolerance); err != nil {
			return nil, err
		}
	}
	prob, err := e.BuildProblem(cfg, taskList, barrierList, dt)
	if err != nil {
		return nil, err
	}
	e.logger.CDebugw(ctx, "solving differential IK",
		"nv", prob.Dim(), "inequalities", prob.NumInequalities(), "equalities", prob.NumEqualities(),
		"tasks", len(taskList), "barriers", len(barrierList))

	sol, err := e.solver.Solve(ctx, prob)
	if err != nil {
		e.logger.Warnw("differential IK solve failed", "solver", e.solver.String(), "error", err)
		return nil, errors.Wrap(err, "differential IK")
	}
	v := make([]float64, len(sol.X))
	for i, dq := range sol.X {
		v[i] = dq / dt
	}
	e.logger.CDebugw(ctx, "solved differential IK", "iterations", sol.Iterations, "polished", sol.Polished)
	return v, nil
}

type inequalityBlock struct {
	g *mat.Dense
	h []float64
}

// stackInequalities concatenates blocks row-wise. It returns nils when no block has a row.
func stackInequalities(blocks []inequalityBlock, nv int) (*mat.Dense, []float64, error) {
	rows := 0
	for _, b := range blocks {
		if b.g == nil {
			continue
		}
		r, cols := b.g.Dims()
		if cols != nv || r != len(b.h) {
			return nil, nil, kinematics.NewIncorrectDimensionError("inequality block", cols, nv)
		}
		rows += r
	}
	if rows == 0 {
		return nil, nil, nil
	}
	g := mat.NewDense(rows, nv, nil)
	h := make([]float64, 0, rows)
	offset := 0
	for _, b := range blocks {
		if b.g == nil {
			continue
		}
		r, _ := b.g.Dims()
		g.Slice(offset, offset+r, 0, nv).(*mat.Dense).Copy(b.g)
		h = append(h, b.h...)
		offset += r
	}
	return g, h, nil
}
