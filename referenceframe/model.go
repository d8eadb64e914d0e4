// Package referenceframe defines joint-tree robot models: their configuration and tangent layouts, limits,
// forward kinematics and body-frame Jacobians.
package referenceframe

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/diffik/spatialmath"
)

// World is the name of the fixed root frame of every model.
const World = "world"

const worldID = int64(0)

// frameInfo attaches a named frame to a joint (or to the world when joint is -1).
type frameInfo struct {
	joint     int
	placement spatialmath.Pose
}

// Model is a tree of joints rooted at the world frame, plus named frames rigidly attached to those joints.
// Joints and frames are added with AddJoint and AddFrame; Finalize orders the tree and lays out the
// configuration and tangent vectors. A finalized model is immutable and safe for concurrent use.
type Model struct {
	name string
	tree *simple.DirectedGraph

	pending   []*Joint
	frameDefs map[string]frameDef

	// set by Finalize
	joints    []*Joint
	parents   []int
	frames    map[string]frameInfo
	nq, nv    int
	lower     []float64
	upper     []float64
	velocity  []float64
	finalized bool

	lock sync.RWMutex
}

type frameDef struct {
	parent    string
	placement spatialmath.Pose
}

// NewModel constructs an empty model.
func NewModel(name string) *Model {
	return &Model{
		name:      name,
		tree:      simple.NewDirectedGraph(),
		frameDefs: map[string]frameDef{},
	}
}

// Name returns the name of this model.
func (m *Model) Name() string {
	return m.name
}

// AddJoint adds a joint to the model. Its parent may be World, the empty string (meaning World), or a joint
// added before or after it. Missing limits default to unbounded.
func (m *Model) AddJoint(j *Joint) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.finalized {
		return errors.New("cannot add a joint to a finalized model")
	}
	if j.Name == World {
		return NewReservedWordError("joint", World)
	}
	if !j.Type.valid() {
		return NewUnsupportedJointTypeError(string(j.Type))
	}
	if m.nameUsed(j.Name) {
		return NewDuplicateNameError(j.Name)
	}
	if j.Type == RevoluteJoint || j.Type == PrismaticJoint {
		if j.Axis.Norm() == 0 {
			return errors.Errorf("joint %q needs a non-zero axis", j.Name)
		}
		j.Axis = j.Axis.Normalize()
	}
	if j.Limits == nil {
		j.Limits = lo.Times(j.Type.NQ(), func(int) Limit { return Unbounded })
	}
	if len(j.Limits) != j.Type.NQ() {
		return NewIncorrectDimensionError("limits of joint "+j.Name, len(j.Limits), j.Type.NQ())
	}
	for i, l := range j.Limits {
		if l.Min > l.Max {
			return errors.Errorf("joint %q coordinate %d has min %v above max %v", j.Name, i, l.Min, l.Max)
		}
	}
	if j.VelocityLimits == nil {
		j.VelocityLimits = lo.Times(j.Type.NV(), func(int) float64 { return math.Inf(1) })
	}
	if len(j.VelocityLimits) != j.Type.NV() {
		return NewIncorrectDimensionError("velocity limits of joint "+j.Name, len(j.VelocityLimits), j.Type.NV())
	}
	if j.Parent == "" {
		j.Parent = World
	}
	if j.Placement == (spatialmath.Pose{}) {
		j.Placement = spatialmath.NewZeroPose()
	}
	m.pending = append(m.pending, j)
	return nil
}

// AddFrame attaches a named frame to parent (a joint or World) at the given placement.
func (m *Model) AddFrame(name, parent string, placement spatialmath.Pose) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.finalized {
		return errors.New("cannot add a frame to a finalized model")
	}
	if name == World {
		return NewReservedWordError("frame", World)
	}
	if m.nameUsed(name) {
		return NewDuplicateNameError(name)
	}
	if parent == "" {
		parent = World
	}
	m.frameDefs[name] = frameDef{parent: parent, placement: placement}
	return nil
}

func (m *Model) nameUsed(name string) bool {
	if _, ok := m.frameDefs[name]; ok {
		return true
	}
	return lo.ContainsBy(m.pending, func(j *Joint) bool { return j.Name == name })
}

// Finalize orders the joint tree from the world outwards and computes the configuration and tangent layouts.
func (m *Model) Finalize() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.finalized {
		return nil
	}
	if len(m.pending) == 0 {
		return ErrEmptyModel
	}

	// node IDs: world is 0, pending joint i is i+1
	ids := map[string]int64{World: worldID}
	m.tree.AddNode(simple.Node(worldID))
	for i, j := range m.pending {
		ids[j.Name] = int64(i + 1)
		m.tree.AddNode(simple.Node(int64(i + 1)))
	}
	for _, j := range m.pending {
		pid, ok := ids[j.Parent]
		if !ok {
			return NewParentFrameMissingError(j.Name, j.Parent)
		}
		if pid == ids[j.Name] {
			return ErrCircularReference
		}
		m.tree.SetEdge(m.tree.NewEdge(m.tree.Node(pid), m.tree.Node(ids[j.Name])))
	}
	sorted, err := topo.SortStabilized(m.tree, func(nodes []graph.Node) {
		sort.Slice(nodes, func(a, b int) bool { return nodes[a].ID() < nodes[b].ID() })
	})
	if err != nil {
		return errors.Wrap(ErrCircularReference, err.Error())
	}

	index := map[string]int{}
	for _, n := range sorted {
		if n.ID() == worldID {
			continue
		}
		j := m.pending[n.ID()-1]
		j.info = JointInfo{Name: j.Name, Type: j.Type, IdxQ: m.nq, NQ: j.Type.NQ(), IdxV: m.nv, NV: j.Type.NV()}
		m.nq += j.info.NQ
		m.nv += j.info.NV
		index[j.Name] = len(m.joints)
		m.joints = append(m.joints, j)
		for _, l := range j.Limits {
			m.lower = append(m.lower, l.Min)
			m.upper = append(m.upper, l.Max)
		}
		m.velocity = append(m.velocity, j.VelocityLimits...)
	}
	m.parents = lo.Map(m.joints, func(j *Joint, _ int) int {
		if j.Parent == World {
			return -1
		}
		return index[j.Parent]
	})

	m.frames = map[string]frameInfo{World: {joint: -1, placement: spatialmath.NewZeroPose()}}
	for i, j := range m.joints {
		m.frames[j.Name] = frameInfo{joint: i, placement: spatialmath.NewZeroPose()}
	}
	// frames may hang off other frames, so resolve until nothing changes
	for progress := true; progress; {
		progress = false
		for name, def := range m.frameDefs {
			if _, done := m.frames[name]; done {
				continue
			}
			if parent, ok := m.frames[def.parent]; ok {
				m.frames[name] = frameInfo{joint: parent.joint, placement: spatialmath.Compose(parent.placement, def.placement)}
				progress = true
			}
		}
	}
	for name, def := range m.frameDefs {
		if _, ok := m.frames[name]; ok {
			continue
		}
		if _, isFrame := m.frameDefs[def.parent]; isFrame {
			return errors.Wrapf(ErrCircularReference, "frame %q", name)
		}
		return NewParentFrameMissingError(name, def.parent)
	}
	m.pending = nil
	m.finalized = true
	return nil
}

// NQ returns the dimension of the configuration vector.
func (m *Model) NQ() int {
	return m.nq
}

// NV returns the dimension of the tangent (velocity) vector.
func (m *Model) NV() int {
	return m.nv
}

// Joints returns the layout of every joint, in configuration order.
func (m *Model) Joints() []JointInfo {
	return lo.Map(m.joints, func(j *Joint, _ int) JointInfo { return j.info })
}

// Joint returns the joint with the given name.
func (m *Model) Joint(name string) (*Joint, bool) {
	return lo.Find(m.joints, func(j *Joint) bool { return j.Name == name })
}

// RootNV returns the tangent dimension of the floating base: the nv of a free-flyer joint attached to the
// world as the first joint, zero otherwise.
func (m *Model) RootNV() int {
	if len(m.joints) > 0 && m.joints[0].Type == FreeFlyerJoint && m.parents[0] == -1 {
		return m.joints[0].info.NV
	}
	return 0
}

// LowerPositionLimit returns a copy of the per-coordinate lower limits.
func (m *Model) LowerPositionLimit() []float64 {
	return append([]float64(nil), m.lower...)
}

// UpperPositionLimit returns a copy of the per-coordinate upper limits.
func (m *Model) UpperPositionLimit() []float64 {
	return append([]float64(nil), m.upper...)
}

// VelocityLimit returns a copy of the per-tangent-coordinate velocity limits.
func (m *Model) VelocityLimit() []float64 {
	return append([]float64(nil), m.velocity...)
}

// FrameNames returns the names of every frame in the model, joints included, sorted.
func (m *Model) FrameNames() []string {
	names := lo.Keys(m.frames)
	sort.Strings(names)
	return names
}

// String renders the joints of a finalized model as a table of layout, parent and position limits.
func (m *Model) String() string {
	t := table.NewWriter()
	t.SetTitle(m.name)
	t.AppendHeader(table.Row{"#", "Joint", "Type", "Parent", "q", "v", "Limits"})
	for i, j := range m.joints {
		parent := World
		if m.parents[i] >= 0 {
			parent = m.joints[m.parents[i]].Name
		}
		limits := lo.Map(j.Limits, func(l Limit, _ int) string { return fmt.Sprintf("[%.3g, %.3g]", l.Min, l.Max) })
		t.AppendRow(table.Row{
			i + 1,
			j.Name,
			j.Type,
			parent,
			fmt.Sprintf("%d:%d", j.info.IdxQ, j.info.IdxQ+j.info.NQ),
			fmt.Sprintf("%d:%d", j.info.IdxV, j.info.IdxV+j.info.NV),
			strings.Join(limits, " "),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", m.nq, m.nv, ""})
	return t.Render()
}

// HasFrame returns whether name is a frame of the model.
func (m *Model) HasFrame(name string) bool {
	_, ok := m.frames[name]
	return ok
}

// Neutral returns the neutral configuration: zero joint values (clamped into limits) and identity rotations.
func (m *Model) Neutral() []float64 {
	q := make([]float64, m.nq)
	for _, j := range m.joints {
		j.neutral(q[j.info.IdxQ : j.info.IdxQ+j.info.NQ])
	}
	return q
}

// RandomConfiguration returns a random valid configuration.
func (m *Model) RandomConfiguration(rnd *rand.Rand) []float64 {
	if rnd == nil {
		//nolint:gosec
		rnd = rand.New(rand.NewSource(1))
	}
	q := make([]float64, m.nq)
	for _, j := range m.joints {
		j.random(rnd, q[j.info.IdxQ:j.info.IdxQ+j.info.NQ])
	}
	return q
}

// Integrate returns the configuration reached from q by following the tangent displacement v for unit time.
func (m *Model) Integrate(q, v []float64) ([]float64, error) {
	if len(q) != m.nq {
		return nil, NewIncorrectDimensionError("configuration", len(q), m.nq)
	}
	if len(v) != m.nv {
		return nil, NewIncorrectDimensionError("tangent vector", len(v), m.nv)
	}
	out := make([]float64, m.nq)
	for _, j := range m.joints {
		i := j.info
		j.integrate(q[i.IdxQ:i.IdxQ+i.NQ], v[i.IdxV:i.IdxV+i.NV], out[i.IdxQ:i.IdxQ+i.NQ])
	}
	return out, nil
}

// Difference returns the tangent displacement v such that Integrate(q0, v) = q1, written q1 ⊖ q0.
func (m *Model) Difference(q0, q1 []float64) ([]float64, error) {
	if len(q0) != m.nq {
		return nil, NewIncorrectDimensionError("configuration", len(q0), m.nq)
	}
	if len(q1) != m.nq {
		return nil, NewIncorrectDimensionError("configuration", len(q1), m.nq)
	}
	out := make([]float64, m.nv)
	for _, j := range m.joints {
		i := j.info
		j.difference(q0[i.IdxQ:i.IdxQ+i.NQ], q1[i.IdxQ:i.IdxQ+i.NQ], out[i.IdxV:i.IdxV+i.NV])
	}
	return out, nil
}

// ForwardKinematics computes the world placement of every joint for q.
func (m *Model) ForwardKinematics(q []float64) (KinematicState, error) {
	if !m.finalized {
		return nil, errors.New("model must be finalized before computing kinematics")
	}
	if len(q) != m.nq {
		return nil, NewIncorrectDimensionError("configuration", len(q), m.nq)
	}
	placements := make([]spatialmath.Pose, len(m.joints))
	for i, j := range m.joints {
		local := spatialmath.Compose(j.Placement, j.transform(q[j.info.IdxQ:j.info.IdxQ+j.info.NQ]))
		if m.parents[i] < 0 {
			placements[i] = local
		} else {
			placements[i] = spatialmath.Compose(placements[m.parents[i]], local)
		}
	}
	return &kinematicState{model: m, placements: placements}, nil
}

// KinematicState is the result of one forward kinematics pass.
type KinematicState interface {
	// FramePose returns the pose of the named frame in the world.
	FramePose(name string) (spatialmath.Pose, error)
	// FrameJacobian returns the 6×nv Jacobian of the named frame expressed in that frame (LOCAL), linear rows
	// first: the body twist of the frame is J·v.
	FrameJacobian(name string) (*mat.Dense, error)
}

type kinematicState struct {
	model      *Model
	placements []spatialmath.Pose
}

func (s *kinematicState) frame(name string) (frameInfo, spatialmath.Pose, error) {
	f, ok := s.model.frames[name]
	if !ok {
		return frameInfo{}, spatialmath.Pose{}, NewFrameMissingError(s.model.name, name)
	}
	if f.joint < 0 {
		return f, f.placement, nil
	}
	return f, spatialmath.Compose(s.placements[f.joint], f.placement), nil
}

func (s *kinematicState) FramePose(name string) (spatialmath.Pose, error) {
	_, pose, err := s.frame(name)
	return pose, err
}

func (s *kinematicState) FrameJacobian(name string) (*mat.Dense, error) {
	f, oMf, err := s.frame(name)
	if err != nil {
		return nil, err
	}
	jac := mat.NewDense(6, s.model.nv, nil)
	fMo := spatialmath.PoseInverse(oMf)
	for i := f.joint; i >= 0; i = s.model.parents[i] {
		j := s.model.joints[i]
		ad := spatialmath.Adjoint(spatialmath.Compose(fMo, s.placements[i]))
		cols := jac.Slice(0, 6, j.info.IdxV, j.info.IdxV+j.info.NV).(*mat.Dense)
		cols.Mul(ad, j.motionSubspace())
	}
	return jac, nil
}
