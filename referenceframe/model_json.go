package referenceframe

import (
	"encoding/json"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/diffik/spatialmath"
)

// ErrNoModelInformation is used when there is no model information.
var ErrNoModelInformation = errors.New("no model information")

// Vector3JSON is an x/y/z triple as written in model files.
type Vector3JSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3JSON) r3() r3.Vector {
	return r3.Vector{X: v.X, Y: v.Y, Z: v.Z}
}

func vectorJSON(v r3.Vector) Vector3JSON {
	return Vector3JSON{X: v.X, Y: v.Y, Z: v.Z}
}

// JointConfig describes a joint in a model file. Revolute limits are in radians, prismatic limits in meters.
// Limits only apply to revolute and prismatic joints; absent limits mean unbounded.
type JointConfig struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Parent      string            `json:"parent,omitempty"`
	Translation Vector3JSON       `json:"translation"`
	Orientation *spatialmath.R4AA `json:"orientation,omitempty"`
	Axis        Vector3JSON       `json:"axis"`
	Min         *float64          `json:"min,omitempty"`
	Max         *float64          `json:"max,omitempty"`
	MaxVel      *float64          `json:"max_vel,omitempty"`
}

// FrameConfig describes a fixed frame attached to a joint or another frame.
type FrameConfig struct {
	ID          string            `json:"id"`
	Parent      string            `json:"parent"`
	Translation Vector3JSON       `json:"translation"`
	Orientation *spatialmath.R4AA `json:"orientation,omitempty"`
}

// ModelConfigJSON represents all supported fields in a kinematics JSON file.
type ModelConfigJSON struct {
	Name   string        `json:"name"`
	Joints []JointConfig `json:"joints"`
	Frames []FrameConfig `json:"frames,omitempty"`
}

func placement(t Vector3JSON, o *spatialmath.R4AA) spatialmath.Pose {
	if o == nil {
		return spatialmath.NewPoseFromPoint(t.r3())
	}
	return spatialmath.NewPoseFromQuaternion(t.r3(), o.ToQuat())
}

// ToJoint converts the config into a Joint ready to be added to a Model.
func (cfg JointConfig) ToJoint() (*Joint, error) {
	jt := JointType(cfg.Type)
	if !jt.valid() {
		return nil, NewUnsupportedJointTypeError(cfg.Type)
	}
	j := &Joint{
		Name:      cfg.ID,
		Type:      jt,
		Parent:    cfg.Parent,
		Placement: placement(cfg.Translation, cfg.Orientation),
		Axis:      cfg.Axis.r3(),
	}
	if cfg.Min != nil || cfg.Max != nil {
		if jt != RevoluteJoint && jt != PrismaticJoint {
			return nil, errors.Errorf("joint %q: limits are only supported on revolute and prismatic joints", cfg.ID)
		}
		l := Unbounded
		if cfg.Min != nil {
			l.Min = *cfg.Min
		}
		if cfg.Max != nil {
			l.Max = *cfg.Max
		}
		j.Limits = []Limit{l}
	}
	if cfg.MaxVel != nil {
		if *cfg.MaxVel <= 0 {
			return nil, errors.Errorf("joint %q: max_vel must be positive, got %v", cfg.ID, *cfg.MaxVel)
		}
		j.VelocityLimits = make([]float64, jt.NV())
		for i := range j.VelocityLimits {
			j.VelocityLimits[i] = *cfg.MaxVel
		}
	}
	return j, nil
}

// ParseConfig converts the ModelConfigJSON struct into a finalized Model with the name modelName.
func (cfg *ModelConfigJSON) ParseConfig(modelName string) (*Model, error) {
	if modelName == "" {
		modelName = cfg.Name
	}
	model := NewModel(modelName)
	var errAll error
	for _, jc := range cfg.Joints {
		j, err := jc.ToJoint()
		if err != nil {
			multierr.AppendInto(&errAll, err)
			continue
		}
		multierr.AppendInto(&errAll, model.AddJoint(j))
	}
	for _, fc := range cfg.Frames {
		multierr.AppendInto(&errAll, model.AddFrame(fc.ID, fc.Parent, placement(fc.Translation, fc.Orientation)))
	}
	if errAll != nil {
		return nil, errAll
	}
	if err := model.Finalize(); err != nil {
		return nil, err
	}
	return model, nil
}

// UnmarshalModelJSON will parse the given JSON data into a kinematics model. modelName sets the name of the model,
// will use the name from the JSON if string is empty.
func UnmarshalModelJSON(jsonData []byte, modelName string) (*Model, error) {
	// empty data probably means that there is no model information
	if len(jsonData) == 0 {
		return nil, ErrNoModelInformation
	}
	cfg := &ModelConfigJSON{}
	if err := json.Unmarshal(jsonData, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal json file")
	}
	return cfg.ParseConfig(modelName)
}

// ParseModelJSONFile will read a given file and then parse the contained JSON data.
func ParseModelJSONFile(filename, modelName string) (*Model, error) {
	//nolint:gosec
	jsonData, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read json file")
	}
	return UnmarshalModelJSON(jsonData, modelName)
}

func orientationJSON(p spatialmath.Pose) *spatialmath.R4AA {
	q := p.Quaternion()
	if spatialmath.QuaternionAlmostEqual(q, quat.Number{Real: 1}, 1e-12) {
		return nil
	}
	return spatialmath.QuatToR4AA(q)
}

// MarshalJSON serializes the model back into the model file format.
func (m *Model) MarshalJSON() ([]byte, error) {
	cfg := ModelConfigJSON{Name: m.name}
	for _, j := range m.joints {
		jc := JointConfig{
			ID:          j.Name,
			Type:        string(j.Type),
			Parent:      j.Parent,
			Translation: vectorJSON(j.Placement.Point()),
			Orientation: orientationJSON(j.Placement),
			Axis:        vectorJSON(j.Axis),
		}
		if j.Type == RevoluteJoint || j.Type == PrismaticJoint {
			if l := j.Limits[0]; !math.IsInf(l.Min, -1) {
				jc.Min = &l.Min
			}
			if l := j.Limits[0]; !math.IsInf(l.Max, 1) {
				jc.Max = &l.Max
			}
		}
		if v := j.VelocityLimits[0]; !math.IsInf(v, 1) {
			jc.MaxVel = &v
		}
		cfg.Joints = append(cfg.Joints, jc)
	}
	for _, name := range m.FrameNames() {
		def, ok := m.frameDefs[name]
		if !ok {
			continue
		}
		cfg.Frames = append(cfg.Frames, FrameConfig{
			ID:          name,
			Parent:      def.parent,
			Translation: vectorJSON(def.placement.Point()),
			Orientation: orientationJSON(def.placement),
		})
	}
	return json.Marshal(cfg)
}
