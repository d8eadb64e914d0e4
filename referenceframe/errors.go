package referenceframe

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCircularReference is returned when the joint tree of a model contains a cycle.
var ErrCircularReference = errors.New("infinite loop finding path from joint to world")

// ErrEmptyModel is returned when a model with no joints is finalized.
var ErrEmptyModel = errors.New("model has no joints")

// FrameMissingError is returned when a frame name is not part of a model.
type FrameMissingError struct {
	Model string
	Frame string
}

func (e *FrameMissingError) Error() string {
	return fmt.Sprintf("frame %q not found in model %q", e.Frame, e.Model)
}

// NewFrameMissingError returns an error indicating that the given frame is missing from the model.
func NewFrameMissingError(model, frame string) error {
	return &FrameMissingError{Model: model, Frame: frame}
}

// IsFrameMissing returns whether err (or any error it wraps) is a FrameMissingError.
func IsFrameMissing(err error) bool {
	var fm *FrameMissingError
	return errors.As(err, &fm)
}

// DimensionError is returned when a vector does not have the length of the space it lives in.
type DimensionError struct {
	What     string
	Actual   int
	Expected int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s has dimension %d, expected %d", e.What, e.Actual, e.Expected)
}

// NewIncorrectDimensionError returns an error indicating that what has actual entries instead of expected.
func NewIncorrectDimensionError(what string, actual, expected int) error {
	return &DimensionError{What: what, Actual: actual, Expected: expected}
}

// IsDimensionError returns whether err (or any error it wraps) is a DimensionError.
func IsDimensionError(err error) bool {
	var de *DimensionError
	return errors.As(err, &de)
}

// NewParentFrameMissingError returns an error for a joint or frame whose parent is not in the model.
func NewParentFrameMissingError(name, parent string) error {
	return errors.Errorf("parent %q of %q not found", parent, name)
}

// NewDuplicateNameError returns an error for a joint or frame name used twice.
func NewDuplicateNameError(name string) error {
	return errors.Errorf("name %q is already used in the model", name)
}

// NewReservedWordError is used when a model uses a reserved word as a joint or frame name.
func NewReservedWordError(kind, word string) error {
	return errors.Errorf("reserved word: cannot name a %s '%s'", kind, word)
}

// NewUnsupportedJointTypeError is used when a joint type is not one of the supported types.
func NewUnsupportedJointTypeError(jointType string) error {
	return errors.Errorf("unsupported joint type %q, supported are revolute, prismatic, spherical and free_flyer", jointType)
}
