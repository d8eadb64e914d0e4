//go:build windows || no_cgo

package qp

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/diffik/logging"
)

// NloptSolver mimics the type in the cgo compiled code.
type NloptSolver struct{}

// NewNloptSolver is not supported on no_cgo builds.
func NewNloptSolver(maxEval int, tolerance float64, logger logging.Logger) (*NloptSolver, error) {
	return nil, errors.New("nlopt is not supported on this build")
}

// Solve refuses to solve problems without cgo.
func (s *NloptSolver) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	return nil, errors.New("cannot solve without cgo")
}

func (s *NloptSolver) String() string {
	return "nlopt(unavailable)"
}
