package solvers

import (
	"errors"
	"fmt"
)

// FailureCode is the wire-level code carried by a SolveError. The same codes travel
// through the request envelope unchanged, whether the solve ran locally or on a
// remote machine.
type FailureCode string

const (
	// CodeInsufficientPoints signals fewer than MinCorrespondences labeled pairs.
	CodeInsufficientPoints FailureCode = "INSUFFICIENT_POINTS"
	// CodeDegenerateConfiguration signals a point configuration that cannot
	// geometrically constrain the pose (coplanar cloud with collinear projections,
	// or a rank-deficient DLT system).
	CodeDegenerateConfiguration FailureCode = "DEGENERATE_CONFIGURATION"
	// CodeNonConvergence signals that iterative refinement hit its iteration budget
	// while the cost was still decreasing materially.
	CodeNonConvergence FailureCode = "NON_CONVERGENCE"
	// CodeInsufficientSamples signals a trajectory segment with fewer than 2 samples.
	CodeInsufficientSamples FailureCode = "INSUFFICIENT_SAMPLES"
	// CodeParallelLines signals two fitted trajectory lines too close to parallel to
	// intersect reliably.
	CodeParallelLines FailureCode = "PARALLEL_LINES"
)

// SolveError is a typed solver failure. Every failure is scoped to a single solve
// call; nothing here is fatal to the process and no failure ever substitutes a best
// guess for a result.
type SolveError struct {
	Code    FailureCode
	Message string
	// Details carries operation-specific context, e.g. the DLT-only estimate on a
	// NON_CONVERGENCE so a caller can accept it explicitly.
	Details map[string]interface{}
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newSolveError(code FailureCode, format string, args ...interface{}) *SolveError {
	return &SolveError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsSolveError unwraps err into a *SolveError if it is one.
func AsSolveError(err error) (*SolveError, bool) {
	var se *SolveError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
