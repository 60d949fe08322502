package backends

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"

	"github.com/rubyswolf/MCV/solvers"
)

// Local runs the solvers in-process.
type Local struct {
	logger logging.Logger
}

func NewLocal(logger logging.Logger) *Local {
	return &Local{logger: logger}
}

func (b *Local) Solve(ctx context.Context, req Request) Response {
	switch req.Op {
	case OpSolvePose:
		return b.solvePose(req.Args)
	case OpSolveTickBoundary:
		return b.solveTickBoundary(req.Args)
	default:
		return errorResponse("UNKNOWN_OPERATION", "unknown operation %q", req.Op)
	}
}

func (b *Local) Close(ctx context.Context) error {
	return nil
}

func (b *Local) solvePose(args map[string]interface{}) Response {
	var pa PoseArgs
	if err := decodeArgs(args, &pa); err != nil {
		return errorResponse("BAD_REQUEST", "solvePose: %v", err)
	}

	set := make(solvers.CorrespondenceSet, len(pa.Correspondences))
	for i, c := range pa.Correspondences {
		set[i] = solvers.Correspondence{
			Pixel: r2.Point{X: c.Pixel[0], Y: c.Pixel[1]},
			World: solvers.WorldPoint{
				ID:       c.ID,
				Position: r3.Vector{X: c.World[0], Y: c.World[1], Z: c.World[2]},
			},
		}
	}

	opts := solvers.PoseSolverOptions{}
	if pa.PrincipalPoint != nil {
		opts.PrincipalPoint = r2.Point{X: pa.PrincipalPoint[0], Y: pa.PrincipalPoint[1]}
	}

	est, err := solvers.SolvePose(set, opts)
	if err != nil {
		return solveFailure(err)
	}
	b.logger.Debugf("solvePose: %d correspondences, rms %.4f px", len(set), est.RMSError)
	return successResponse(est.AsMap())
}

func (b *Local) solveTickBoundary(args map[string]interface{}) Response {
	var ta TickArgs
	if err := decodeArgs(args, &ta); err != nil {
		return errorResponse("BAD_REQUEST", "solveTickBoundary: %v", err)
	}

	est, err := solvers.SolveTickBoundary(toSamples(ta.Before), toSamples(ta.After))
	if err != nil {
		return solveFailure(err)
	}
	b.logger.Debugf("solveTickBoundary: boundary at frame %.3f, confidence %.3f",
		est.FractionalFrame, est.Confidence)
	return successResponse(est.AsMap())
}

func toSamples(in []TickSample) []solvers.TrajectorySample {
	out := make([]solvers.TrajectorySample, len(in))
	for i, s := range in {
		out[i] = solvers.TrajectorySample{
			Frame: s.Frame,
			Pixel: r2.Point{X: s.Pixel[0], Y: s.Pixel[1]},
		}
	}
	return out
}

// solveFailure wraps a typed solver failure into the response envelope; anything
// untyped is reported as internal.
func solveFailure(err error) Response {
	if se, ok := solvers.AsSolveError(err); ok {
		return Response{OK: false, Error: &ErrorBody{
			Code:    string(se.Code),
			Message: se.Message,
			Details: se.Details,
		}}
	}
	return errorResponse("INTERNAL", "%v", err)
}
