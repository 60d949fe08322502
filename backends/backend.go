// Package backends provides the solve request/response envelope and the two
// interchangeable ways of servicing it: in-process, or forwarded to a solver
// service running on another machine. Callers hold a Backend and never know which
// one they have.
package backends

import (
	"context"
	"encoding/json"
	"fmt"
)

// Operation names carried in the request envelope.
const (
	OpSolvePose         = "solvePose"
	OpSolveTickBoundary = "solveTickBoundary"
)

// Request is the uniform solve envelope: an operation name plus its JSON-shaped
// arguments.
type Request struct {
	Op   string                 `json:"op"`
	Args map[string]interface{} `json:"args"`
}

// ErrorBody describes a failed solve. Code is machine-readable; Details carries
// operation-specific diagnostics such as a partial estimate.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Response is the uniform solve result: exactly one of Data or Error is set,
// according to OK.
type Response struct {
	OK    bool                   `json:"ok"`
	Data  map[string]interface{} `json:"data,omitempty"`
	Error *ErrorBody             `json:"error,omitempty"`
}

// Backend services solve requests. Solve never returns a Go error for a solver
// failure; those travel inside the response envelope so local and remote execution
// look identical to the caller.
type Backend interface {
	Solve(ctx context.Context, req Request) Response
	Close(ctx context.Context) error
}

// PoseArgs is the argument shape for OpSolvePose. Envelope args are always a JSON
// object, so the correspondence list travels under the "correspondences" key rather
// than as a bare array.
type PoseArgs struct {
	Correspondences []PoseCorrespondence `json:"correspondences"`
	// PrincipalPoint overrides the assumed image center; nil means the pixels are
	// already centered.
	PrincipalPoint *[2]float64 `json:"principalPoint,omitempty"`
}

type PoseCorrespondence struct {
	ID    string     `json:"id"`
	Pixel [2]float64 `json:"pixel"`
	World [3]float64 `json:"world"`
}

// TickArgs is the argument shape for OpSolveTickBoundary: the two motion segments
// flanking the suspected direction change, under the "segmentBefore" and
// "segmentAfter" keys.
type TickArgs struct {
	Before []TickSample `json:"segmentBefore"`
	After  []TickSample `json:"segmentAfter"`
}

type TickSample struct {
	Frame float64    `json:"frame"`
	Pixel [2]float64 `json:"pixel"`
}

// Serve runs the request on a backend and renders the response in the envelope's
// wire shape, ready to return from a command handler.
func (r Request) Serve(ctx context.Context, b Backend) map[string]interface{} {
	return b.Solve(ctx, r).AsMap()
}

// AsMap renders the response in the envelope's wire shape.
func (r Response) AsMap() map[string]interface{} {
	out := map[string]interface{}{"ok": r.OK}
	if r.Data != nil {
		out["data"] = r.Data
	}
	if r.Error != nil {
		errMap := map[string]interface{}{
			"code":    r.Error.Code,
			"message": r.Error.Message,
		}
		if r.Error.Details != nil {
			errMap["details"] = r.Error.Details
		}
		out["error"] = errMap
	}
	return out
}

// decodeArgs round-trips loosely typed envelope args into a typed struct.
func decodeArgs(args map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding args: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding args: %w", err)
	}
	return nil
}

func successResponse(data map[string]interface{}) Response {
	return Response{OK: true, Data: data}
}

func errorResponse(code, format string, args ...interface{}) Response {
	return Response{OK: false, Error: &ErrorBody{Code: code, Message: fmt.Sprintf(format, args...)}}
}
