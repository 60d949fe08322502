package backends

import (
	"context"
	"fmt"

	"github.com/erh/vmodutils"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/robot"
	genericservice "go.viam.com/rdk/services/generic"
)

// Remote forwards solve requests to a solver service on another machine over its
// DoCommand surface. Connection credentials come from the environment.
type Remote struct {
	machine robot.Robot
	solver  resource.Resource
	logger  logging.Logger
}

func NewRemote(ctx context.Context, solverName string, logger logging.Logger) (*Remote, error) {
	machine, err := vmodutils.ConnectToMachineFromEnv(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to machine: %w", err)
	}
	solver, err := machine.ResourceByName(genericservice.Named(solverName))
	if err != nil {
		machine.Close(ctx)
		return nil, fmt.Errorf("failed to find solver service %q: %w", solverName, err)
	}
	return &Remote{machine: machine, solver: solver, logger: logger}, nil
}

func (b *Remote) Solve(ctx context.Context, req Request) Response {
	cmd := map[string]interface{}{
		"command": req.Op,
		"args":    req.Args,
	}
	result, err := b.solver.DoCommand(ctx, cmd)
	if err != nil {
		return errorResponse("TRANSPORT", "remote solve failed: %v", err)
	}
	return parseResponse(result)
}

func (b *Remote) Close(ctx context.Context) error {
	return b.machine.Close(ctx)
}

// parseResponse rebuilds a Response from the loosely typed map DoCommand returns.
func parseResponse(result map[string]interface{}) Response {
	ok, _ := result["ok"].(bool)
	if ok {
		data, _ := result["data"].(map[string]interface{})
		return Response{OK: true, Data: data}
	}
	body := &ErrorBody{Code: "INTERNAL", Message: "remote returned a malformed error"}
	if errMap, found := result["error"].(map[string]interface{}); found {
		if code, isStr := errMap["code"].(string); isStr {
			body.Code = code
		}
		if msg, isStr := errMap["message"].(string); isStr {
			body.Message = msg
		}
		if details, isMap := errMap["details"].(map[string]interface{}); isMap {
			body.Details = details
		}
	}
	return Response{OK: false, Error: body}
}
