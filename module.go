package mcv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	genericservice "go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/spatialmath"
	rdk_utils "go.viam.com/utils"

	"github.com/rubyswolf/MCV/backends"
	"github.com/rubyswolf/MCV/solvers"
)

var SolverService = resource.NewModel("rubyswolf", "mcv", "camera-pose-solver")

func init() {
	resource.RegisterService(genericservice.API, SolverService,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newSolverService,
		},
	)
}

type Config struct {
	// Backend selects where solves run: "local" (default) or "remote".
	Backend string `json:"backend"`
	// RemoteSolverName is the generic service to forward solves to when the
	// backend is remote.
	RemoteSolverName string `json:"remote_solver_name"`
	// ImageWidth/ImageHeight fix the assumed principal point at the image center.
	// Zero means pixel coordinates are already centered.
	ImageWidth  float64 `json:"image_width"`
	ImageHeight float64 `json:"image_height"`
}

// Validate ensures all parts of the config are valid and important fields exist.
// Returns implicit required (first return) and optional (second return) dependencies based on the config.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Backend == "" {
		cfg.Backend = "local"
	}
	if cfg.Backend != "local" && cfg.Backend != "remote" {
		return nil, nil, fmt.Errorf("backend must be \"local\" or \"remote\", got %q", cfg.Backend)
	}
	if cfg.Backend == "remote" && cfg.RemoteSolverName == "" {
		return nil, nil, errors.New("remote_solver_name is required for the remote backend")
	}
	if cfg.ImageWidth < 0 || cfg.ImageHeight < 0 {
		return nil, nil, errors.New("image dimensions must not be negative")
	}
	return nil, nil, nil
}

type solverService struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config

	backend        backends.Backend
	principalPoint r2.Point
	worker         *rdk_utils.StoppableWorkers

	mu       sync.Mutex
	registry *solvers.Registry
	// lastPose is the most recent accepted pose and the registry revision it was
	// solved from. A solve finishing against an older revision is discarded.
	lastPose         *solvers.PoseEstimate
	lastPoseRevision uint64
	solveInFlight    bool
}

func newSolverService(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	return NewSolverService(ctx, rawConf.ResourceName(), conf, logger)
}

func NewSolverService(ctx context.Context, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	var backend backends.Backend
	switch conf.Backend {
	case "remote":
		remote, err := backends.NewRemote(ctx, conf.RemoteSolverName, logger)
		if err != nil {
			return nil, err
		}
		backend = remote
	default:
		backend = backends.NewLocal(logger)
	}

	s := &solverService{
		name:           name,
		logger:         logger,
		cfg:            conf,
		backend:        backend,
		principalPoint: r2.Point{X: conf.ImageWidth / 2, Y: conf.ImageHeight / 2},
		worker:         rdk_utils.NewBackgroundStoppableWorkers(),
		registry:       solvers.NewRegistry(logger),
	}
	logger.Infof("camera pose solver started (backend: %s)", conf.Backend)
	return s, nil
}

func (s *solverService) Name() resource.Name {
	return s.name
}

func (s *solverService) Close(ctx context.Context) error {
	s.worker.Stop()
	return s.backend.Close(ctx)
}

func (s *solverService) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, errors.New("missing \"command\" string")
	}
	args, _ := cmd["args"].(map[string]interface{})

	switch command {
	case "add-correspondence":
		return s.addCorrespondence(args)
	case "remove-correspondence":
		return s.removeCorrespondence(args)
	case "list-correspondences":
		return s.listCorrespondences()
	case "clear-correspondences":
		return s.clearCorrespondences()
	case "validate":
		return s.validate()
	case "solve-pose":
		return s.solvePose(ctx)
	case "solve-pose-async":
		return s.solvePoseAsync()
	case "get-pose":
		return s.getPose()
	case "solve-tick-boundary":
		return backends.Request{Op: backends.OpSolveTickBoundary, Args: args}.Serve(ctx, s.backend), nil
	case backends.OpSolvePose, backends.OpSolveTickBoundary:
		// Raw envelope surface used by remote forwarding.
		return backends.Request{Op: command, Args: args}.Serve(ctx, s.backend), nil
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

func (s *solverService) addCorrespondence(args map[string]interface{}) (map[string]interface{}, error) {
	pixel, err := pointArg(args, "pixel")
	if err != nil {
		return nil, err
	}
	world, err := vectorArg(args, "world")
	if err != nil {
		return nil, err
	}
	id, _ := args["id"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.registry.Add(pixel, solvers.WorldPoint{ID: id, Position: world})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"entry":    entry,
		"revision": s.registry.Revision(),
		"count":    s.registry.Len(),
	}, nil
}

func (s *solverService) removeCorrespondence(args map[string]interface{}) (map[string]interface{}, error) {
	entry, ok := args["entry"].(float64)
	if !ok {
		return nil, errors.New("missing numeric \"entry\"")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.registry.Remove(int(entry)); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"revision": s.registry.Revision(),
		"count":    s.registry.Len(),
	}, nil
}

func (s *solverService) listCorrespondences() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.registry.List()
	list := make([]interface{}, len(set))
	for i, c := range set {
		list[i] = map[string]interface{}{
			"id":    c.World.ID,
			"pixel": []float64{c.Pixel.X, c.Pixel.Y},
			"world": []float64{c.World.Position.X, c.World.Position.Y, c.World.Position.Z},
		}
	}
	return map[string]interface{}{
		"correspondences": list,
		"revision":        s.registry.Revision(),
	}, nil
}

func (s *solverService) clearCorrespondences() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.Clear()
	return map[string]interface{}{"revision": s.registry.Revision()}, nil
}

func (s *solverService) validate() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.registry.Validate(); err != nil {
		return failureMap(err), nil
	}
	return map[string]interface{}{"ok": true, "count": s.registry.Len()}, nil
}

// solvePose runs a solve against a snapshot of the registry. If the registry
// changes while the solve runs, the result no longer describes the current set and
// is discarded.
func (s *solverService) solvePose(ctx context.Context) (map[string]interface{}, error) {
	s.mu.Lock()
	set := s.registry.List()
	revision := s.registry.Revision()
	s.mu.Unlock()

	resp := s.runPoseSolve(ctx, set)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry.Revision() != revision {
		return nil, errors.New("correspondence registry changed during solve; result discarded")
	}
	if resp.OK {
		s.cachePoseLocked(resp, revision)
	}
	return resp.AsMap(), nil
}

func (s *solverService) solvePoseAsync() (map[string]interface{}, error) {
	s.mu.Lock()
	if s.solveInFlight {
		s.mu.Unlock()
		return map[string]interface{}{"started": false, "reason": "solve already in flight"}, nil
	}
	set := s.registry.List()
	revision := s.registry.Revision()
	s.solveInFlight = true
	s.mu.Unlock()

	s.worker.Add(func(ctx context.Context) {
		resp := s.runPoseSolve(ctx, set)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.solveInFlight = false
		if s.registry.Revision() != revision {
			s.logger.Debugf("discarding pose solved from revision %d (registry now at %d)",
				revision, s.registry.Revision())
			return
		}
		if !resp.OK {
			s.logger.Warnf("background solve failed: %s: %s", resp.Error.Code, resp.Error.Message)
			return
		}
		s.cachePoseLocked(resp, revision)
	})
	return map[string]interface{}{"started": true, "revision": revision}, nil
}

func (s *solverService) getPose() (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPose == nil {
		return map[string]interface{}{"available": false, "pending": s.solveInFlight}, nil
	}
	out := s.lastPose.AsMap()
	out["available"] = true
	out["revision"] = s.lastPoseRevision
	out["stale"] = s.lastPoseRevision != s.registry.Revision()
	flat := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		flat = append(flat, s.lastPose.Rotation[i][0], s.lastPose.Rotation[i][1], s.lastPose.Rotation[i][2])
	}
	if rm, err := spatialmath.NewRotationMatrix(flat); err == nil {
		q := rm.Quaternion()
		out["quaternion"] = []float64{q.Real, q.Imag, q.Jmag, q.Kmag}
	}
	return out, nil
}

func (s *solverService) runPoseSolve(ctx context.Context, set solvers.CorrespondenceSet) backends.Response {
	args := map[string]interface{}{
		"correspondences": correspondenceArgs(set),
		"principalPoint":  []float64{s.principalPoint.X, s.principalPoint.Y},
	}
	return s.backend.Solve(ctx, backends.Request{Op: backends.OpSolvePose, Args: args})
}

// cachePoseLocked stores an accepted solve result. Callers hold s.mu.
func (s *solverService) cachePoseLocked(resp backends.Response, revision uint64) {
	est, err := solvers.PoseEstimateFromMap(resp.Data, s.principalPoint)
	if err != nil {
		s.logger.Warnf("could not decode solved pose: %v", err)
		return
	}
	s.lastPose = est
	s.lastPoseRevision = revision
}

func correspondenceArgs(set solvers.CorrespondenceSet) []interface{} {
	out := make([]interface{}, len(set))
	for i, c := range set {
		out[i] = map[string]interface{}{
			"id":    c.World.ID,
			"pixel": []float64{c.Pixel.X, c.Pixel.Y},
			"world": []float64{c.World.Position.X, c.World.Position.Y, c.World.Position.Z},
		}
	}
	return out
}

func failureMap(err error) map[string]interface{} {
	if se, ok := solvers.AsSolveError(err); ok {
		errMap := map[string]interface{}{"code": string(se.Code), "message": se.Message}
		if se.Details != nil {
			errMap["details"] = se.Details
		}
		return map[string]interface{}{"ok": false, "error": errMap}
	}
	return map[string]interface{}{"ok": false, "error": map[string]interface{}{
		"code": "INTERNAL", "message": err.Error(),
	}}
}

func pointArg(args map[string]interface{}, key string) (r2.Point, error) {
	values, err := floatSlice(args[key], 2)
	if err != nil {
		return r2.Point{}, fmt.Errorf("%q: %w", key, err)
	}
	return r2.Point{X: values[0], Y: values[1]}, nil
}

func vectorArg(args map[string]interface{}, key string) (r3.Vector, error) {
	values, err := floatSlice(args[key], 3)
	if err != nil {
		return r3.Vector{}, fmt.Errorf("%q: %w", key, err)
	}
	return r3.Vector{X: values[0], Y: values[1], Z: values[2]}, nil
}

func floatSlice(raw interface{}, want int) ([]float64, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list of %d numbers", want)
	}
	if len(list) != want {
		return nil, fmt.Errorf("expected %d numbers, got %d", want, len(list))
	}
	out := make([]float64, want)
	for i, v := range list {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = f
	}
	return out, nil
}
