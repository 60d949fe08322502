package mcv

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	genericservice "go.viam.com/rdk/services/generic"

	"github.com/rubyswolf/MCV/utils"
)

func newTestService(t *testing.T) resource.Resource {
	t.Helper()
	conf := &Config{Backend: "local", ImageWidth: 1280, ImageHeight: 720}
	if _, _, err := conf.Validate(""); err != nil {
		t.Fatal(err)
	}
	svc, err := NewSolverService(context.Background(), genericservice.Named("solver"), conf, logging.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

// addSyntheticScene labels a known camera's view of a non-coplanar cloud and
// returns the ground-truth focal length.
func addSyntheticScene(t *testing.T, svc resource.Resource) float64 {
	t.Helper()
	const focal = 1100.0
	pp := r2.Point{X: 640, Y: 360}
	rot := utils.AxisAngleToMatrix(r3.Vector{X: -0.15, Y: 0.3, Z: 0.1})
	trans := r3.Vector{X: 0.5, Y: -0.2, Z: 2.0}

	worlds := []r3.Vector{
		{X: 0, Y: 0, Z: 10}, {X: 4, Y: -2, Z: 12}, {X: -3, Y: 1, Z: 9},
		{X: 2, Y: 3, Z: 14}, {X: -4, Y: -3, Z: 11}, {X: 5, Y: 2, Z: 16},
		{X: 1, Y: -4, Z: 13}, {X: -2, Y: 4, Z: 15},
	}
	for i, w := range worlds {
		cx := rot.At(0, 0)*w.X + rot.At(0, 1)*w.Y + rot.At(0, 2)*w.Z + trans.X
		cy := rot.At(1, 0)*w.X + rot.At(1, 1)*w.Y + rot.At(1, 2)*w.Z + trans.Y
		cz := rot.At(2, 0)*w.X + rot.At(2, 1)*w.Y + rot.At(2, 2)*w.Z + trans.Z
		if cz <= 0 {
			t.Fatalf("world point %d behind the synthetic camera", i)
		}
		_, err := svc.DoCommand(context.Background(), map[string]interface{}{
			"command": "add-correspondence",
			"args": map[string]interface{}{
				"id":    fmt.Sprintf("mark-%d", i),
				"pixel": []interface{}{focal*cx/cz + pp.X, focal*cy/cz + pp.Y},
				"world": []interface{}{w.X, w.Y, w.Z},
			},
		})
		if err != nil {
			t.Fatalf("add-correspondence %d: %v", i, err)
		}
	}
	return focal
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	if _, _, err := cfg.Validate(""); err != nil {
		t.Errorf("empty config should default to local: %v", err)
	}
	if cfg.Backend != "local" {
		t.Errorf("backend defaulted to %q, want local", cfg.Backend)
	}

	bad := &Config{Backend: "sideways"}
	if _, _, err := bad.Validate(""); err == nil {
		t.Error("expected an error for an unknown backend")
	}

	remote := &Config{Backend: "remote"}
	if _, _, err := remote.Validate(""); err == nil {
		t.Error("expected an error for remote backend without a solver name")
	}
}

func TestServiceSolvePose(t *testing.T) {
	svc := newTestService(t)
	focal := addSyntheticScene(t, svc)

	result, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "solve-pose"})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := result["ok"].(bool); !ok {
		t.Fatalf("solve failed: %+v", result)
	}
	data, _ := result["data"].(map[string]interface{})
	if data == nil {
		t.Fatalf("no data in response: %+v", result)
	}
	got, _ := data["focalLength"].(float64)
	if math.Abs(got-focal) > 1e-3 {
		t.Errorf("focal = %f, want %f", got, focal)
	}

	// the solved pose is now cached and current
	pose, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "get-pose"})
	if err != nil {
		t.Fatal(err)
	}
	if available, _ := pose["available"].(bool); !available {
		t.Fatalf("no cached pose after solve: %+v", pose)
	}
	if stale, _ := pose["stale"].(bool); stale {
		t.Error("freshly solved pose reported stale")
	}

	// mutating the registry makes the cached pose stale
	if _, err := svc.DoCommand(context.Background(), map[string]interface{}{
		"command": "add-correspondence",
		"args": map[string]interface{}{
			"id":    "extra",
			"pixel": []interface{}{700.0, 400.0},
			"world": []interface{}{1.0, 1.0, 12.0},
		},
	}); err != nil {
		t.Fatal(err)
	}
	pose, err = svc.DoCommand(context.Background(), map[string]interface{}{"command": "get-pose"})
	if err != nil {
		t.Fatal(err)
	}
	if stale, _ := pose["stale"].(bool); !stale {
		t.Error("cached pose not marked stale after registry mutation")
	}
}

func TestServiceSolvePoseAsync(t *testing.T) {
	svc := newTestService(t)
	addSyntheticScene(t, svc)

	result, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "solve-pose-async"})
	if err != nil {
		t.Fatal(err)
	}
	if started, _ := result["started"].(bool); !started {
		t.Fatalf("background solve did not start: %+v", result)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		pose, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "get-pose"})
		if err != nil {
			t.Fatal(err)
		}
		if available, _ := pose["available"].(bool); available {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("background solve never produced a pose")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServiceValidateInsufficient(t *testing.T) {
	svc := newTestService(t)
	result, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "validate"})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := result["ok"].(bool); ok {
		t.Fatal("empty registry validated as solvable")
	}
	errMap, _ := result["error"].(map[string]interface{})
	if errMap == nil || errMap["code"] != "INSUFFICIENT_POINTS" {
		t.Errorf("error = %+v, want code INSUFFICIENT_POINTS", errMap)
	}
}

func TestServiceListAndClear(t *testing.T) {
	svc := newTestService(t)
	addSyntheticScene(t, svc)

	result, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "list-correspondences"})
	if err != nil {
		t.Fatal(err)
	}
	list, _ := result["correspondences"].([]interface{})
	if len(list) != 8 {
		t.Fatalf("listed %d correspondences, want 8", len(list))
	}
	first, _ := list[0].(map[string]interface{})
	if first["id"] != "mark-0" {
		t.Errorf("first listed id = %v, want mark-0 (insertion order)", first["id"])
	}

	if _, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "clear-correspondences"}); err != nil {
		t.Fatal(err)
	}
	result, err = svc.DoCommand(context.Background(), map[string]interface{}{"command": "list-correspondences"})
	if err != nil {
		t.Fatal(err)
	}
	list, _ = result["correspondences"].([]interface{})
	if len(list) != 0 {
		t.Errorf("listed %d correspondences after clear", len(list))
	}
}

func TestServiceEnvelopePassthrough(t *testing.T) {
	svc := newTestService(t)

	result, err := svc.DoCommand(context.Background(), map[string]interface{}{
		"command": "solveTickBoundary",
		"args": map[string]interface{}{
			"segmentBefore": []interface{}{
				map[string]interface{}{"frame": 1.0, "pixel": []interface{}{0.0, 0.0}},
				map[string]interface{}{"frame": 2.0, "pixel": []interface{}{10.0, 0.0}},
			},
			"segmentAfter": []interface{}{
				map[string]interface{}{"frame": 3.0, "pixel": []interface{}{20.0, 0.0}},
				map[string]interface{}{"frame": 4.0, "pixel": []interface{}{20.0, 10.0}},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := result["ok"].(bool); !ok {
		t.Fatalf("envelope solve failed: %+v", result)
	}

	if _, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "teleport"}); err == nil {
		t.Error("expected an error for an unknown command")
	}
}
