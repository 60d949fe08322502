package solvers

import (
	"math"
	"path/filepath"
	"testing"
)

func TestFixtures(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no fixtures found under testdata")
	}

	for _, path := range paths {
		fixture, err := LoadFixture(path)
		if err != nil {
			t.Fatal(err)
		}
		t.Run(fixture.Name, func(t *testing.T) {
			est, err := SolvePose(fixture.Set(), PoseSolverOptions{PrincipalPoint: fixture.PrincipalPoint()})
			if err != nil {
				t.Fatalf("solve failed: %v", err)
			}

			exp := fixture.Expected
			if exp == nil {
				t.Fatalf("fixture %s carries no expected pose", fixture.Name)
			}
			if est.RMSError > exp.RMSTolerancePx {
				t.Errorf("rms = %f px, tolerance %f px", est.RMSError, exp.RMSTolerancePx)
			}
			if math.Abs(est.FocalLength-exp.FocalLength) > 1e-3 {
				t.Errorf("focal = %f, want %f", est.FocalLength, exp.FocalLength)
			}
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					if math.Abs(est.Rotation[i][j]-exp.Rotation[i][j]) > 1e-6 {
						t.Errorf("R(%d,%d) = %f, want %f", i, j, est.Rotation[i][j], exp.Rotation[i][j])
					}
				}
			}
			for i, got := range []float64{est.Translation.X, est.Translation.Y, est.Translation.Z} {
				if math.Abs(got-exp.Translation[i]) > 1e-5 {
					t.Errorf("t[%d] = %f, want %f", i, got, exp.Translation[i])
				}
			}
		})
	}
}
