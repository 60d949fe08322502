package main

import (
	"context"
	"flag"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/joho/godotenv"
	"go.viam.com/rdk/logging"

	"github.com/rubyswolf/MCV/backends"
	"github.com/rubyswolf/MCV/solvers"
	"github.com/rubyswolf/MCV/utils"
)

func main() {
	if err := realMain(); err != nil {
		panic(err)
	}
}

func realMain() error {
	fixturePath := flag.String("fixture", "", "path to a scene fixture JSON file")
	remoteName := flag.String("remote", "", "forward the solve to this solver service instead of running locally")
	envFile := flag.String("env", "", "path to a .env file with machine credentials")
	flag.Parse()

	if *fixturePath == "" {
		return fmt.Errorf("-fixture is required")
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("loading %s: %w", *envFile, err)
		}
	} else {
		// Fine if absent, credentials may already be in the environment.
		_ = godotenv.Load()
	}

	ctx := context.Background()
	logger := logging.NewDebugLogger("cli")

	fixture, err := solvers.LoadFixture(*fixturePath)
	if err != nil {
		return err
	}
	logger.Infof("loaded fixture %q: %d correspondences, image %gx%g",
		fixture.Name, len(fixture.Correspondences), fixture.ImageWidth, fixture.ImageHeight)

	worlds := make([]r3.Vector, len(fixture.Correspondences))
	for i, c := range fixture.Correspondences {
		worlds[i] = r3.Vector{X: c.World[0], Y: c.World[1], Z: c.World[2]}
	}
	utils.ReportLabelQuality(worlds)

	var backend backends.Backend
	if *remoteName != "" {
		backend, err = backends.NewRemote(ctx, *remoteName, logger)
		if err != nil {
			return err
		}
	} else {
		backend = backends.NewLocal(logger)
	}
	defer backend.Close(ctx)

	pp := fixture.PrincipalPoint()
	req := backends.Request{
		Op: backends.OpSolvePose,
		Args: map[string]interface{}{
			"correspondences": fixture.Correspondences,
			"principalPoint":  []float64{pp.X, pp.Y},
		},
	}
	resp := backend.Solve(ctx, req)
	if !resp.OK {
		logger.Errorf("solve failed: %s: %s", resp.Error.Code, resp.Error.Message)
		if resp.Error.Details != nil {
			logger.Errorf("details: %v", resp.Error.Details)
		}
		return fmt.Errorf("solve failed with code %s", resp.Error.Code)
	}

	est, err := solvers.PoseEstimateFromMap(resp.Data, pp)
	if err != nil {
		return err
	}

	fmt.Printf("focal length: %.3f px\n", est.FocalLength)
	fmt.Printf("translation:  [%.4f %.4f %.4f]\n", est.Translation.X, est.Translation.Y, est.Translation.Z)
	fmt.Println("rotation:")
	for i := 0; i < 3; i++ {
		fmt.Printf("  [%9.6f %9.6f %9.6f]\n", est.Rotation[i][0], est.Rotation[i][1], est.Rotation[i][2])
	}
	fmt.Printf("rms error:    %.6f px (converged: %v)\n", est.RMSError, est.Converged)
	set := fixture.Set()
	for i, r := range est.Residuals {
		fmt.Printf("  %-8s %.6f px\n", set[i].World.ID, r)
	}

	if exp := fixture.Expected; exp != nil {
		focalErr := math.Abs(est.FocalLength - exp.FocalLength)
		transErr := math.Sqrt(
			(est.Translation.X-exp.Translation[0])*(est.Translation.X-exp.Translation[0]) +
				(est.Translation.Y-exp.Translation[1])*(est.Translation.Y-exp.Translation[1]) +
				(est.Translation.Z-exp.Translation[2])*(est.Translation.Z-exp.Translation[2]))
		fmt.Printf("vs expected:  focal err %.4f px, translation err %.6f\n", focalErr, transErr)
		if est.RMSError > exp.RMSTolerancePx {
			return fmt.Errorf("rms error %.4f px exceeds fixture tolerance %.4f px", est.RMSError, exp.RMSTolerancePx)
		}
	}
	return nil
}
