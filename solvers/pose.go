package solvers

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/rubyswolf/MCV/utils"
)

// PoseEstimate is an immutable snapshot of a solved camera. It is a pure function of
// the correspondence set it was computed from; any mutation of that set means a full
// recomputation, never a patch.
type PoseEstimate struct {
	Rotation       [3][3]float64 // row-major, orthonormal, det +1
	Translation    r3.Vector
	FocalLength    float64 // square pixels, principal point assumed centered
	PrincipalPoint r2.Point
	Residuals      []float64 // per-correspondence pixel distance, input order
	RMSError       float64
	Converged      bool
}

// PoseSolverOptions carries the assumed intrinsics that are not solved for.
type PoseSolverOptions struct {
	// PrincipalPoint is the assumed image center in pixel coordinates. Zero means the
	// pixels are already centered.
	PrincipalPoint r2.Point
}

const (
	// dltRankGapTol: the DLT null space must be one-dimensional. If the second
	// smallest singular value is this close to zero (relative to the largest) the
	// system is rank deficient and the configuration degenerate.
	dltRankGapTol = 1e-9

	refineMaxIterations = 100
	// refineRelTol: the refinement has converged when the relative cost decrease
	// falls below this.
	refineRelTol = 1e-9
	// materialDecreaseTol: if a short probe run after the iteration budget still
	// shrinks the cost by more than this (relative), the solve is reported as
	// NON_CONVERGENCE instead of quietly returning a half-refined pose.
	materialDecreaseTol = 1e-6
)

// SolvePose estimates rotation, translation and focal length from a correspondence
// set: DLT initial estimate, intrinsic/extrinsic decomposition, then iterative
// reprojection-error minimization. A failure never returns a pose.
func SolvePose(set CorrespondenceSet, opts PoseSolverOptions) (*PoseEstimate, error) {
	if err := ValidateSet(set); err != nil {
		return nil, err
	}
	pp := opts.PrincipalPoint

	proj, err := solveDLT(set, pp)
	if err != nil {
		return nil, err
	}

	focal, rot, trans, err := decomposeProjection(proj)
	if err != nil {
		return nil, err
	}

	axisAngle := utils.MatrixToAxisAngle(rot)
	x0 := []float64{
		axisAngle.X, axisAngle.Y, axisAngle.Z,
		trans.X, trans.Y, trans.Z,
		focal,
	}

	refined, converged, err := refinePose(x0, set, pp)
	if err != nil {
		return nil, err
	}
	if refined[6] <= 0 || !allFinite(refined) {
		se := newSolveError(CodeNonConvergence, "refinement produced a non-physical camera")
		se.Details = map[string]interface{}{"dltOnly": estimateFromParams(x0, set, pp, false).AsMap()}
		return nil, se
	}

	return estimateFromParams(refined, set, pp, converged), nil
}

// solveDLT builds the 2n x 12 homogeneous system relating homogeneous world points to
// recentered pixels through an unknown 3x4 projection matrix and solves it by SVD.
// The returned matrix is normalized to a unit third-row direction with the sign that
// puts the majority of the world points at positive depth.
func solveDLT(set CorrespondenceSet, pp r2.Point) (*mat.Dense, error) {
	n := len(set)
	a := mat.NewDense(2*n, 12, nil)
	for i, c := range set {
		u := c.Pixel.X - pp.X
		v := c.Pixel.Y - pp.Y
		w := c.World.Position
		a.SetRow(2*i, []float64{
			w.X, w.Y, w.Z, 1,
			0, 0, 0, 0,
			-u * w.X, -u * w.Y, -u * w.Z, -u,
		})
		a.SetRow(2*i+1, []float64{
			0, 0, 0, 0,
			w.X, w.Y, w.Z, 1,
			-v * w.X, -v * w.Y, -v * w.Z, -v,
		})
	}

	pvec, sigma, err := utils.SmallestSingularVector(a)
	if err != nil {
		return nil, newSolveError(CodeDegenerateConfiguration, "projection system could not be factorized: %v", err)
	}
	// One vanishing singular value is the solution; two means the null space is not
	// unique and the configuration cannot constrain the camera.
	if sigma[0] < 1e-20 || sigma[10]/sigma[0] < dltRankGapTol {
		return nil, newSolveError(CodeDegenerateConfiguration,
			"the two smallest singular values of the projection system are not well separated")
	}

	p := mat.NewDense(3, 4, pvec)
	rowNorm := math.Sqrt(p.At(2, 0)*p.At(2, 0) + p.At(2, 1)*p.At(2, 1) + p.At(2, 2)*p.At(2, 2))
	if rowNorm < 1e-15 {
		return nil, newSolveError(CodeDegenerateConfiguration, "projection matrix has a vanishing viewing axis")
	}
	p.Scale(1/rowNorm, p)

	positive := 0
	for _, c := range set {
		w := c.World.Position
		depth := p.At(2, 0)*w.X + p.At(2, 1)*w.Y + p.At(2, 2)*w.Z + p.At(2, 3)
		if depth > 0 {
			positive++
		}
	}
	if 2*positive < n {
		p.Scale(-1, p)
	}
	return p, nil
}

// decomposeProjection splits P = K[R|t] via RQ decomposition of the leading 3x3
// block. Numerical drift in the orthogonal factor is removed by projecting onto the
// nearest rotation. P must already carry the majority-positive-depth sign, which
// pins det of the orthogonal factor to +1 for any proper camera.
func decomposeProjection(p *mat.Dense) (float64, *mat.Dense, r3.Vector, error) {
	var m mat.Dense
	m.CloneFrom(p.Slice(0, 3, 0, 3))

	k, q, err := utils.RQDecompose3x3(&m)
	if err != nil {
		return 0, nil, r3.Vector{}, newSolveError(CodeDegenerateConfiguration, "intrinsic factorization failed: %v", err)
	}

	// With K's diagonal forced positive and the projection sign already fixed for
	// majority-positive depths, a proper camera always yields det(q) = +1. A negative
	// determinant means the correspondences are mirror-inverted: flipping q would
	// recompose to -P and put the whole cloud behind the camera.
	if mat.Det(q) < 0 {
		return 0, nil, r3.Vector{}, newSolveError(CodeDegenerateConfiguration,
			"projection factors into a reflection; correspondences appear mirror-inverted")
	}
	rot, err := utils.NearestRotation(q)
	if err != nil {
		return 0, nil, r3.Vector{}, newSolveError(CodeDegenerateConfiguration, "rotation factor could not be orthonormalized: %v", err)
	}

	k22 := k.At(2, 2)
	if k22 < 1e-15 {
		return 0, nil, r3.Vector{}, newSolveError(CodeDegenerateConfiguration, "intrinsic matrix has a vanishing scale")
	}
	focal := (k.At(0, 0) + k.At(1, 1)) / (2 * k22)
	if focal <= 0 || math.IsNaN(focal) {
		return 0, nil, r3.Vector{}, newSolveError(CodeDegenerateConfiguration, "decomposition produced a non-positive focal length")
	}

	var kinv mat.Dense
	if err := kinv.Inverse(k); err != nil {
		return 0, nil, r3.Vector{}, newSolveError(CodeDegenerateConfiguration, "intrinsic matrix is singular: %v", err)
	}
	p4 := []float64{p.At(0, 3), p.At(1, 3), p.At(2, 3)}
	trans := r3.Vector{
		X: kinv.At(0, 0)*p4[0] + kinv.At(0, 1)*p4[1] + kinv.At(0, 2)*p4[2],
		Y: kinv.At(1, 0)*p4[0] + kinv.At(1, 1)*p4[1] + kinv.At(1, 2)*p4[2],
		Z: kinv.At(2, 0)*p4[0] + kinv.At(2, 1)*p4[1] + kinv.At(2, 2)*p4[2],
	}
	return focal, rot, trans, nil
}

// residualFunc returns the reprojection residual vector (2 entries per
// correspondence) over the minimal 7-parameter camera: axis-angle rotation,
// translation, focal length.
func residualFunc(set CorrespondenceSet, pp r2.Point) func(dst, x []float64) {
	return func(dst, x []float64) {
		rot := utils.AxisAngleToMatrix(r3.Vector{X: x[0], Y: x[1], Z: x[2]})
		trans := r3.Vector{X: x[3], Y: x[4], Z: x[5]}
		focal := x[6]
		for i, c := range set {
			pixel, ok := projectPoint(rot, trans, focal, pp, c.World.Position)
			if !ok {
				// Point at or behind the camera plane: a large finite penalty keeps
				// the optimizer away without poisoning it with infinities.
				dst[2*i] = 1e6
				dst[2*i+1] = 1e6
				continue
			}
			dst[2*i] = pixel.X - c.Pixel.X
			dst[2*i+1] = pixel.Y - c.Pixel.Y
		}
	}
}

// refinePose minimizes total squared reprojection error with Levenberg-Marquardt,
// falling back to derivative-free Nelder-Mead if LM fails outright. A short probe
// run afterwards decides between converged, merely budget-capped, and materially
// non-converged.
func refinePose(x0 []float64, set CorrespondenceSet, pp r2.Point) ([]float64, bool, error) {
	fn := residualFunc(set, pp)
	size := 2 * len(set)

	cost := func(x []float64) float64 {
		dst := make([]float64, size)
		fn(dst, x)
		sum := 0.0
		for _, d := range dst {
			sum += d * d
		}
		return sum
	}

	best := append([]float64{}, x0...)
	bestCost := cost(best)

	run := func(start []float64, iterations int) ([]float64, error) {
		jac := lm.NumJac{Func: fn}
		prob := lm.LMProblem{
			Dim:        7,
			Size:       size,
			Func:       fn,
			Jac:        jac.Jac,
			InitParams: append([]float64{}, start...),
			Tau:        1e-6,
			Eps1:       1e-12,
			Eps2:       1e-12,
		}
		results, err := lm.LM(prob, &lm.Settings{Iterations: iterations, ObjectiveTol: 1e-18})
		if err != nil {
			return nil, err
		}
		return results.X, nil
	}

	mainX, mainErr := run(best, refineMaxIterations)
	if mainErr == nil && allFinite(mainX) && cost(mainX) <= bestCost {
		best = mainX
		bestCost = cost(mainX)
	} else {
		// Derivative-free fallback on the same objective
		nmX, nmErr := nelderMeadRefine(cost, best)
		if nmErr == nil && allFinite(nmX) && cost(nmX) < bestCost {
			best = nmX
			bestCost = cost(nmX)
		}
	}

	converged := mainErr == nil
	probeX, probeErr := run(best, 10)
	if probeErr == nil && allFinite(probeX) {
		probeCost := cost(probeX)
		if probeCost < bestCost {
			rel := (bestCost - probeCost) / math.Max(bestCost, 1e-300)
			if rel > materialDecreaseTol {
				se := newSolveError(CodeNonConvergence,
					"refinement hit its iteration budget with the cost still decreasing")
				se.Details = map[string]interface{}{
					"dltOnly": estimateFromParams(x0, set, pp, false).AsMap(),
				}
				return nil, false, se
			}
			best = probeX
			bestCost = probeCost
			converged = rel <= refineRelTol
		} else {
			converged = true
		}
	}

	return best, converged, nil
}

func nelderMeadRefine(cost func(x []float64) float64, x0 []float64) ([]float64, error) {
	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, cost, x, nil)
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: 50000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   refineRelTol,
			Iterations: refineMaxIterations,
		},
	}
	result, err := optimize.Minimize(problem, append([]float64{}, x0...), settings, &optimize.NelderMead{})
	if err != nil {
		return nil, err
	}
	return result.X, nil
}

func estimateFromParams(x []float64, set CorrespondenceSet, pp r2.Point, converged bool) *PoseEstimate {
	rot := utils.AxisAngleToMatrix(r3.Vector{X: x[0], Y: x[1], Z: x[2]})
	est := &PoseEstimate{
		Translation:    r3.Vector{X: x[3], Y: x[4], Z: x[5]},
		FocalLength:    x[6],
		PrincipalPoint: pp,
		Converged:      converged,
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			est.Rotation[i][j] = rot.At(i, j)
		}
	}
	est.Residuals, est.RMSError = ComputeResiduals(est, set)
	return est
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PoseEstimateFromMap rebuilds an estimate from the payload shape AsMap produces,
// tolerating the loosely typed maps a wire transport hands back.
func PoseEstimateFromMap(data map[string]interface{}, pp r2.Point) (*PoseEstimate, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding pose payload: %w", err)
	}
	var wire struct {
		Rotation    [3][3]float64 `json:"rotation"`
		Translation [3]float64    `json:"translation"`
		FocalLength float64       `json:"focalLength"`
		Residuals   []float64     `json:"residuals"`
		RMSError    float64       `json:"rmsError"`
		Converged   bool          `json:"converged"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decoding pose payload: %w", err)
	}
	return &PoseEstimate{
		Rotation:       wire.Rotation,
		Translation:    r3.Vector{X: wire.Translation[0], Y: wire.Translation[1], Z: wire.Translation[2]},
		FocalLength:    wire.FocalLength,
		PrincipalPoint: pp,
		Residuals:      wire.Residuals,
		RMSError:       wire.RMSError,
		Converged:      wire.Converged,
	}, nil
}

// AsMap renders the estimate in the envelope's payload shape.
func (e *PoseEstimate) AsMap() map[string]interface{} {
	rotation := make([][]float64, 3)
	for i := 0; i < 3; i++ {
		rotation[i] = []float64{e.Rotation[i][0], e.Rotation[i][1], e.Rotation[i][2]}
	}
	return map[string]interface{}{
		"rotation":    rotation,
		"translation": []float64{e.Translation.X, e.Translation.Y, e.Translation.Z},
		"focalLength": e.FocalLength,
		"residuals":   e.Residuals,
		"rmsError":    e.RMSError,
		"converged":   e.Converged,
	}
}
