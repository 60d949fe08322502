package solvers

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/rubyswolf/MCV/utils"
)

// TrajectorySample is one observed target position tagged with the frame it was
// seen on. Frames are fractional to allow interpolated detections.
type TrajectorySample struct {
	Frame float64  `json:"frame"`
	Pixel r2.Point `json:"pixel"`
}

// TickBoundaryEstimate locates the instant a target changed direction: the pixel
// where the two motion segments intersect and the fractional frame at which the
// target passed through it.
type TickBoundaryEstimate struct {
	Intersection    r2.Point
	FractionalFrame float64
	// Residuals holds the perpendicular distance of every sample to its segment's
	// fitted line: before-segment samples first, then after-segment samples.
	Residuals []float64
	// Confidence is |sin| of the angle between the two segments: 1 for
	// perpendicular motion, approaching 0 as the segments become parallel.
	Confidence float64
}

// MinTrajectorySamples is the fewest samples a segment needs to define a line.
const MinTrajectorySamples = 2

// parallelTol: below this |sin| of the inter-segment angle the intersection is
// numerically meaningless.
const parallelTol = 1e-8

// SolveTickBoundary fits a total-least-squares line through each motion segment,
// intersects the two lines, and maps the intersection back to a fractional frame
// index using each segment's own frame-to-arc-length relation.
func SolveTickBoundary(before, after []TrajectorySample) (*TickBoundaryEstimate, error) {
	if len(before) < MinTrajectorySamples || len(after) < MinTrajectorySamples {
		return nil, newSolveError(CodeInsufficientSamples,
			"each motion segment needs at least %d samples, got %d and %d",
			MinTrajectorySamples, len(before), len(after))
	}

	lineBefore, resBefore, err := fitSegment(before)
	if err != nil {
		return nil, err
	}
	lineAfter, resAfter, err := fitSegment(after)
	if err != nil {
		return nil, err
	}

	intersection, det := utils.IntersectLines(lineBefore, lineAfter)
	sinAngle := math.Abs(det)
	if sinAngle < parallelTol {
		return nil, newSolveError(CodeParallelLines,
			"motion segments are parallel within tolerance (|sin| = %.3g)", sinAngle)
	}

	frameBefore, err := frameAtPoint(before, lineBefore, intersection)
	if err != nil {
		return nil, err
	}
	frameAfter, err := frameAtPoint(after, lineAfter, intersection)
	if err != nil {
		return nil, err
	}

	return &TickBoundaryEstimate{
		Intersection:    intersection,
		FractionalFrame: (frameBefore + frameAfter) / 2,
		Residuals:       append(resBefore, resAfter...),
		Confidence:      sinAngle,
	}, nil
}

// AsMap renders the estimate in the envelope's payload shape.
func (e *TickBoundaryEstimate) AsMap() map[string]interface{} {
	return map[string]interface{}{
		"intersection":    []float64{e.Intersection.X, e.Intersection.Y},
		"fractionalFrame": e.FractionalFrame,
		"residuals":       e.Residuals,
		"confidence":      e.Confidence,
	}
}

func fitSegment(samples []TrajectorySample) (utils.Line2D, []float64, error) {
	points := make([]r2.Point, len(samples))
	for i, s := range samples {
		points[i] = s.Pixel
	}
	line, _, err := utils.FitLine2D(points)
	if err != nil {
		// All samples coincide: no direction, so no line to intersect.
		return utils.Line2D{}, nil, newSolveError(CodeParallelLines, "motion segment has no direction: %v", err)
	}
	residuals := make([]float64, len(points))
	for i, p := range points {
		residuals[i] = line.PerpDistance(p)
	}
	return line, residuals, nil
}

// frameAtPoint inverts a segment's motion: fit arc-length along the segment's line
// as a linear function of frame index, then solve for the frame whose arc-length
// matches the target point. A vanishing slope means the target was not moving along
// the line and the inversion is undefined.
func frameAtPoint(samples []TrajectorySample, line utils.Line2D, target r2.Point) (float64, error) {
	n := float64(len(samples))
	sumF, sumS, sumFF, sumFS := 0.0, 0.0, 0.0, 0.0
	for _, s := range samples {
		arc := line.Direction.Dot(s.Pixel.Sub(line.Origin))
		sumF += s.Frame
		sumS += arc
		sumFF += s.Frame * s.Frame
		sumFS += s.Frame * arc
	}
	denom := n*sumFF - sumF*sumF
	if math.Abs(denom) < 1e-12 {
		return 0, newSolveError(CodeInsufficientSamples, "motion segment samples share a single frame index")
	}
	slope := (n*sumFS - sumF*sumS) / denom
	intercept := (sumS - slope*sumF) / n
	if math.Abs(slope) < 1e-12 {
		return 0, newSolveError(CodeParallelLines, "target is stationary along its motion segment")
	}
	targetArc := line.Direction.Dot(target.Sub(line.Origin))
	return (targetArc - intercept) / slope, nil
}
