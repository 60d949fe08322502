package solvers

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// projectPoint maps a world point through a camera (rotation, translation, focal
// length, principal point) onto the image plane. ok is false when the point sits on
// or behind the camera plane and has no finite projection.
func projectPoint(rot *mat.Dense, trans r3.Vector, focal float64, pp r2.Point, world r3.Vector) (r2.Point, bool) {
	cx := rot.At(0, 0)*world.X + rot.At(0, 1)*world.Y + rot.At(0, 2)*world.Z + trans.X
	cy := rot.At(1, 0)*world.X + rot.At(1, 1)*world.Y + rot.At(1, 2)*world.Z + trans.Y
	cz := rot.At(2, 0)*world.X + rot.At(2, 1)*world.Y + rot.At(2, 2)*world.Z + trans.Z
	if cz < 1e-12 {
		return r2.Point{}, false
	}
	return r2.Point{
		X: focal*cx/cz + pp.X,
		Y: focal*cy/cz + pp.Y,
	}, true
}

func (e *PoseEstimate) rotationMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		e.Rotation[0][0], e.Rotation[0][1], e.Rotation[0][2],
		e.Rotation[1][0], e.Rotation[1][1], e.Rotation[1][2],
		e.Rotation[2][0], e.Rotation[2][1], e.Rotation[2][2],
	})
}

// Reproject maps a world point into pixel coordinates under the estimated camera.
// Points behind the camera project to (+Inf, +Inf).
func Reproject(e *PoseEstimate, world r3.Vector) r2.Point {
	pixel, ok := projectPoint(e.rotationMatrix(), e.Translation, e.FocalLength, e.PrincipalPoint, world)
	if !ok {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return pixel
}

// ComputeResiduals reports the per-correspondence Euclidean pixel error of the
// estimate over a set, in input order, and the root-mean-square of those errors.
func ComputeResiduals(e *PoseEstimate, set CorrespondenceSet) ([]float64, float64) {
	rot := e.rotationMatrix()
	residuals := make([]float64, len(set))
	sum := 0.0
	for i, c := range set {
		pixel, ok := projectPoint(rot, e.Translation, e.FocalLength, e.PrincipalPoint, c.World.Position)
		if !ok {
			residuals[i] = math.Inf(1)
			sum = math.Inf(1)
			continue
		}
		dx := pixel.X - c.Pixel.X
		dy := pixel.Y - c.Pixel.Y
		residuals[i] = math.Hypot(dx, dy)
		sum += dx*dx + dy*dy
	}
	rms := 0.0
	if len(set) > 0 {
		rms = math.Sqrt(sum / float64(len(set)))
	}
	return residuals, rms
}
