package utils

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// AxisAngleToMatrix converts a Rodrigues vector (rotation axis scaled by the rotation
// angle in radians) to a 3x3 rotation matrix. The minimal 3-parameter form is what
// the refinement optimizer works in; everything outside the optimizer uses the matrix
// form.
func AxisAngleToMatrix(v r3.Vector) *mat.Dense {
	angle := v.Norm()
	if angle < 1e-12 {
		return mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			0, 0, 1,
		})
	}
	axis := v.Mul(1.0 / angle)
	kx, ky, kz := axis.X, axis.Y, axis.Z
	c := math.Cos(angle)
	s := math.Sin(angle)
	oc := 1 - c

	return mat.NewDense(3, 3, []float64{
		c + kx*kx*oc, kx*ky*oc - kz*s, kx*kz*oc + ky*s,
		ky*kx*oc + kz*s, c + ky*ky*oc, ky*kz*oc - kx*s,
		kz*kx*oc - ky*s, kz*ky*oc + kx*s, c + kz*kz*oc,
	})
}

// MatrixToAxisAngle converts a rotation matrix to its Rodrigues vector. Angles near 0
// and near pi need their own branches: the skew part vanishes in both.
func MatrixToAxisAngle(m *mat.Dense) r3.Vector {
	trace := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	cosA := Clamp((trace-1)/2, -1, 1)
	angle := math.Acos(cosA)

	if angle < 1e-10 {
		return r3.Vector{}
	}

	if math.Pi-angle < 1e-6 {
		// Near pi use the symmetric part: R + I = 2*axis*axis^T (up to cos terms)
		xx := math.Sqrt(math.Max(0, (m.At(0, 0)+1)/2))
		yy := math.Sqrt(math.Max(0, (m.At(1, 1)+1)/2))
		zz := math.Sqrt(math.Max(0, (m.At(2, 2)+1)/2))
		// Fix relative signs from the off-diagonal sums
		if m.At(0, 1)+m.At(1, 0) < 0 {
			yy = -yy
		}
		if m.At(0, 2)+m.At(2, 0) < 0 {
			zz = -zz
		}
		axis := r3.Vector{X: xx, Y: yy, Z: zz}
		n := axis.Norm()
		if n < 1e-12 {
			return r3.Vector{X: angle}
		}
		return axis.Mul(angle / n)
	}

	scale := angle / (2 * math.Sin(angle))
	return r3.Vector{
		X: scale * (m.At(2, 1) - m.At(1, 2)),
		Y: scale * (m.At(0, 2) - m.At(2, 0)),
		Z: scale * (m.At(1, 0) - m.At(0, 1)),
	}
}
