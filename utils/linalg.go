package utils

import (
	"errors"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// SmallestSingularVector solves the homogeneous system A*x = 0 in the least-squares
// sense. It returns the right singular vector associated with the smallest singular
// value, plus the full set of singular values (descending) so callers can inspect the
// rank gap.
func SmallestSingularVector(a *mat.Dense) ([]float64, []float64, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, nil, errors.New("svd factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	sigma := svd.Values(nil)

	// Singular values come out descending, so the null vector is the last column of V
	x := mat.Col(nil, len(sigma)-1, &v)
	return x, sigma, nil
}

// RQDecompose3x3 factors a 3x3 matrix m into m = K*Q with K upper triangular and Q
// orthogonal. The trick is to QR-factorize the transpose of the row-reversed matrix;
// undoing the reversal on the QR factors yields the RQ form. The diagonal of K is
// normalized to be positive by absorbing sign flips into Q.
func RQDecompose3x3(m *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	r, c := m.Dims()
	if r != 3 || c != 3 {
		return nil, nil, errors.New("RQDecompose3x3 requires a 3x3 matrix")
	}

	// E is the row-exchange matrix; E*m reverses the rows
	e := mat.NewDense(3, 3, []float64{
		0, 0, 1,
		0, 1, 0,
		1, 0, 0,
	})
	var b mat.Dense
	b.Mul(e, m)
	var bt mat.Dense
	bt.CloneFrom(b.T())

	var qr mat.QR
	qr.Factorize(&bt)
	var qTilde, rTilde mat.Dense
	qr.QTo(&qTilde)
	qr.RTo(&rTilde)

	// m = (E * rTilde^T * E) * (E * qTilde^T)
	var k mat.Dense
	var rt mat.Dense
	rt.CloneFrom(rTilde.T())
	k.Mul(e, &rt)
	k.Mul(&k, e)

	var q mat.Dense
	var qt mat.Dense
	qt.CloneFrom(qTilde.T())
	q.Mul(e, &qt)

	// Force positive diagonal on K; D is its own inverse so Q absorbs the flip
	for i := 0; i < 3; i++ {
		if k.At(i, i) < 0 {
			for row := 0; row < 3; row++ {
				k.Set(row, i, -k.At(row, i))
			}
			for col := 0; col < 3; col++ {
				q.Set(i, col, -q.At(i, col))
			}
		}
	}
	return &k, &q, nil
}

// NearestRotation projects m onto the closest orthonormal matrix with determinant +1
// (Frobenius sense) via SVD.
func NearestRotation(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, errors.New("svd factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		// Flip the column of U matching the smallest singular value
		rows, cols := u.Dims()
		for i := 0; i < rows; i++ {
			u.Set(i, cols-1, -u.At(i, cols-1))
		}
		rot.Mul(&u, v.T())
	}
	return &rot, nil
}

// Line2D is a total-least-squares line fit: a unit direction through a centroid.
type Line2D struct {
	Origin    r2.Point // centroid of the fitted samples
	Direction r2.Point // unit vector
}

// Normal returns the unit normal such that Normal·x = Normal·Origin is the line's
// normal form.
func (l Line2D) Normal() r2.Point {
	return r2.Point{X: -l.Direction.Y, Y: l.Direction.X}
}

// PerpDistance returns the unsigned perpendicular distance from p to the line.
func (l Line2D) PerpDistance(p r2.Point) float64 {
	n := l.Normal()
	return math.Abs(n.X*(p.X-l.Origin.X) + n.Y*(p.Y-l.Origin.Y))
}

// FitLine2D fits a line to 2D points minimizing perpendicular distance, via
// eigen-decomposition of the centered sample covariance. Unlike axis-wise regression
// this handles near-vertical point runs without bias. The direction is oriented from
// the first point toward the last. The second return is the RMS perpendicular
// residual.
func FitLine2D(points []r2.Point) (Line2D, float64, error) {
	n := len(points)
	if n < 2 {
		return Line2D{}, 0, errors.New("need at least 2 points to fit a line")
	}

	var cx, cy float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(n)
	cy /= float64(n)
	centroid := r2.Point{X: cx, Y: cy}

	var sxx, sxy, syy float64
	for _, p := range points {
		dx := p.X - cx
		dy := p.Y - cy
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	cov := mat.NewSymDense(2, []float64{sxx, sxy, sxy, syy})

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return Line2D{}, math.NaN(), errors.New("covariance eigen-decomposition failed")
	}
	eigenvals := eig.Values(nil)
	vectors := mat.NewDense(2, 2, nil)
	eig.VectorsTo(vectors)

	maxIdx := 0
	if eigenvals[1] > eigenvals[0] {
		maxIdx = 1
	}
	if eigenvals[maxIdx] < 1e-20 {
		return Line2D{}, 0, errors.New("points have no spatial extent")
	}

	direction := r2.Point{X: vectors.At(0, maxIdx), Y: vectors.At(1, maxIdx)}
	direction = direction.Normalize()

	// Orient along the sample order so arc length increases with it
	span := points[n-1].Sub(points[0])
	if direction.Dot(span) < 0 {
		direction = direction.Mul(-1)
	}

	line := Line2D{Origin: centroid, Direction: direction}
	var totalSq float64
	for _, p := range points {
		d := line.PerpDistance(p)
		totalSq += d * d
	}
	return line, math.Sqrt(totalSq / float64(n)), nil
}

// IntersectLines solves the 2x2 normal-form system for the intersection of two fitted
// lines. The returned determinant equals the sine of the angle between the lines
// (both normals are unit length); callers decide what counts as near-parallel.
func IntersectLines(a, b Line2D) (r2.Point, float64) {
	na := a.Normal()
	nb := b.Normal()
	ca := na.Dot(a.Origin)
	cb := nb.Dot(b.Origin)

	det := na.X*nb.Y - na.Y*nb.X
	if det == 0 {
		return r2.Point{}, 0
	}
	x := (ca*nb.Y - cb*na.Y) / det
	y := (na.X*cb - nb.X*ca) / det
	return r2.Point{X: x, Y: y}, det
}

// CovarianceEigenvalues3 returns the eigenvalues (ascending) of the centered
// covariance of a 3D point cloud, along with the centroid. A vanishing smallest
// eigenvalue means the points are coplanar; two vanishing eigenvalues mean collinear.
func CovarianceEigenvalues3(points []r3.Vector) ([3]float64, r3.Vector, error) {
	n := len(points)
	if n < 2 {
		return [3]float64{}, r3.Vector{}, errors.New("need at least 2 points")
	}

	var centroid r3.Vector
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1.0 / float64(n))

	cov := mat.NewSymDense(3, nil)
	for _, p := range points {
		d := p.Sub(centroid)
		dv := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, cov.At(i, j)+dv[i]*dv[j])
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, false) {
		return [3]float64{}, r3.Vector{}, errors.New("covariance eigen-decomposition failed")
	}
	vals := eig.Values(nil)
	return [3]float64{vals[0], vals[1], vals[2]}, centroid, nil
}

// CovarianceEigenvalues2 is the 2D analogue of CovarianceEigenvalues3, used for
// collinearity checks on pixel projections.
func CovarianceEigenvalues2(points []r2.Point) ([2]float64, r2.Point, error) {
	n := len(points)
	if n < 2 {
		return [2]float64{}, r2.Point{}, errors.New("need at least 2 points")
	}

	var cx, cy float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(n)
	cy /= float64(n)

	var sxx, sxy, syy float64
	for _, p := range points {
		dx := p.X - cx
		dy := p.Y - cy
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	cov := mat.NewSymDense(2, []float64{sxx, sxy, sxy, syy})

	var eig mat.EigenSym
	if !eig.Factorize(cov, false) {
		return [2]float64{}, r2.Point{}, errors.New("covariance eigen-decomposition failed")
	}
	vals := eig.Values(nil)
	return [2]float64{vals[0], vals[1]}, r2.Point{X: cx, Y: cy}, nil
}

// Clamp clamps a value between min and max
func Clamp(value, min, max float64) float64 {
	return math.Max(min, math.Min(max, value))
}
