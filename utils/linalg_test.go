package utils

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

func TestRQDecompose3x3Reconstructs(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		1200, 3, 950,
		0.5, 1180, 520,
		0.001, 0.002, 1,
	})

	k, q, err := RQDecompose3x3(m)
	if err != nil {
		t.Fatalf("decompose failed: %v", err)
	}

	// K upper triangular with positive diagonal
	for i := 0; i < 3; i++ {
		if k.At(i, i) <= 0 {
			t.Errorf("K diagonal %d is %f, want positive", i, k.At(i, i))
		}
		for j := 0; j < i; j++ {
			if math.Abs(k.At(i, j)) > 1e-9 {
				t.Errorf("K(%d,%d) = %g, want 0", i, j, k.At(i, j))
			}
		}
	}

	// Q orthogonal
	var qtq mat.Dense
	qtq.Mul(q.T(), q)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(qtq.At(i, j)-want) > 1e-9 {
				t.Errorf("QtQ(%d,%d) = %f, want %f", i, j, qtq.At(i, j), want)
			}
		}
	}

	// K*Q reproduces the input
	var prod mat.Dense
	prod.Mul(k, q)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(prod.At(i, j)-m.At(i, j)) > 1e-6 {
				t.Errorf("KQ(%d,%d) = %f, want %f", i, j, prod.At(i, j), m.At(i, j))
			}
		}
	}
}

func TestNearestRotationFixesDrift(t *testing.T) {
	// slightly perturbed identity
	m := mat.NewDense(3, 3, []float64{
		1.001, 0.002, 0,
		-0.001, 0.999, 0.001,
		0, 0.002, 1.0005,
	})
	r, err := NearestRotation(m)
	if err != nil {
		t.Fatalf("orthonormalization failed: %v", err)
	}
	if det := mat.Det(r); math.Abs(det-1) > 1e-9 {
		t.Errorf("det = %g, want 1", det)
	}
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(rtr.At(i, j)-want) > 1e-9 {
				t.Errorf("RtR(%d,%d) = %f, want %f", i, j, rtr.At(i, j), want)
			}
		}
	}
}

func TestSmallestSingularVector(t *testing.T) {
	// rows all orthogonal to (1, -2, 1)
	a := mat.NewDense(4, 3, []float64{
		1, 1, 1,
		2, 1, 0,
		0, 1, 2,
		3, 2, 1,
	})
	v, sigma, err := SmallestSingularVector(a)
	if err != nil {
		t.Fatalf("svd failed: %v", err)
	}
	if len(sigma) != 3 {
		t.Fatalf("got %d singular values, want 3", len(sigma))
	}
	// normalize expectation
	scale := math.Sqrt(6)
	want := []float64{1 / scale, -2 / scale, 1 / scale}
	if v[0] < 0 {
		for i := range want {
			want[i] = -want[i]
		}
	}
	for i := range want {
		if math.Abs(v[i]-want[i]) > 1e-9 {
			t.Errorf("v[%d] = %f, want %f", i, v[i], want[i])
		}
	}
}

func TestFitLine2DExact(t *testing.T) {
	points := []r2.Point{
		{X: 0, Y: 1}, {X: 1, Y: 3}, {X: 2, Y: 5}, {X: 3, Y: 7},
	}
	line, rms, err := FitLine2D(points)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if rms > 1e-9 {
		t.Errorf("rms = %g on exact collinear points, want ~0", rms)
	}
	// direction parallel to (1, 2), oriented first sample to last
	wantDir := r2.Point{X: 1 / math.Sqrt(5), Y: 2 / math.Sqrt(5)}
	if math.Abs(line.Direction.X-wantDir.X) > 1e-9 || math.Abs(line.Direction.Y-wantDir.Y) > 1e-9 {
		t.Errorf("direction = %+v, want %+v", line.Direction, wantDir)
	}
	if d := line.PerpDistance(r2.Point{X: 5, Y: 11}); d > 1e-9 {
		t.Errorf("on-line point has perpendicular distance %g", d)
	}
}

func TestFitLine2DDegenerate(t *testing.T) {
	points := []r2.Point{{X: 2, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 2}}
	if _, _, err := FitLine2D(points); err == nil {
		t.Error("expected an error for coincident points")
	}
}

func TestIntersectLinesPerpendicular(t *testing.T) {
	a := Line2D{Origin: r2.Point{X: 0, Y: 5}, Direction: r2.Point{X: 1, Y: 0}}
	b := Line2D{Origin: r2.Point{X: 3, Y: 0}, Direction: r2.Point{X: 0, Y: 1}}
	p, det := IntersectLines(a, b)
	if math.Abs(p.X-3) > 1e-12 || math.Abs(p.Y-5) > 1e-12 {
		t.Errorf("intersection = %+v, want (3, 5)", p)
	}
	if math.Abs(math.Abs(det)-1) > 1e-12 {
		t.Errorf("|det| = %f for perpendicular lines, want 1", math.Abs(det))
	}
}

func TestIntersectLinesParallel(t *testing.T) {
	a := Line2D{Origin: r2.Point{X: 0, Y: 0}, Direction: r2.Point{X: 1, Y: 1}.Normalize()}
	b := Line2D{Origin: r2.Point{X: 0, Y: 2}, Direction: r2.Point{X: 1, Y: 1}.Normalize()}
	_, det := IntersectLines(a, b)
	if math.Abs(det) > 1e-12 {
		t.Errorf("|det| = %g for parallel lines, want 0", math.Abs(det))
	}
}
