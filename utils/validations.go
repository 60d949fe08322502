package utils

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// ReportLabelQuality checks quality of a labeled world-point cloud
func ReportLabelQuality(points []r3.Vector) {
	n := len(points)
	if n < 6 {
		fmt.Println("⚠️  Warning: Less than 6 labeled points (minimum required)")
		return
	}

	// Compute centroid
	var cx, cy, cz float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
		cz += p.Z
	}
	cx /= float64(n)
	cy /= float64(n)
	cz /= float64(n)

	// Compute standard deviations
	var stdX, stdY, stdZ float64
	for _, p := range points {
		stdX += (p.X - cx) * (p.X - cx)
		stdY += (p.Y - cy) * (p.Y - cy)
		stdZ += (p.Z - cz) * (p.Z - cz)
	}
	stdX = math.Sqrt(stdX / float64(n))
	stdY = math.Sqrt(stdY / float64(n))
	stdZ = math.Sqrt(stdZ / float64(n))

	fmt.Printf("Label Quality:\n")
	fmt.Printf("  Points: %d\n", n)
	fmt.Printf("  Spread: X=%.3f, Y=%.3f, Z=%.3f\n", stdX, stdY, stdZ)

	// A thin cloud along its smallest axis drifts toward a coplanar configuration
	eig, _, err := CovarianceEigenvalues3(points)
	if err == nil && eig[2] > 0 {
		fmt.Printf("  Planarity ratio: %.2e\n", eig[0]/eig[2])
		if eig[0]/eig[2] < 1e-4 {
			fmt.Println("  ⚠️  Points are nearly coplanar - add labels off the dominant plane")
		}
	}

	if stdX < 0.1 || stdY < 0.1 || stdZ < 0.1 {
		fmt.Println("  ⚠️  Low spatial spread - points too clustered")
	}
}
