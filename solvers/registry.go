package solvers

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"

	"github.com/rubyswolf/MCV/utils"
)

// WorldPoint is a surveyed 3D coordinate. Identity is the survey-assigned ID; the
// position never changes once recorded.
type WorldPoint struct {
	ID       string
	Position r3.Vector
}

// Correspondence binds one labeled pixel to exactly one WorldPoint within a single
// image context.
type Correspondence struct {
	Pixel r2.Point
	World WorldPoint
}

// CorrespondenceSet is the ordered set of labels for one image.
type CorrespondenceSet []Correspondence

// MinCorrespondences is the minimum pair count to solve for pose plus an unknown
// focal length. Four would suffice with a known focal length, which this solver does
// not support.
const MinCorrespondences = 6

// Eigenvalue-ratio tolerances for the degeneracy pre-check. Both are relative to the
// largest eigenvalue of the respective covariance, so the check is scale invariant.
const (
	coplanarTol  = 1e-8
	collinearTol = 1e-8
)

// Registry owns the pixel/world label set for one labeling session. It is a
// single-writer resource: the caller serializes mutations (the service wraps it in a
// mutex). Every mutation bumps the revision so in-flight solves against a stale set
// can be discarded.
type Registry struct {
	logger   logging.Logger
	nextID   int
	order    []int
	labels   map[int]Correspondence
	worldIDs map[string]int
	revision uint64
}

func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		logger:   logger,
		labels:   map[int]Correspondence{},
		worldIDs: map[string]int{},
	}
}

// Add records a new pixel/world pair and returns its label id. A WorldPoint ID may
// appear at most once per set.
func (r *Registry) Add(pixel r2.Point, world WorldPoint) (int, error) {
	if world.ID == "" {
		return 0, fmt.Errorf("world point id is required")
	}
	if existing, ok := r.worldIDs[world.ID]; ok {
		return 0, fmt.Errorf("world point %q is already labeled (label %d)", world.ID, existing)
	}
	id := r.nextID
	r.nextID++
	r.labels[id] = Correspondence{Pixel: pixel, World: world}
	r.worldIDs[world.ID] = id
	r.order = append(r.order, id)
	r.revision++
	r.logger.Debugf("label %d: pixel (%.1f, %.1f) -> world %q", id, pixel.X, pixel.Y, world.ID)
	return id, nil
}

// Remove deletes a label by id.
func (r *Registry) Remove(id int) error {
	c, ok := r.labels[id]
	if !ok {
		return fmt.Errorf("no label with id %d", id)
	}
	delete(r.labels, id)
	delete(r.worldIDs, c.World.ID)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.revision++
	return nil
}

// Clear removes all labels.
func (r *Registry) Clear() {
	r.labels = map[int]Correspondence{}
	r.worldIDs = map[string]int{}
	r.order = nil
	r.revision++
}

// List returns the labels in insertion order. The returned slice is a copy.
func (r *Registry) List() CorrespondenceSet {
	set := make(CorrespondenceSet, 0, len(r.order))
	for _, id := range r.order {
		set = append(set, r.labels[id])
	}
	return set
}

func (r *Registry) Len() int { return len(r.order) }

// Revision increments on every mutation. A solve captures the revision of the set it
// consumed; a result whose revision no longer matches must be discarded, never merged.
func (r *Registry) Revision() uint64 { return r.revision }

// Validate checks the current set without invoking the solver.
func (r *Registry) Validate() error {
	return ValidateSet(r.List())
}

// ValidateSet checks count and geometric degeneracy of a correspondence set. The PnP
// system is rank-deficient exactly when the world points are (near-)coplanar and
// their pixel projections are (near-)collinear, so both conditions must hold for a
// DEGENERATE_CONFIGURATION. This runs before the solver so degeneracy is reported
// deterministically rather than surfacing as a numerical accident.
func ValidateSet(set CorrespondenceSet) error {
	if len(set) < MinCorrespondences {
		return newSolveError(CodeInsufficientPoints,
			"need at least %d correspondences to solve for pose and focal length, have %d",
			MinCorrespondences, len(set))
	}

	worldPts := make([]r3.Vector, len(set))
	pixels := make([]r2.Point, len(set))
	for i, c := range set {
		worldPts[i] = c.World.Position
		pixels[i] = c.Pixel
	}

	eig3, _, err := utils.CovarianceEigenvalues3(worldPts)
	if err != nil {
		return fmt.Errorf("world covariance: %w", err)
	}
	eig2, _, err := utils.CovarianceEigenvalues2(pixels)
	if err != nil {
		return fmt.Errorf("pixel covariance: %w", err)
	}

	// A cloud with no spread at all is degenerate regardless of ratios
	if eig3[2] < 1e-20 || eig2[1] < 1e-20 {
		return newSolveError(CodeDegenerateConfiguration,
			"labeled points have no spatial spread")
	}

	coplanar := eig3[0]/eig3[2] < coplanarTol
	collinear := eig2[0]/eig2[1] < collinearTol
	if coplanar && collinear {
		return newSolveError(CodeDegenerateConfiguration,
			"world points are coplanar and their projections are collinear; add labels off the dominant plane")
	}
	return nil
}
