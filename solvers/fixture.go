package solvers

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Fixture is a self-contained survey scene: labeled correspondences plus the camera
// that produced them, for regression runs against recorded data.
type Fixture struct {
	Name            string               `json:"name"`
	ImageWidth      float64              `json:"imageWidth"`
	ImageHeight     float64              `json:"imageHeight"`
	Correspondences []FixtureObservation `json:"correspondences"`
	Expected        *FixtureExpected     `json:"expected,omitempty"`
}

type FixtureObservation struct {
	ID    string     `json:"id"`
	Pixel [2]float64 `json:"pixel"`
	World [3]float64 `json:"world"`
}

type FixtureExpected struct {
	Rotation       [3][3]float64 `json:"rotation"`
	Translation    [3]float64    `json:"translation"`
	FocalLength    float64       `json:"focalLength"`
	RMSTolerancePx float64       `json:"rmsTolerancePx"`
}

// LoadFixture reads a scene description from a JSON file.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	if len(f.Correspondences) == 0 {
		return nil, fmt.Errorf("fixture %s has no correspondences", path)
	}
	return &f, nil
}

// Set converts the fixture's observations into a correspondence set in file order.
func (f *Fixture) Set() CorrespondenceSet {
	set := make(CorrespondenceSet, len(f.Correspondences))
	for i, obs := range f.Correspondences {
		set[i] = Correspondence{
			Pixel: r2.Point{X: obs.Pixel[0], Y: obs.Pixel[1]},
			World: WorldPoint{
				ID:       obs.ID,
				Position: r3.Vector{X: obs.World[0], Y: obs.World[1], Z: obs.World[2]},
			},
		}
	}
	return set
}

// PrincipalPoint is the image center the fixture's pixels were recorded against.
func (f *Fixture) PrincipalPoint() r2.Point {
	return r2.Point{X: f.ImageWidth / 2, Y: f.ImageHeight / 2}
}
