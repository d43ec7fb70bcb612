package liveness

import (
	"errors"
	"fmt"
	"math"
)

// Point represents a 2D landmark position.
type Point struct {
	X, Y float64
}

// 68-point landmark layout: each eye contour is six consecutive points
// starting at the outer corner.
const (
	leftEyeStart  = 36
	rightEyeStart = 42
	eyePoints     = 6

	// MinLandmarks is the number of points needed to cover both eyes.
	MinLandmarks = rightEyeStart + eyePoints

	degenerateEpsilon = 1e-6
)

// ErrDegenerateGeometry is returned when an eye contour has no usable width.
var ErrDegenerateGeometry = errors.New("degenerate eye geometry")

// ErrTooFewLandmarks is returned when a landmark set does not cover both eyes.
var ErrTooFewLandmarks = errors.New("landmark set does not cover both eyes")

// ComputeEAR returns the eye aspect ratio of a six-point eye contour:
// (|p1-p5| + |p2-p4|) / (2 * |p0-p3|).
func ComputeEAR(eye []Point) (float64, error) {
	if len(eye) != eyePoints {
		return 0, fmt.Errorf("eye contour needs %d points, got %d", eyePoints, len(eye))
	}

	a := distance(eye[1], eye[5])
	b := distance(eye[2], eye[4])
	c := distance(eye[0], eye[3])

	if c < degenerateEpsilon || math.IsNaN(c) {
		return 0, ErrDegenerateGeometry
	}

	return (a + b) / (2 * c), nil
}

// FrameEAR averages the EAR of both eyes in a 68-point landmark set.
func FrameEAR(landmarks []Point) (float64, error) {
	if len(landmarks) < MinLandmarks {
		return 0, fmt.Errorf("%w: got %d points", ErrTooFewLandmarks, len(landmarks))
	}

	left, err := ComputeEAR(landmarks[leftEyeStart : leftEyeStart+eyePoints])
	if err != nil {
		return 0, fmt.Errorf("left eye: %w", err)
	}
	right, err := ComputeEAR(landmarks[rightEyeStart : rightEyeStart+eyePoints])
	if err != nil {
		return 0, fmt.Errorf("right eye: %w", err)
	}

	return (left + right) / 2, nil
}

func distance(p, q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}
