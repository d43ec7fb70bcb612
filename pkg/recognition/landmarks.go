package recognition

import (
	"context"
	"errors"

	"github.com/MrCodeEU/facelocker/pkg/camera"
	"github.com/MrCodeEU/facelocker/pkg/liveness"
)

// LandmarkFinder feeds the liveness detector with the landmarks of the
// largest face in a frame.
type LandmarkFinder struct {
	capability FaceCapability
	minScore   float64
}

// NewLandmarkFinder creates a landmark finder that ignores faces below
// minScore.
func NewLandmarkFinder(capability FaceCapability, minScore float64) *LandmarkFinder {
	return &LandmarkFinder{capability: capability, minScore: minScore}
}

// FindLandmarks implements liveness.LandmarkFinder.
func (l *LandmarkFinder) FindLandmarks(ctx context.Context, frame camera.Frame) ([]liveness.Point, error) {
	if frame.Empty() {
		return nil, liveness.ErrNoFace
	}

	faces, err := l.capability.DetectFaces(ctx, frame.Data)
	if err != nil {
		if errors.Is(err, ErrNoFaceDetected) {
			return nil, liveness.ErrNoFace
		}
		return nil, err
	}

	f, ok := largestFace(faces, l.minScore)
	if !ok {
		return nil, liveness.ErrNoFace
	}

	points := make([]liveness.Point, len(f.Landmarks))
	for i, p := range f.Landmarks {
		points[i] = liveness.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return points, nil
}
