package liveness

import (
	"context"
	"time"

	"github.com/MrCodeEU/facelocker/pkg/camera"
)

// MockLandmarkFinder is a mock implementation of LandmarkFinder.
type MockLandmarkFinder struct {
	FindLandmarksFunc func(ctx context.Context, frame camera.Frame) ([]Point, error)
}

func (m *MockLandmarkFinder) FindLandmarks(ctx context.Context, frame camera.Frame) ([]Point, error) {
	if m.FindLandmarksFunc != nil {
		return m.FindLandmarksFunc(ctx, frame)
	}
	return nil, ErrNoFace
}

// scriptedFinder replays EAR values in order. A negative value stands for a
// frame without a face.
func scriptedFinder(ears ...float64) *MockLandmarkFinder {
	i := 0
	return &MockLandmarkFinder{
		FindLandmarksFunc: func(ctx context.Context, frame camera.Frame) ([]Point, error) {
			if i >= len(ears) {
				return nil, ErrNoFace
			}
			ear := ears[i]
			i++
			if ear < 0 {
				return nil, ErrNoFace
			}
			return faceWithEAR(ear), nil
		},
	}
}

// MockFrameSource is a mock implementation of FrameSource.
type MockFrameSource struct {
	CurrentFrameFunc func(ctx context.Context) (camera.Frame, error)
	calls            int
}

func (m *MockFrameSource) CurrentFrame(ctx context.Context) (camera.Frame, error) {
	m.calls++
	if m.CurrentFrameFunc != nil {
		return m.CurrentFrameFunc(ctx)
	}
	return camera.Frame{Data: []byte{0xFF, 0xD8}}, nil
}

// eyeWithEAR builds a 30px wide eye contour whose EAR equals ear.
func eyeWithEAR(x0, y0, ear float64) []Point {
	h := 15 * ear
	return []Point{
		{x0, y0},
		{x0 + 10, y0 - h},
		{x0 + 20, y0 - h},
		{x0 + 30, y0},
		{x0 + 20, y0 + h},
		{x0 + 10, y0 + h},
	}
}

// faceWithEAR builds a 68-point landmark set with both eyes at ear.
func faceWithEAR(ear float64) []Point {
	pts := make([]Point, 68)
	for i := range pts {
		pts[i] = Point{X: float64(i), Y: 200}
	}
	copy(pts[leftEyeStart:], eyeWithEAR(100, 100, ear))
	copy(pts[rightEyeStart:], eyeWithEAR(170, 100, ear))
	return pts
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}
