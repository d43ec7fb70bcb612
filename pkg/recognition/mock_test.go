package recognition

import (
	"context"

	"github.com/Kagami/go-face"
)

type MockFaceEngine struct {
	RecognizeFunc    func(data []byte) ([]face.Face, error)
	RecognizeCNNFunc func(data []byte) ([]face.Face, error)
	CloseFunc        func()
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) RecognizeCNN(data []byte) ([]face.Face, error) {
	if m.RecognizeCNNFunc != nil {
		return m.RecognizeCNNFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

type MockFaceCapability struct {
	DetectFacesFunc func(ctx context.Context, data []byte) ([]Face, error)
	calls           int
}

func (m *MockFaceCapability) DetectFaces(ctx context.Context, data []byte) ([]Face, error) {
	m.calls++
	if m.DetectFacesFunc != nil {
		return m.DetectFacesFunc(ctx, data)
	}
	return nil, ErrNoFaceDetected
}

func testFace(size int, d0 float32) Face {
	return Face{
		BoundingBox: Rectangle{X: 10, Y: 10, Width: size, Height: size},
		Confidence:  1.0,
		Descriptor:  Descriptor{d0},
	}
}

func loadedRecognizer(engine FaceEngine, detector string) *DlibRecognizer {
	r := NewRecognizer(detector)
	r.factory = func(path string) (FaceEngine, error) {
		return engine, nil
	}
	_ = r.LoadModels("dummy")
	return r
}
