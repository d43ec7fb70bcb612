// Package recognition provides face detection and descriptor extraction.
// It uses dlib through go-face for detection, landmarks and 128-d descriptors.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facelocker/pkg/logging"
)

// Face represents a detected face in an image.
type Face struct {
	BoundingBox Rectangle
	Landmarks   []Point
	Confidence  float64
	Descriptor  Descriptor
}

// Area returns the bounding box area in pixels.
func (f Face) Area() int {
	return f.BoundingBox.Width * f.BoundingBox.Height
}

// Rectangle represents a bounding box.
type Rectangle struct {
	X, Y          int
	Width, Height int
}

// Point represents a 2D point.
type Point struct {
	X, Y int
}

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Embedding is an identity signature extracted from one image.
type Embedding struct {
	Vector  Descriptor `json:"vector"`
	Quality float64    `json:"quality"`
}

// FaceCapability detects faces and computes their descriptors in one pass.
type FaceCapability interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]Face, error)
}

// FaceEngine is the subset of go-face used by DlibRecognizer.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeCNN(imgData []byte) ([]face.Face, error)
	Close()
}

// Detector names accepted by NewRecognizer.
const (
	DetectorHOG = "hog"
	DetectorCNN = "cnn"
)

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrFaceTooSmall is returned when the detected face is below the size gate.
var ErrFaceTooSmall = errors.New("face too small")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// DlibRecognizer implements FaceCapability using dlib via go-face. Once
// loaded it is shared read-only across sessions.
type DlibRecognizer struct {
	engine    FaceEngine
	modelPath string
	detector  string
	loaded    bool
	mu        sync.RWMutex
	factory   func(path string) (FaceEngine, error)
}

// NewRecognizer creates a new DlibRecognizer using the given detector
// ("hog" or "cnn").
func NewRecognizer(detector string) *DlibRecognizer {
	if detector != DetectorCNN {
		detector = DetectorHOG
	}
	return &DlibRecognizer{
		detector: detector,
		factory: func(path string) (FaceEngine, error) {
			return face.NewRecognizer(path)
		},
	}
}

// LoadModels loads the dlib models from modelPath. See ModelFiles for the
// expected directory contents.
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	engine, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.engine = engine
	r.modelPath = modelPath
	r.loaded = true

	logging.WithField("detector", r.detector).Info("Face recognition models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibRecognizer) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		r.engine.Close()
		r.engine = nil
	}
	r.loaded = false
	return nil
}

// DetectFaces detects all faces in a JPEG image. The call is not
// interruptible once started.
func (r *DlibRecognizer) DetectFaces(ctx context.Context, imageData []byte) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	var (
		faces []face.Face
		err   error
	)
	if r.detector == DetectorCNN {
		faces, err = r.engine.RecognizeCNN(imageData)
	} else {
		faces, err = r.engine.Recognize(imageData)
	}
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	result := make([]Face, len(faces))
	for i, f := range faces {
		rect := f.Rectangle
		landmarks := make([]Point, len(f.Shapes))
		for j, p := range f.Shapes {
			landmarks[j] = Point{X: p.X, Y: p.Y}
		}
		result[i] = Face{
			BoundingBox: Rectangle{
				X:      rect.Min.X,
				Y:      rect.Min.Y,
				Width:  rect.Dx(),
				Height: rect.Dy(),
			},
			Landmarks:  landmarks,
			Descriptor: f.Descriptor,
			Confidence: 1.0, // go-face doesn't provide confidence, assume high
		}
	}

	logging.Debugf("Detected %d face(s) in image", len(result))
	return result, nil
}

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// largestFace returns the biggest face at or above minScore.
func largestFace(faces []Face, minScore float64) (Face, bool) {
	var (
		best  Face
		found bool
	)
	for _, f := range faces {
		if f.Confidence < minScore {
			continue
		}
		if !found || f.Area() > best.Area() {
			best = f
			found = true
		}
	}
	return best, found
}
