package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/logging"
)

// Options are the quality gates and retry budget of one extraction.
type Options struct {
	MinScore      float64
	MinFaceSize   int
	Attempts      int
	RetryInterval time.Duration
}

// LiveOptions returns the gates used for frames captured during verification.
func LiveOptions(cfg config.RecognitionConfig) Options {
	return Options{
		MinScore:      cfg.LiveMinScore,
		MinFaceSize:   cfg.MinFaceSize,
		Attempts:      cfg.ExtractAttempts,
		RetryInterval: cfg.RetryInterval,
	}
}

// EnrollOptions returns the stricter gates used for stored enrollment
// images. A stored image never changes, so it gets a single attempt.
// go-face reports no detection score, so the larger face size is the gate
// that actually tightens enrollment.
func EnrollOptions(cfg config.RecognitionConfig) Options {
	return Options{
		MinScore:    cfg.EnrollMinScore,
		MinFaceSize: cfg.EnrollMinFaceSize,
		Attempts:    1,
	}
}

// ImageFunc supplies the image for one extraction attempt.
type ImageFunc func(ctx context.Context) ([]byte, error)

// StaticImage returns an ImageFunc that always yields data.
func StaticImage(data []byte) ImageFunc {
	return func(ctx context.Context) ([]byte, error) {
		return data, nil
	}
}

// Extractor turns images into embeddings, retrying transient detection
// misses. It holds no per-call state.
type Extractor struct {
	capability FaceCapability
	log        *logging.Entry
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewExtractor creates an extractor on top of a face capability.
func NewExtractor(capability FaceCapability) *Extractor {
	return &Extractor{
		capability: capability,
		log:        logging.Component("extractor"),
		sleep:      sleepContext,
	}
}

// Extract runs up to opts.Attempts detections, pulling a fresh image from
// next for each one. A missing face or one smaller than opts.MinFaceSize
// fails the attempt. When attempts run out the error wraps
// ErrNoFaceDetected.
func (e *Extractor) Extract(ctx context.Context, next ImageFunc, opts Options) (Face, Embedding, error) {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, opts.RetryInterval); err != nil {
				return Face{}, Embedding{}, err
			}
		}

		f, err := e.attempt(ctx, next, opts)
		if err == nil {
			return f, Embedding{Vector: f.Descriptor, Quality: f.Confidence}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Face{}, Embedding{}, ctxErr
		}
		if errors.Is(err, ErrModelNotLoaded) {
			return Face{}, Embedding{}, err
		}

		lastErr = err
		e.log.WithFields(logging.Fields{
			"attempt": attempt,
			"of":      attempts,
		}).WithError(err).Debug("Extraction attempt failed")
	}

	if errors.Is(lastErr, ErrNoFaceDetected) {
		return Face{}, Embedding{}, fmt.Errorf("%w after %d attempts", ErrNoFaceDetected, attempts)
	}
	return Face{}, Embedding{}, fmt.Errorf("%w after %d attempts: %v", ErrNoFaceDetected, attempts, lastErr)
}

func (e *Extractor) attempt(ctx context.Context, next ImageFunc, opts Options) (Face, error) {
	data, err := next(ctx)
	if err != nil {
		return Face{}, err
	}

	faces, err := e.capability.DetectFaces(ctx, data)
	if err != nil {
		return Face{}, err
	}

	f, ok := largestFace(faces, opts.MinScore)
	if !ok {
		return Face{}, ErrNoFaceDetected
	}

	if f.BoundingBox.Width < opts.MinFaceSize || f.BoundingBox.Height < opts.MinFaceSize {
		return Face{}, fmt.Errorf("%w: %dx%d below %dpx", ErrFaceTooSmall,
			f.BoundingBox.Width, f.BoundingBox.Height, opts.MinFaceSize)
	}

	return f, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
