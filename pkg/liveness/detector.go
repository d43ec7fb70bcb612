// Package liveness implements blink-based liveness detection on top of the
// eye aspect ratio of facial landmarks.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrCodeEU/facelocker/pkg/camera"
	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/logging"
)

// ErrNoFace is returned when a frame contains no usable face.
var ErrNoFace = errors.New("no face")

// LandmarkFinder locates the face in a frame and returns its 68-point
// landmarks. It returns ErrNoFace when nothing is found.
type LandmarkFinder interface {
	FindLandmarks(ctx context.Context, frame camera.Frame) ([]Point, error)
}

// FrameSource supplies frames for calibration.
type FrameSource interface {
	CurrentFrame(ctx context.Context) (camera.Frame, error)
}

// Options tunes the blink detector.
type Options struct {
	DefaultThreshold    float64
	ThresholdFloor      float64
	CalibrationOffset   float64
	HistorySize         int
	MinSamples          int
	CalibrationInterval time.Duration
}

// DefaultOptions returns the stock detector tuning.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Liveness)
}

// OptionsFromConfig maps the liveness config section onto detector options.
func OptionsFromConfig(cfg config.LivenessConfig) Options {
	return Options{
		DefaultThreshold:    cfg.DefaultThreshold,
		ThresholdFloor:      cfg.ThresholdFloor,
		CalibrationOffset:   cfg.CalibrationOffset,
		HistorySize:         cfg.HistorySize,
		MinSamples:          cfg.MinSamples,
		CalibrationInterval: cfg.CalibrationInterval,
	}
}

// State is the detector's per-session working state.
type State struct {
	History    []float64
	Threshold  float64
	Calibrated bool
}

// Observation is the result of feeding one frame to the detector.
type Observation struct {
	BlinkDetected bool
	EAR           float64
	Err           error
}

// Detector recognizes a blink as a dip of the newest EAR sample below the
// threshold once enough samples have been collected. A Detector belongs to
// one session and is not safe for concurrent use.
type Detector struct {
	finder LandmarkFinder
	opts   Options
	state  State
	log    *logging.Entry
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDetector creates a detector with an empty history and the default
// threshold.
func NewDetector(finder LandmarkFinder, opts Options) *Detector {
	d := &Detector{
		finder: finder,
		opts:   opts,
		log:    logging.Component("liveness"),
		sleep:  sleepContext,
	}
	d.Reset()
	return d
}

// Reset clears the history and restores the default threshold.
func (d *Detector) Reset() {
	d.state = State{
		History:   make([]float64, 0, d.opts.HistorySize),
		Threshold: d.opts.DefaultThreshold,
	}
}

// State returns a copy of the current state.
func (d *Detector) State() State {
	s := d.state
	s.History = append([]float64(nil), d.state.History...)
	return s
}

// Threshold returns the active blink threshold.
func (d *Detector) Threshold() float64 {
	return d.state.Threshold
}

// Calibrate samples n frames and derives the threshold from the average
// open-eye EAR. Frames without a usable face are skipped. With no valid
// samples the default threshold is kept. Only context cancellation is
// returned as an error.
func (d *Detector) Calibrate(ctx context.Context, src FrameSource, n int) (float64, error) {
	var sum float64
	valid := 0

	for i := 0; i < n; i++ {
		if i > 0 {
			if err := d.sleep(ctx, d.opts.CalibrationInterval); err != nil {
				return d.state.Threshold, err
			}
		}

		ear, err := d.sample(ctx, src)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return d.state.Threshold, ctxErr
			}
			d.log.WithError(err).Debugf("Skipping calibration frame %d", i+1)
			continue
		}
		sum += ear
		valid++
	}

	if valid == 0 {
		d.state.Threshold = d.opts.DefaultThreshold
		d.state.Calibrated = false
		d.log.Warn("No valid calibration samples, keeping default blink threshold")
		return d.state.Threshold, nil
	}

	avg := sum / float64(valid)
	d.state.Threshold = math.Max(d.opts.ThresholdFloor, avg-d.opts.CalibrationOffset)
	d.state.Calibrated = true

	d.log.WithFields(logging.Fields{
		"samples":   valid,
		"avg_ear":   fmt.Sprintf("%.3f", avg),
		"threshold": fmt.Sprintf("%.3f", d.state.Threshold),
	}).Info("Blink threshold calibrated")

	return d.state.Threshold, nil
}

func (d *Detector) sample(ctx context.Context, src FrameSource) (float64, error) {
	frame, err := src.CurrentFrame(ctx)
	if err != nil {
		return 0, err
	}
	landmarks, err := d.finder.FindLandmarks(ctx, frame)
	if err != nil {
		return 0, err
	}
	return FrameEAR(landmarks)
}

// Observe feeds one frame to the detector. Frames without a face or with
// unusable landmarks leave the history untouched.
func (d *Detector) Observe(ctx context.Context, frame camera.Frame) Observation {
	landmarks, err := d.finder.FindLandmarks(ctx, frame)
	if err != nil {
		return Observation{Err: err}
	}

	ear, err := FrameEAR(landmarks)
	if err != nil {
		return Observation{Err: err}
	}

	d.state.History = append(d.state.History, ear)
	if over := len(d.state.History) - d.opts.HistorySize; over > 0 {
		d.state.History = append(d.state.History[:0], d.state.History[over:]...)
	}

	if len(d.state.History) >= d.opts.MinSamples && ear < d.state.Threshold {
		d.log.WithField("ear", fmt.Sprintf("%.3f", ear)).Debug("Blink detected")
		d.state.History = d.state.History[:0]
		return Observation{BlinkDetected: true, EAR: ear}
	}

	return Observation{EAR: ear}
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
