package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrCodeEU/facelocker/pkg/audit"
	"github.com/MrCodeEU/facelocker/pkg/camera"
	"github.com/MrCodeEU/facelocker/pkg/gallery"
	"github.com/MrCodeEU/facelocker/pkg/liveness"
	"github.com/MrCodeEU/facelocker/pkg/logging"
	"github.com/MrCodeEU/facelocker/pkg/notify"
	"github.com/MrCodeEU/facelocker/pkg/recognition"
)

// Outcome is the single completion signal of a session.
type Outcome struct {
	SessionID string
	Identity  string
	Verified  bool
	Reason    Reason
	Phase     Phase
	// Distance is the best match distance, or NaN when no match ran.
	Distance float64
	// Evidence is the frame captured for an Unknown outcome.
	Evidence []byte
	Duration time.Duration
	Err      error
}

// Message returns the user-facing text for the outcome.
func (o Outcome) Message() string {
	return Message(o.Reason)
}

// Session runs one verification at a time for one identity. It owns its
// liveness state and gallery cache.
type Session struct {
	ID       string
	Identity string

	v          *Verifier
	detector   *liveness.Detector
	cache      *gallery.Cache
	onComplete func(Outcome)
	log        *logging.Entry

	mu      sync.Mutex
	phase   Phase
	outcome *Outcome

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Outcome returns the terminal outcome, if the session has one.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

func (s *Session) apply(event Event) error {
	next, err := Next(s.phase, event)
	if err != nil {
		return err
	}
	s.log.Debugf("Phase %s -> %s (%s)", s.phase, next, event)
	s.phase = next
	return nil
}

// Prepare makes the face models available and moves the session to Ready.
// It is a no-op unless the session is Idle. A load failure ends the session
// with ReasonModelLoadError.
func (s *Session) Prepare() error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return nil
	}

	if s.v.capability.IsLoaded() {
		err := s.apply(EventModelsReady)
		s.mu.Unlock()
		return err
	}

	if err := s.apply(EventLoad); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	start := s.now()
	loadErr := s.v.capability.LoadModels(s.v.cfg.Recognition.ModelPath)

	s.mu.Lock()
	if loadErr == nil {
		err := s.apply(EventModelsReady)
		s.mu.Unlock()
		return err
	}
	_ = s.apply(EventLoadFailed)
	s.mu.Unlock()

	verr := NewVerificationError(ReasonModelLoadError, loadErr)
	s.log.WithError(loadErr).Error("Failed to load face recognition models")
	s.finish(context.Background(), Outcome{
		SessionID: s.ID,
		Identity:  s.Identity,
		Reason:    ReasonModelLoadError,
		Phase:     PhaseError,
		Distance:  math.NaN(),
		Duration:  s.now().Sub(start),
		Err:       verr,
	})
	return verr
}

// Start runs one scan and blocks until it reaches a terminal phase or ctx
// is cancelled. An Idle session is prepared first. Start returns
// ErrSessionBusy while another scan is running and ErrNotReady on a
// finished session; the returned error is nil for every scan that ran,
// whatever its outcome.
func (s *Session) Start(ctx context.Context) (Outcome, error) {
	if s.Phase() == PhaseIdle {
		if err := s.Prepare(); err != nil {
			out, _ := s.Outcome()
			return out, nil
		}
	}

	s.mu.Lock()
	switch s.phase {
	case PhaseScanning, PhaseLoading:
		s.mu.Unlock()
		return Outcome{}, ErrSessionBusy
	case PhaseReady:
	default:
		s.mu.Unlock()
		return Outcome{}, ErrNotReady
	}
	if err := s.apply(EventStart); err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	s.mu.Unlock()

	out := s.scan(ctx)
	return out, nil
}

// Reset prepares a finished session for a new attempt. The liveness state
// and gallery cache are discarded. A session whose models failed to load
// goes back to Idle.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseScanning, PhaseLoading:
		return ErrSessionBusy
	case PhaseIdle, PhaseReady:
		return nil
	}

	event := EventReset
	if s.phase == PhaseError && !s.v.capability.IsLoaded() {
		event = EventRestart
	}
	if err := s.apply(event); err != nil {
		return err
	}
	s.detector.Reset()
	s.cache.Clear()
	s.outcome = nil
	return nil
}

// scan runs the Scanning phase. The camera is released before the alert is
// sent and before completion is signalled.
func (s *Session) scan(ctx context.Context) Outcome {
	out := s.capture(ctx)
	if out.Phase == PhaseUnknown {
		s.alert(ctx, out)
	}
	s.finish(ctx, out)
	return out
}

// capture holds the camera for liveness, extraction and matching. The camera
// is closed on every exit path.
func (s *Session) capture(ctx context.Context) Outcome {
	start := s.now()
	cfg := s.v.cfg

	out := Outcome{
		SessionID: s.ID,
		Identity:  s.Identity,
		Distance:  math.NaN(),
	}
	fail := func(reason Reason, err error) Outcome {
		if ctx.Err() != nil {
			reason, err = ReasonCancelled, ctx.Err()
		}
		out.Reason = reason
		out.Err = NewVerificationError(reason, err)
		out.Phase = PhaseError
		out.Duration = s.now().Sub(start)
		return out
	}

	cam := s.v.openCamera()
	defer func() {
		if err := cam.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close camera")
		}
	}()
	if err := cam.Open(ctx); err != nil {
		s.log.WithError(err).Error("Failed to open camera")
		return fail(ReasonCameraUnavailable, err)
	}

	if err := s.sleep(ctx, cfg.Verification.SettleDelay); err != nil {
		return fail(ReasonCancelled, err)
	}

	if cfg.Liveness.Calibrate {
		threshold, err := s.detector.Calibrate(ctx, cam, cfg.Liveness.CalibrationFrames)
		if err != nil {
			return fail(ReasonCancelled, err)
		}
		s.log.Debugf("Blink threshold %.3f", threshold)
	}

	s.log.Info("Please blink")
	frame, reason, err := s.awaitBlink(ctx, cam)
	if err != nil {
		return fail(reason, err)
	}

	// The first extraction attempt uses the blink frame, retries pull new ones.
	pending := &frame
	next := func(ctx context.Context) ([]byte, error) {
		if pending != nil {
			data := pending.Data
			pending = nil
			return data, nil
		}
		f, err := cam.CurrentFrame(ctx)
		if err != nil {
			return nil, err
		}
		frame = f
		return f.Data, nil
	}

	_, live, err := s.v.extractor.Extract(ctx, next, recognition.LiveOptions(cfg.Recognition))
	if err != nil {
		s.log.WithError(err).Warn("Face extraction failed")
		if errors.Is(err, recognition.ErrModelNotLoaded) {
			return fail(ReasonModelLoadError, err)
		}
		return fail(ReasonNoFaceDetected, err)
	}

	g, err := s.cache.Get(ctx, s.Identity)
	if err != nil {
		s.log.WithError(err).Warn("Failed to load gallery")
		return fail(ReasonInsufficientEnrollment, err)
	}

	result := g.Match(live, cfg.Recognition.DistanceThreshold)
	out.Distance = result.Distance
	s.log.WithField("distance", fmt.Sprintf("%.4f", result.Distance)).Infof("Match result: %s", result)

	if ctx.Err() != nil {
		return fail(ReasonCancelled, ctx.Err())
	}

	if result.Verified {
		out.Verified = true
		out.Reason = ReasonVerified
		out.Phase = PhaseVerified
		out.Duration = s.now().Sub(start)
		return out
	}

	evidence, err := cam.CurrentFrame(ctx)
	if err != nil || evidence.Empty() {
		s.log.WithError(err).Warn("Evidence capture failed, using the last matched frame")
		evidence = frame
	}
	out.Evidence = evidence.Data
	out.Reason = ReasonUnknownFace
	out.Phase = PhaseUnknown
	out.Duration = s.now().Sub(start)
	s.log.WithField("distance", result.Distance).Warn("SECURITY: Unknown face presented")
	return out
}

// awaitBlink polls frames until the detector reports a blink or the liveness
// window closes. Any observation error ends the scan.
func (s *Session) awaitBlink(ctx context.Context, cam camera.Source) (camera.Frame, Reason, error) {
	cfg := s.v.cfg.Liveness
	deadline := s.now().Add(cfg.Window)

	for {
		if !s.now().Before(deadline) {
			s.log.WithField("window", cfg.Window).Warn("SECURITY: No blink detected, possible spoofing attempt")
			return camera.Frame{}, ReasonSpoofingSuspected,
				fmt.Errorf("no blink within %s", cfg.Window)
		}

		frame, err := cam.CurrentFrame(ctx)
		if err != nil {
			return camera.Frame{}, ReasonCameraUnavailable, err
		}

		obs := s.detector.Observe(ctx, frame)
		switch {
		case obs.Err == nil && obs.BlinkDetected:
			s.log.WithField("ear", fmt.Sprintf("%.3f", obs.EAR)).Info("Blink detected")
			return frame, "", nil
		case obs.Err == nil:
		case errors.Is(obs.Err, liveness.ErrNoFace):
			return camera.Frame{}, ReasonNoFaceDetected, obs.Err
		case errors.Is(obs.Err, liveness.ErrDegenerateGeometry), errors.Is(obs.Err, liveness.ErrTooFewLandmarks):
			return camera.Frame{}, ReasonDegenerateGeometry, obs.Err
		case errors.Is(obs.Err, recognition.ErrModelNotLoaded):
			return camera.Frame{}, ReasonModelLoadError, obs.Err
		default:
			return camera.Frame{}, ReasonNoFaceDetected, obs.Err
		}

		if err := s.sleep(ctx, cfg.PollInterval); err != nil {
			return camera.Frame{}, ReasonCancelled, err
		}
	}
}

// alert dispatches the unknown-face alert. Failures are logged only.
func (s *Session) alert(ctx context.Context, out Outcome) {
	if len(out.Evidence) == 0 {
		s.log.Warn("No evidence frame, skipping alert")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.v.cfg.Verification.NotifyTimeout)
	defer cancel()

	contact := ""
	if s.v.contacts != nil {
		profile, err := s.v.contacts.LoadProfile(ctx, s.Identity)
		if err != nil {
			s.log.WithError(err).Warn("Failed to load contact for alert")
		} else {
			contact = profile.Contact
		}
	}
	if contact == "" {
		s.log.Warn("No contact on file, skipping alert")
		return
	}

	alert := notify.NewAlert(s.ID, s.Identity, contact, out.Distance, out.Evidence)
	if err := s.v.dispatcher.NotifyUnauthorized(ctx, alert); err != nil {
		s.log.WithError(err).Error("Failed to dispatch unauthorized access alert")
		return
	}
	s.log.WithField("alert_id", alert.ID).Info("Unauthorized access alert dispatched")
}

// finish moves the session to its terminal phase, records the attempt and
// signals completion.
func (s *Session) finish(ctx context.Context, out Outcome) {
	s.mu.Lock()
	if s.phase == PhaseScanning {
		event := EventFailed
		switch out.Phase {
		case PhaseVerified:
			event = EventMatched
		case PhaseUnknown:
			event = EventNotMatched
		}
		if err := s.apply(event); err != nil {
			s.log.WithError(err).Error("Unexpected phase transition")
		}
	}
	out.Phase = s.phase
	stored := out
	s.outcome = &stored
	s.mu.Unlock()

	s.record(ctx, out)

	entry := s.log.WithFields(logging.Fields{
		"verified": out.Verified,
		"reason":   out.Reason,
		"duration": out.Duration,
	})
	if out.Verified {
		entry.Info("Verification successful")
	} else {
		entry.Info("Verification failed")
	}

	if s.onComplete != nil {
		s.onComplete(out)
	}
}

func (s *Session) record(ctx context.Context, out Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.v.cfg.Verification.NotifyTimeout)
	defer cancel()

	a := audit.NewAttempt(s.ID, s.Identity, out.Phase.String(), string(out.Reason))
	if !math.IsNaN(out.Distance) {
		a.Distance = out.Distance
	}
	if out.Phase == PhaseUnknown {
		a.Evidence = out.Evidence
	}
	if err := s.v.recorder.Record(ctx, a); err != nil {
		s.log.WithError(err).Warn("Failed to record attempt")
	}
}
