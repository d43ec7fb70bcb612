// Package verify sequences liveness, extraction and gallery matching into a
// verification session with an explicit state machine.
package verify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrCodeEU/facelocker/pkg/audit"
	"github.com/MrCodeEU/facelocker/pkg/camera"
	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/gallery"
	"github.com/MrCodeEU/facelocker/pkg/liveness"
	"github.com/MrCodeEU/facelocker/pkg/logging"
	"github.com/MrCodeEU/facelocker/pkg/notify"
	"github.com/MrCodeEU/facelocker/pkg/recognition"
)

// Capability is the loaded face model shared by every session.
type Capability interface {
	recognition.FaceCapability
	LoadModels(modelPath string) error
	IsLoaded() bool
}

// ContactDirectory resolves who is alerted for an identity.
type ContactDirectory interface {
	LoadProfile(ctx context.Context, identity string) (*gallery.Profile, error)
}

// Deps are the collaborators of a Verifier. Camera is called once per scan
// and the returned source is owned by that scan. Contacts, Dispatcher and
// Recorder are optional.
type Deps struct {
	Capability Capability
	Camera     func() camera.Source
	Storage    gallery.Storage
	Contacts   ContactDirectory
	Dispatcher notify.Dispatcher
	Recorder   audit.Recorder
}

// Verifier holds what sessions share: configuration, the face capability and
// the side-effect collaborators.
type Verifier struct {
	cfg        *config.Config
	capability Capability
	openCamera func() camera.Source
	loader     *gallery.Loader
	extractor  *recognition.Extractor
	contacts   ContactDirectory
	dispatcher notify.Dispatcher
	recorder   audit.Recorder
}

// NewVerifier creates a verifier.
func NewVerifier(cfg *config.Config, deps Deps) *Verifier {
	extractor := recognition.NewExtractor(deps.Capability)

	v := &Verifier{
		cfg:        cfg,
		capability: deps.Capability,
		openCamera: deps.Camera,
		extractor:  extractor,
		loader: gallery.NewLoader(deps.Storage, extractor,
			recognition.EnrollOptions(cfg.Recognition), cfg.Gallery.MaxImages, cfg.Gallery.Quorum),
		contacts:   deps.Contacts,
		dispatcher: deps.Dispatcher,
		recorder:   deps.Recorder,
	}
	if v.dispatcher == nil {
		v.dispatcher = notify.Discard{}
	}
	if v.recorder == nil {
		v.recorder = audit.Discard{}
	}
	return v
}

// NewSession creates a session for identity in the Idle phase. onComplete,
// if set, is called once per terminal outcome.
func (v *Verifier) NewSession(identity string, onComplete func(Outcome)) *Session {
	id := uuid.NewString()
	finder := recognition.NewLandmarkFinder(v.capability, v.cfg.Liveness.MinScore)

	return &Session{
		ID:         id,
		Identity:   identity,
		v:          v,
		phase:      PhaseIdle,
		detector:   liveness.NewDetector(finder, liveness.OptionsFromConfig(v.cfg.Liveness)),
		cache:      gallery.NewCache(v.loader),
		onComplete: onComplete,
		log: logging.Component("verify").WithFields(logging.Fields{
			"session_id": id,
			"identity":   identity,
		}),
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Verify runs one complete session for identity and returns its outcome.
func (v *Verifier) Verify(ctx context.Context, identity string) Outcome {
	s := v.NewSession(identity, nil)
	out, err := s.Start(ctx)
	if err != nil {
		return Outcome{SessionID: s.ID, Identity: identity, Phase: s.Phase(), Err: err}
	}
	return out
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
