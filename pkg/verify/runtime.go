package verify

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/facelocker/pkg/audit"
	"github.com/MrCodeEU/facelocker/pkg/camera"
	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/gallery"
	"github.com/MrCodeEU/facelocker/pkg/notify"
	"github.com/MrCodeEU/facelocker/pkg/recognition"
)

// Runtime is a Verifier wired to the production collaborators selected by
// the configuration, together with the resources it owns.
type Runtime struct {
	*Verifier
	Recognizer *recognition.DlibRecognizer
	Store      gallery.Store

	closers []func() error
}

// NewRuntime wires a verifier from cfg. Models are loaded by the first
// session that needs them.
func NewRuntime(cfg *config.Config) (*Runtime, error) {
	store, err := gallery.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open gallery store: %w", err)
	}

	dispatcher, closeDispatcher, err := notify.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure notifications: %w", err)
	}

	recorder, closeRecorder := audit.FromConfig(cfg)
	recognizer := recognition.NewRecognizer(cfg.Recognition.Detector)

	rt := &Runtime{
		Recognizer: recognizer,
		Store:      store,
		closers:    []func() error{recognizer.Close, closeDispatcher, closeRecorder},
	}
	rt.Verifier = NewVerifier(cfg, Deps{
		Capability: recognizer,
		Camera: func() camera.Source {
			return camera.NewFFmpegSource(cfg.Camera)
		},
		Storage:    store,
		Contacts:   store,
		Dispatcher: dispatcher,
		Recorder:   recorder,
	})
	return rt, nil
}

// Close releases the models and client connections.
func (r *Runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
