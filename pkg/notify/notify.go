// Package notify delivers unauthorized-access alerts with the captured
// evidence frame.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/oklog/ulid/v2"

	"github.com/MrCodeEU/facelocker/pkg/config"
)

// ErrMissingContact is returned when an alert has nobody to notify.
var ErrMissingContact = errors.New("alert has no contact")

// ErrMissingEvidence is returned when an alert carries no evidence frame.
var ErrMissingEvidence = errors.New("alert has no evidence frame")

// Alert describes one unknown-face outcome.
type Alert struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Identity  string    `json:"identity"`
	Contact   string    `json:"contact"`
	At        time.Time `json:"at"`
	Distance  float64   `json:"distance"`
	Evidence  []byte    `json:"evidence"`
}

// NewAlert creates an alert stamped with a fresh ID and the current time.
func NewAlert(sessionID, identity, contact string, distance float64, evidence []byte) Alert {
	return Alert{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Identity:  identity,
		Contact:   contact,
		At:        time.Now().UTC(),
		Distance:  distance,
		Evidence:  evidence,
	}
}

// Validate checks that the alert can be delivered.
func (a Alert) Validate() error {
	if a.Contact == "" {
		return ErrMissingContact
	}
	if len(a.Evidence) == 0 {
		return ErrMissingEvidence
	}
	return nil
}

// Dispatcher delivers alerts. Delivery is best-effort from the caller's
// point of view.
type Dispatcher interface {
	NotifyUnauthorized(ctx context.Context, alert Alert) error
}

// Fanout delivers an alert through every dispatcher and joins the errors.
type Fanout []Dispatcher

// NotifyUnauthorized implements Dispatcher.
func (f Fanout) NotifyUnauthorized(ctx context.Context, alert Alert) error {
	var errs []error
	for _, d := range f {
		if err := d.NotifyUnauthorized(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every alert.
type Discard struct{}

// NotifyUnauthorized implements Dispatcher.
func (Discard) NotifyUnauthorized(ctx context.Context, alert Alert) error {
	return nil
}

// RedisOpt builds the asynq connection from the redis config section.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       cfg.DB,
	}
}

// FromConfig builds the dispatcher selected by notify.mode. The returned
// close function releases any client connection.
func FromConfig(cfg *config.Config) (Dispatcher, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Notify.Mode {
	case "", "none":
		return Discard{}, noop, nil
	case "email":
		m, err := NewResendMailer(cfg.Notify.From, cfg.Notify.Subject)
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil
	case "queue":
		client := asynq.NewClient(RedisOpt(cfg.Redis))
		return NewQueueDispatcher(client, cfg.Notify), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown notify mode %q", cfg.Notify.Mode)
	}
}
