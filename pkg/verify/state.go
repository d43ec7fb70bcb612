package verify

import (
	"errors"
	"fmt"
)

// Phase is the lifecycle stage of a verification session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
	PhaseScanning
	PhaseVerified
	PhaseUnknown
	PhaseError
)

var phaseNames = map[Phase]string{
	PhaseIdle:     "idle",
	PhaseLoading:  "loading",
	PhaseReady:    "ready",
	PhaseScanning: "scanning",
	PhaseVerified: "verified",
	PhaseUnknown:  "unknown",
	PhaseError:    "error",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether p ends a session.
func (p Phase) Terminal() bool {
	return p == PhaseVerified || p == PhaseUnknown || p == PhaseError
}

// Event drives a phase transition.
type Event int

const (
	// EventLoad starts loading the face models.
	EventLoad Event = iota
	// EventModelsReady signals that the models are available.
	EventModelsReady
	// EventLoadFailed signals that the models could not be loaded.
	EventLoadFailed
	// EventStart begins a scan.
	EventStart
	// EventMatched ends a scan with a verified face.
	EventMatched
	// EventNotMatched ends a scan with a live face that did not match.
	EventNotMatched
	// EventFailed ends a scan with an error.
	EventFailed
	// EventReset prepares a finished session for a new attempt.
	EventReset
	// EventRestart returns a session whose models failed to load to Idle.
	EventRestart
)

var eventNames = map[Event]string{
	EventLoad:        "load",
	EventModelsReady: "models_ready",
	EventLoadFailed:  "load_failed",
	EventStart:       "start",
	EventMatched:     "matched",
	EventNotMatched:  "not_matched",
	EventFailed:      "failed",
	EventReset:       "reset",
	EventRestart:     "restart",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ErrInvalidTransition is returned by Next for events a phase does not accept.
var ErrInvalidTransition = errors.New("invalid phase transition")

type transition struct {
	from  Phase
	event Event
}

var transitions = map[transition]Phase{
	{PhaseIdle, EventLoad}:            PhaseLoading,
	{PhaseIdle, EventModelsReady}:     PhaseReady,
	{PhaseLoading, EventModelsReady}:  PhaseReady,
	{PhaseLoading, EventLoadFailed}:   PhaseError,
	{PhaseReady, EventStart}:          PhaseScanning,
	{PhaseScanning, EventMatched}:     PhaseVerified,
	{PhaseScanning, EventNotMatched}:  PhaseUnknown,
	{PhaseScanning, EventFailed}:      PhaseError,
	{PhaseVerified, EventReset}:       PhaseReady,
	{PhaseUnknown, EventReset}:        PhaseReady,
	{PhaseError, EventReset}:          PhaseReady,
	{PhaseError, EventRestart}:        PhaseIdle,
}

// Next returns the phase that follows from applying event in phase.
func Next(phase Phase, event Event) (Phase, error) {
	if next, ok := transitions[transition{phase, event}]; ok {
		return next, nil
	}
	return phase, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, phase)
}
