package verify

import (
	"errors"
)

// Reason explains how a session ended.
type Reason string

const (
	ReasonVerified               Reason = "VERIFIED"
	ReasonUnknownFace            Reason = "UNKNOWN_FACE"
	ReasonSpoofingSuspected      Reason = "SPOOFING_SUSPECTED"
	ReasonNoFaceDetected         Reason = "NO_FACE_DETECTED"
	ReasonInsufficientEnrollment Reason = "INSUFFICIENT_ENROLLMENT_DATA"
	ReasonModelLoadError         Reason = "MODEL_LOAD_ERROR"
	ReasonCameraUnavailable      Reason = "CAMERA_UNAVAILABLE"
	ReasonDegenerateGeometry     Reason = "DEGENERATE_GEOMETRY"
	ReasonCancelled              Reason = "CANCELLED"
)

// User-facing messages
var reasonMessages = map[Reason]string{
	ReasonVerified:               "Face verified. Locker unlocked",
	ReasonUnknownFace:            "Face not recognized. The owner has been notified",
	ReasonSpoofingSuspected:      "No blink detected. Please blink naturally and try again",
	ReasonNoFaceDetected:         "Please position your face in front of the camera",
	ReasonInsufficientEnrollment: "Not enough enrolled photos. Please enroll again",
	ReasonModelLoadError:         "Face recognition models could not be loaded",
	ReasonCameraUnavailable:      "Camera error. Please check your camera connection",
	ReasonDegenerateGeometry:     "Face landmarks could not be measured. Please try again",
	ReasonCancelled:              "Verification cancelled",
}

// Message returns a user-friendly message for a reason.
func Message(r Reason) string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return "Verification failed"
}

// Retryable reports whether the user can fix the failure by trying again.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonSpoofingSuspected, ReasonNoFaceDetected, ReasonInsufficientEnrollment, ReasonCancelled:
		return true
	}
	return false
}

// Infrastructure reports whether the failure is a system fault rather than
// a property of the presented face.
func (r Reason) Infrastructure() bool {
	switch r {
	case ReasonModelLoadError, ReasonCameraUnavailable, ReasonDegenerateGeometry:
		return true
	}
	return false
}

// VerificationError is the error attached to a failed session.
type VerificationError struct {
	Reason Reason
	Err    error
}

// NewVerificationError wraps err with a reason.
func NewVerificationError(reason Reason, err error) *VerificationError {
	return &VerificationError{Reason: reason, Err: err}
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return string(e.Reason) + ": " + e.Err.Error()
	}
	return string(e.Reason) + ": " + Message(e.Reason)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the reason from an error chain.
func ReasonOf(err error) (Reason, bool) {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}

// ErrSessionBusy is returned when Start is called while a scan is running.
var ErrSessionBusy = errors.New("verification already in progress")

// ErrNotReady is returned when Start is called on a finished session.
var ErrNotReady = errors.New("session is not ready; reset it first")
