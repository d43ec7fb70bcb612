// Package gallery loads enrolled face images into per-identity embedding
// sets and matches live embeddings against them.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/MrCodeEU/facelocker/pkg/config"
)

// ErrInsufficientEnrollmentData is matched by InsufficientEnrollmentError.
var ErrInsufficientEnrollmentData = errors.New("insufficient enrollment data")

// ErrIdentityNotFound is returned when an identity has no stored gallery.
var ErrIdentityNotFound = errors.New("identity not enrolled")

// ErrInvalidIdentity is returned for identity names that cannot be used as
// a storage key.
var ErrInvalidIdentity = errors.New("invalid identity name")

// ErrGalleryFull is returned when an identity already holds the maximum
// number of enrollment images.
var ErrGalleryFull = errors.New("enrollment gallery full")

// InsufficientEnrollmentError reports how many usable embeddings were found
// when the quorum was not met.
type InsufficientEnrollmentError struct {
	Count  int
	Quorum int
}

func (e *InsufficientEnrollmentError) Error() string {
	return fmt.Sprintf("insufficient enrollment data: %d of %d required embeddings", e.Count, e.Quorum)
}

// Is makes errors.Is(err, ErrInsufficientEnrollmentData) hold.
func (e *InsufficientEnrollmentError) Is(target error) bool {
	return target == ErrInsufficientEnrollmentData
}

// Storage reads the raw enrollment images of an identity.
type Storage interface {
	ListEnrollmentImages(ctx context.Context, identity string) ([][]byte, error)
}

// Profile is the per-identity record kept next to the images.
type Profile struct {
	Identity   string    `json:"identity"`
	Contact    string    `json:"contact,omitempty"`
	Images     int       `json:"images"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// Store is a writable gallery backend.
type Store interface {
	Storage
	SaveImages(ctx context.Context, identity string, images [][]byte, keep bool) error
	SaveProfile(ctx context.Context, p Profile) error
	LoadProfile(ctx context.Context, identity string) (*Profile, error)
	Identities(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, identity string) error
}

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,127}$`)

// ValidateIdentity checks that an identity is safe to use as a path or key
// segment.
func ValidateIdentity(identity string) error {
	if !identityPattern.MatchString(identity) || identity == "." || identity == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	return nil
}

// FromConfig opens the store selected by gallery.source.
func FromConfig(cfg *config.Config) (Store, error) {
	if cfg.Gallery.Source == "s3" {
		s, err := NewS3StoreFromConfig(cfg.Gallery)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	fs, err := NewFileStore(cfg.GalleryDir(), cfg.Storage.EncryptionEnabled)
	if err != nil {
		return nil, err
	}
	return fs, nil
}
