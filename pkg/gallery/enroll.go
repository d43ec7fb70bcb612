package gallery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/facelocker/pkg/logging"
	"github.com/MrCodeEU/facelocker/pkg/recognition"
)

// Rejection records why a candidate enrollment image was refused.
type Rejection struct {
	Index int
	Err   error
}

// EnrollResult summarizes an enrollment.
type EnrollResult struct {
	Accepted int
	Total    int
	Rejected []Rejection
}

// Enroller validates candidate images with the enrollment quality gates and
// stores those that pass.
type Enroller struct {
	store     Store
	extractor Extractor
	opts      recognition.Options
	maxImages int
	quorum    int
	log       *logging.Entry
}

// NewEnroller creates an enroller writing to store. An identity never holds
// more than maxImages images, since the loader would ignore the rest.
func NewEnroller(store Store, extractor Extractor, opts recognition.Options, maxImages, quorum int) *Enroller {
	return &Enroller{
		store:     store,
		extractor: extractor,
		opts:      opts,
		maxImages: maxImages,
		quorum:    quorum,
		log:       logging.Component("enroll"),
	}
}

// Check reports whether img would yield an embedding when the gallery is
// loaded.
func (e *Enroller) Check(ctx context.Context, img []byte) error {
	_, _, err := e.extractor.Extract(ctx, recognition.StaticImage(img), e.opts)
	return err
}

// Enroll validates images and stores the accepted ones for identity. With
// keep set they are added to the existing images, otherwise they replace
// them. Accepted images beyond the gallery limit are rejected with
// ErrGalleryFull. Nothing is written unless the stored total reaches the
// quorum. An empty contact keeps the contact already on file.
func (e *Enroller) Enroll(ctx context.Context, identity, contact string, images [][]byte, keep bool) (EnrollResult, error) {
	var res EnrollResult
	if err := ValidateIdentity(identity); err != nil {
		return res, err
	}
	log := e.log.WithField("identity", identity)

	accepted := make([][]byte, 0, len(images))
	indices := make([]int, 0, len(images))
	for i, img := range images {
		if err := e.Check(ctx, img); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			log.WithError(err).Debugf("Rejected image %d", i+1)
			res.Rejected = append(res.Rejected, Rejection{Index: i, Err: err})
			continue
		}
		accepted = append(accepted, img)
		indices = append(indices, i)
	}

	existing := 0
	if keep {
		imgs, err := e.store.ListEnrollmentImages(ctx, identity)
		if err != nil && !errors.Is(err, ErrIdentityNotFound) {
			return res, fmt.Errorf("failed to read existing images: %w", err)
		}
		existing = len(imgs)
	}

	if e.maxImages > 0 {
		room := max(e.maxImages-existing, 0)
		if len(accepted) > room {
			log.Warnf("Gallery limit of %d images reached, dropping %d image(s)", e.maxImages, len(accepted)-room)
			for _, i := range indices[room:] {
				res.Rejected = append(res.Rejected, Rejection{Index: i, Err: ErrGalleryFull})
			}
			accepted = accepted[:room]
		}
		if len(accepted) == 0 && len(images) > 0 && existing >= e.maxImages {
			res.Total = existing
			return res, fmt.Errorf("%w: %s already has %d images", ErrGalleryFull, identity, existing)
		}
	}
	res.Accepted = len(accepted)
	res.Total = existing + res.Accepted

	if res.Total < e.quorum {
		return res, &InsufficientEnrollmentError{Count: res.Total, Quorum: e.quorum}
	}

	if err := e.store.SaveImages(ctx, identity, accepted, keep); err != nil {
		return res, fmt.Errorf("failed to save images: %w", err)
	}

	profile := Profile{Identity: identity, Contact: contact, Images: res.Total, EnrolledAt: time.Now().UTC()}
	if prev, err := e.store.LoadProfile(ctx, identity); err == nil {
		if contact == "" {
			profile.Contact = prev.Contact
		}
		if keep && !prev.EnrolledAt.IsZero() {
			profile.EnrolledAt = prev.EnrolledAt
		}
	}
	if err := e.store.SaveProfile(ctx, profile); err != nil {
		return res, fmt.Errorf("failed to save profile: %w", err)
	}

	log.WithFields(logging.Fields{
		"accepted": res.Accepted,
		"rejected": len(res.Rejected),
		"total":    res.Total,
	}).Info("Enrollment saved")
	return res, nil
}
