package gallery

import (
	"context"
	"fmt"

	"github.com/MrCodeEU/facelocker/pkg/logging"
	"github.com/MrCodeEU/facelocker/pkg/recognition"
)

// Extractor turns an image into an embedding.
type Extractor interface {
	Extract(ctx context.Context, next recognition.ImageFunc, opts recognition.Options) (recognition.Face, recognition.Embedding, error)
}

// Loader builds galleries from stored enrollment images.
type Loader struct {
	storage   Storage
	extractor Extractor
	opts      recognition.Options
	maxImages int
	quorum    int
	log       *logging.Entry
}

// NewLoader creates a loader. opts are the enrollment quality gates applied
// to every stored image.
func NewLoader(storage Storage, extractor Extractor, opts recognition.Options, maxImages, quorum int) *Loader {
	return &Loader{
		storage:   storage,
		extractor: extractor,
		opts:      opts,
		maxImages: maxImages,
		quorum:    quorum,
		log:       logging.Component("gallery"),
	}
}

// Load extracts an embedding from each stored image of identity. Images
// without a usable face are skipped. Fewer than the quorum of embeddings
// fails with an InsufficientEnrollmentError.
func (l *Loader) Load(ctx context.Context, identity string) (*Gallery, error) {
	log := l.log.WithField("identity", identity)

	images, err := l.storage.ListEnrollmentImages(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollment images: %w", err)
	}
	if l.maxImages > 0 && len(images) > l.maxImages {
		log.Debugf("Using first %d of %d enrollment images", l.maxImages, len(images))
		images = images[:l.maxImages]
	}

	embeddings := make([]recognition.Embedding, 0, len(images))
	for i, img := range images {
		_, emb, err := l.extractor.Extract(ctx, recognition.StaticImage(img), l.opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.WithError(err).Warnf("Skipping enrollment image %d", i+1)
			continue
		}
		embeddings = append(embeddings, emb)
	}

	g, err := New(identity, embeddings, l.quorum)
	if err != nil {
		log.WithField("images", len(images)).Warn(err.Error())
		return nil, err
	}

	log.Infof("Loaded gallery with %d embeddings from %d images", g.Len(), len(images))
	return g, nil
}

// Cache keeps the gallery of one identity for the lifetime of a
// verification session.
type Cache struct {
	loader   *Loader
	identity string
	gallery  *Gallery
}

// NewCache creates an empty session cache.
func NewCache(loader *Loader) *Cache {
	return &Cache{loader: loader}
}

// Get returns the cached gallery for identity, loading it on first use.
// Failures are not cached.
func (c *Cache) Get(ctx context.Context, identity string) (*Gallery, error) {
	if c.gallery != nil && c.identity == identity {
		return c.gallery, nil
	}

	g, err := c.loader.Load(ctx, identity)
	if err != nil {
		return nil, err
	}

	c.identity = identity
	c.gallery = g
	return g, nil
}

// Clear drops the cached gallery.
func (c *Cache) Clear() {
	c.identity = ""
	c.gallery = nil
}
