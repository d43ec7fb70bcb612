package gallery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/oklog/ulid/v2"

	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/logging"
)

// S3Store keeps enrollment images as objects under
// <prefix>/<identity>/ in one bucket.
type S3Store struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// NewS3Store creates a store on top of an S3 client.
func NewS3Store(client s3iface.S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// NewS3StoreFromConfig creates an S3 client for the configured region.
// Credentials come from the default AWS chain (environment, shared files,
// instance role).
func NewS3StoreFromConfig(cfg config.GalleryConfig) (*S3Store, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.S3Region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewS3Store(s3.New(sess), cfg.S3Bucket, cfg.S3Prefix), nil
}

func (s *S3Store) identityPrefix(identity string) (string, error) {
	if err := ValidateIdentity(identity); err != nil {
		return "", err
	}
	return path.Join(s.prefix, identity) + "/", nil
}

func (s *S3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		out, err := s.client.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		if !aws.BoolValue(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	sort.Strings(keys)
	return keys, nil
}

func isImageKey(key string) bool {
	lower := strings.ToLower(key)
	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg")
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (s *S3Store) put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Store) deleteKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

// ListEnrollmentImages implements Storage.
func (s *S3Store) ListEnrollmentImages(ctx context.Context, identity string) ([][]byte, error) {
	prefix, err := s.identityPrefix(identity)
	if err != nil {
		return nil, err
	}

	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollment images: %w", err)
	}

	var images [][]byte
	for _, key := range keys {
		if !isImageKey(key) {
			continue
		}
		data, err := s.get(ctx, key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logging.WithError(err).Warnf("Skipping unreadable enrollment image %s", key)
			continue
		}
		images = append(images, data)
	}

	if len(images) == 0 && len(keys) == 0 {
		return nil, ErrIdentityNotFound
	}
	return images, nil
}

// SaveImages uploads images for identity. Unless keep is set, previously
// stored images are deleted first.
func (s *S3Store) SaveImages(ctx context.Context, identity string, images [][]byte, keep bool) error {
	prefix, err := s.identityPrefix(identity)
	if err != nil {
		return err
	}

	if !keep {
		keys, err := s.listKeys(ctx, prefix)
		if err != nil {
			return fmt.Errorf("failed to list enrollment images: %w", err)
		}
		var old []string
		for _, key := range keys {
			if isImageKey(key) {
				old = append(old, key)
			}
		}
		if err := s.deleteKeys(ctx, old); err != nil {
			return err
		}
	}

	for _, img := range images {
		key := prefix + ulid.Make().String() + ".jpg"
		if err := s.put(ctx, key, "image/jpeg", img); err != nil {
			return fmt.Errorf("failed to upload enrollment image: %w", err)
		}
	}

	logging.Debugf("Uploaded %d enrollment image(s) for: %s", len(images), identity)
	return nil
}

// SaveProfile uploads the identity profile.
func (s *S3Store) SaveProfile(ctx context.Context, p Profile) error {
	prefix, err := s.identityPrefix(p.Identity)
	if err != nil {
		return err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := s.put(ctx, prefix+profileName, "application/json", data); err != nil {
		return fmt.Errorf("failed to upload profile: %w", err)
	}
	return nil
}

// LoadProfile downloads the identity profile.
func (s *S3Store) LoadProfile(ctx context.Context, identity string) (*Profile, error) {
	prefix, err := s.identityPrefix(identity)
	if err != nil {
		return nil, err
	}

	data, err := s.get(ctx, prefix+profileName)
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to download profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

// Identities returns all identities with objects under the prefix.
func (s *S3Store) Identities(ctx context.Context) ([]string, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(root),
		Delimiter: aws.String("/"),
	}

	ids := []string{}
	for {
		out, err := s.client.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list identities: %w", err)
		}
		for _, cp := range out.CommonPrefixes {
			id := strings.TrimSuffix(strings.TrimPrefix(aws.StringValue(cp.Prefix), root), "/")
			if ValidateIdentity(id) == nil {
				ids = append(ids, id)
			}
		}
		if !aws.BoolValue(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	return ids, nil
}

// Remove deletes every object of identity.
func (s *S3Store) Remove(ctx context.Context, identity string) error {
	prefix, err := s.identityPrefix(identity)
	if err != nil {
		return err
	}

	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}
	if len(keys) == 0 {
		return ErrIdentityNotFound
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		return err
	}

	logging.Infof("Removed gallery for: %s", identity)
	return nil
}
