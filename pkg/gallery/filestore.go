package gallery

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/MrCodeEU/facelocker/pkg/logging"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	profileName = "profile.json"
	imageExt    = ".jpg"
	encExt      = ".enc"
)

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore keeps enrollment images under <dir>/<identity>/, optionally
// sealed with NaCl secretbox using a machine-bound key.
type FileStore struct {
	dir               string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewFileStore creates a file-backed gallery store rooted at dir.
func NewFileStore(dir string, encryptionEnabled bool) (*FileStore, error) {
	fs := &FileStore{
		dir:               dir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		fs.encryptionKey = key
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create gallery directory: %w", err)
	}

	return fs, nil
}

// deriveKey ties encrypted galleries to this machine and user.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facelocker-gallery-v1")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])
	return key, nil
}

func (fs *FileStore) identityDir(identity string) (string, error) {
	if err := ValidateIdentity(identity); err != nil {
		return "", err
	}
	return filepath.Join(fs.dir, identity), nil
}

func (fs *FileStore) fileName(base string) string {
	if fs.encryptionEnabled {
		return base + encExt
	}
	return base
}

func (fs *FileStore) writeFile(path string, data []byte) error {
	if fs.encryptionEnabled {
		var err error
		if data, err = fs.encrypt(data); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

func (fs *FileStore) readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, encExt) {
		return fs.decrypt(data)
	}
	return data, nil
}

// imagePaths returns the stored image files of an identity in capture order.
func (fs *FileStore) imagePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, profileName) {
			continue
		}
		if strings.HasSuffix(name, imageExt) || strings.HasSuffix(name, imageExt+encExt) {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ListEnrollmentImages implements Storage.
func (fs *FileStore) ListEnrollmentImages(ctx context.Context, identity string) ([][]byte, error) {
	dir, err := fs.identityDir(identity)
	if err != nil {
		return nil, err
	}

	paths, err := fs.imagePaths(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to list enrollment images: %w", err)
	}

	images := make([][]byte, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := fs.readFile(path)
		if err != nil {
			// A single unreadable image is tolerated like an image without a face.
			logging.WithError(err).Warnf("Skipping unreadable enrollment image %s", filepath.Base(path))
			continue
		}
		images = append(images, data)
	}

	return images, nil
}

// SaveImages writes images for identity. Unless keep is set, previously
// stored images are removed first.
func (fs *FileStore) SaveImages(ctx context.Context, identity string, images [][]byte, keep bool) error {
	dir, err := fs.identityDir(identity)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	existing, err := fs.imagePaths(dir)
	if err != nil {
		return fmt.Errorf("failed to list enrollment images: %w", err)
	}

	next := 0
	if keep {
		next = len(existing)
	} else {
		for _, path := range existing {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove old image: %w", err)
			}
		}
	}

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := fs.fileName(fmt.Sprintf("%03d%s", next+i, imageExt))
		if err := fs.writeFile(filepath.Join(dir, name), img); err != nil {
			return fmt.Errorf("failed to write enrollment image: %w", err)
		}
	}

	logging.Debugf("Saved %d enrollment image(s) for: %s", len(images), identity)
	return nil
}

// SaveProfile writes the identity profile.
func (fs *FileStore) SaveProfile(ctx context.Context, p Profile) error {
	dir, err := fs.identityDir(p.Identity)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if err := fs.writeFile(filepath.Join(dir, fs.fileName(profileName)), data); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

// LoadProfile reads the identity profile.
func (fs *FileStore) LoadProfile(ctx context.Context, identity string) (*Profile, error) {
	dir, err := fs.identityDir(identity)
	if err != nil {
		return nil, err
	}

	data, err := fs.readFile(filepath.Join(dir, fs.fileName(profileName)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

// Identities returns all enrolled identities.
func (fs *FileStore) Identities(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() && ValidateIdentity(entry.Name()) == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Remove deletes all stored data of identity.
func (fs *FileStore) Remove(ctx context.Context, identity string) error {
	dir, err := fs.identityDir(identity)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrIdentityNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove identity: %w", err)
	}

	logging.Infof("Removed gallery for: %s", identity)
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
