// Package config provides configuration management for FaceLocker.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default locations searched by LoadDefault.
const (
	SystemConfigPath = "/etc/facelocker/facelocker.yaml"
	userConfigPath   = ".config/facelocker/facelocker.yaml"
)

// Config holds all FaceLocker configuration.
type Config struct {
	Camera       CameraConfig       `yaml:"camera"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	Liveness     LivenessConfig     `yaml:"liveness"`
	Gallery      GalleryConfig      `yaml:"gallery"`
	Verification VerificationConfig `yaml:"verification"`
	Notify       NotifyConfig       `yaml:"notify"`
	Redis        RedisConfig        `yaml:"redis"`
	Audit        AuditConfig        `yaml:"audit"`
	Storage      StorageConfig      `yaml:"storage"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// CameraConfig holds capture device settings.
type CameraConfig struct {
	Device         string        `yaml:"device" validate:"required"`
	InputFormat    string        `yaml:"input_format" validate:"required"`
	Width          int           `yaml:"width" validate:"gt=0"`
	Height         int           `yaml:"height" validate:"gt=0"`
	FFmpegPath     string        `yaml:"ffmpeg_path" validate:"required"`
	CaptureTimeout time.Duration `yaml:"capture_timeout" validate:"gt=0"`
}

// RecognitionConfig holds face detection and descriptor settings.
type RecognitionConfig struct {
	ModelPath         string        `yaml:"model_path" validate:"required"`
	Detector          string        `yaml:"detector" validate:"oneof=hog cnn"`
	LiveMinScore      float64       `yaml:"live_min_score" validate:"gte=0,lte=1"`
	EnrollMinScore    float64       `yaml:"enroll_min_score" validate:"gte=0,lte=1"`
	MinFaceSize       int           `yaml:"min_face_size" validate:"gt=0"`
	EnrollMinFaceSize int           `yaml:"enroll_min_face_size" validate:"gt=0"`
	DistanceThreshold float64       `yaml:"distance_threshold" validate:"gt=0"`
	ExtractAttempts   int           `yaml:"extract_attempts" validate:"gt=0"`
	RetryInterval     time.Duration `yaml:"retry_interval" validate:"gte=0"`
}

// LivenessConfig holds blink detection settings.
type LivenessConfig struct {
	MinScore            float64       `yaml:"min_score" validate:"gte=0,lte=1"`
	DefaultThreshold    float64       `yaml:"default_threshold" validate:"gt=0"`
	ThresholdFloor      float64       `yaml:"threshold_floor" validate:"gt=0"`
	CalibrationOffset   float64       `yaml:"calibration_offset" validate:"gte=0"`
	HistorySize         int           `yaml:"history_size" validate:"gt=0"`
	MinSamples          int           `yaml:"min_samples" validate:"gt=0"`
	Calibrate           bool          `yaml:"calibrate"`
	CalibrationFrames   int           `yaml:"calibration_frames" validate:"gte=0"`
	CalibrationInterval time.Duration `yaml:"calibration_interval" validate:"gte=0"`
	PollInterval        time.Duration `yaml:"poll_interval" validate:"gt=0"`
	Window              time.Duration `yaml:"window" validate:"gt=0"`
}

// GalleryConfig holds enrollment gallery settings.
type GalleryConfig struct {
	Source    string `yaml:"source" validate:"oneof=file s3"`
	MaxImages int    `yaml:"max_images" validate:"gt=0"`
	Quorum    int    `yaml:"quorum" validate:"gt=0"`
	S3Bucket  string `yaml:"s3_bucket" validate:"required_if=Source s3"`
	S3Prefix  string `yaml:"s3_prefix"`
	S3Region  string `yaml:"s3_region" validate:"required_if=Source s3"`
}

// VerificationConfig holds orchestrator timings.
type VerificationConfig struct {
	SettleDelay   time.Duration `yaml:"settle_delay" validate:"gte=0"`
	NotifyTimeout time.Duration `yaml:"notify_timeout" validate:"gt=0"`
}

// NotifyConfig holds alert delivery settings. The Resend API key is read
// from RESEND_API_KEY.
type NotifyConfig struct {
	Mode     string        `yaml:"mode" validate:"oneof=none email queue"`
	From     string        `yaml:"from" validate:"required_unless=Mode none"`
	Subject  string        `yaml:"subject"`
	Queue    string        `yaml:"queue" validate:"required"`
	MaxRetry int           `yaml:"max_retry" validate:"gte=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

// RedisConfig holds the Redis connection shared by the alert queue and the
// attempt log. The password is read from REDIS_PASSWORD.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db" validate:"gte=0"`
}

// AuditConfig holds attempt log settings.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	KeyPrefix  string `yaml:"key_prefix" validate:"required"`
	MaxEntries int    `yaml:"max_entries" validate:"gt=0"`
}

// StorageConfig holds local storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir" validate:"required"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	File   string `yaml:"file"`
	Format string `yaml:"format" validate:"oneof=text nested"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Camera: CameraConfig{
			Device:         "/dev/video0",
			InputFormat:    "v4l2",
			Width:          640,
			Height:         480,
			FFmpegPath:     "ffmpeg",
			CaptureTimeout: 3 * time.Second,
		},
		Recognition: RecognitionConfig{
			ModelPath:         filepath.Join(homeDir, ".local/share/facelocker/models"),
			Detector:          "hog",
			LiveMinScore:      0.3,
			EnrollMinScore:    0.5,
			MinFaceSize:       100,
			EnrollMinFaceSize: 150,
			DistanceThreshold: 0.6,
			ExtractAttempts:   5,
			RetryInterval:     100 * time.Millisecond,
		},
		Liveness: LivenessConfig{
			MinScore:            0.4,
			DefaultThreshold:    0.28,
			ThresholdFloor:      0.25,
			CalibrationOffset:   0.20,
			HistorySize:         5,
			MinSamples:          3,
			Calibrate:           true,
			CalibrationFrames:   10,
			CalibrationInterval: 100 * time.Millisecond,
			PollInterval:        50 * time.Millisecond,
			Window:              50 * time.Second,
		},
		Gallery: GalleryConfig{
			Source:    "file",
			MaxImages: 20,
			Quorum:    3,
		},
		Verification: VerificationConfig{
			SettleDelay:   2 * time.Second,
			NotifyTimeout: 10 * time.Second,
		},
		Notify: NotifyConfig{
			Mode:     "none",
			Subject:  "Unauthorized Locker Access Attempt",
			Queue:    "critical",
			MaxRetry: 5,
			Timeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Audit: AuditConfig{
			Enabled:    false,
			KeyPrefix:  "facelocker:attempts",
			MaxEntries: 100,
		},
		Storage: StorageConfig{
			DataDir:           filepath.Join(homeDir, ".local/share/facelocker"),
			EncryptionEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   filepath.Join(homeDir, ".local/share/facelocker/facelocker.log"),
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file on top of the defaults.
// The defaults are returned alongside any error.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat(SystemConfigPath); err == nil {
		return Load(SystemConfigPath)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, userConfigPath)
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report yaml keys instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Param() != "" {
				return fmt.Errorf("invalid %s: %v (must satisfy %s=%s)", field, fe.Value(), fe.Tag(), fe.Param())
			}
			return fmt.Errorf("invalid %s: %v (must satisfy %s)", field, fe.Value(), fe.Tag())
		}
		return err
	}

	if c.Liveness.ThresholdFloor > c.Liveness.DefaultThreshold {
		return fmt.Errorf("liveness.threshold_floor (%.2f) must not exceed liveness.default_threshold (%.2f)",
			c.Liveness.ThresholdFloor, c.Liveness.DefaultThreshold)
	}
	if c.Liveness.MinSamples > c.Liveness.HistorySize {
		return fmt.Errorf("liveness.min_samples (%d) must not exceed liveness.history_size (%d)",
			c.Liveness.MinSamples, c.Liveness.HistorySize)
	}
	if c.Recognition.EnrollMinFaceSize < c.Recognition.MinFaceSize {
		return fmt.Errorf("recognition.enroll_min_face_size (%d) must not be below recognition.min_face_size (%d)",
			c.Recognition.EnrollMinFaceSize, c.Recognition.MinFaceSize)
	}
	if c.Gallery.Quorum > c.Gallery.MaxImages {
		return fmt.Errorf("gallery.quorum (%d) must not exceed gallery.max_images (%d)",
			c.Gallery.Quorum, c.Gallery.MaxImages)
	}
	if c.Notify.Mode == "queue" && c.Redis.Addr == "" {
		return errors.New("notify.mode queue requires redis.addr")
	}
	if c.Audit.Enabled && c.Redis.Addr == "" {
		return errors.New("audit.enabled requires redis.addr")
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.GalleryDir(), 0700); err != nil {
		return fmt.Errorf("failed to create gallery directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// GalleryDir returns the directory holding per-identity enrollment images.
func (c *Config) GalleryDir() string {
	return filepath.Join(c.Storage.DataDir, "galleries")
}
