// Package camera provides frame capture from a V4L2 device.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/logging"
)

// Frame represents a single camera frame. Data holds JPEG bytes and must not
// be modified after capture.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// ToImage decodes the frame into an image.
func (f Frame) ToImage() (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(f.Data))
}

// Empty reports whether the frame carries no image data.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Source is a capture device owned by one verification session.
type Source interface {
	Open(ctx context.Context) error
	Close() error
	CurrentFrame(ctx context.Context) (Frame, error)
}

// ErrCameraUnavailable is returned when the capture device cannot be opened.
var ErrCameraUnavailable = errors.New("camera unavailable")

// ErrCameraNotOpen is returned when trying to capture from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

var execCommand = exec.CommandContext

// FFmpegSource grabs single JPEG frames by running ffmpeg against the device.
type FFmpegSource struct {
	mu      sync.Mutex
	cfg     config.CameraConfig
	isOpen  bool
	log     *logging.Entry
	statDev func(string) (os.FileInfo, error)
}

// NewFFmpegSource creates a frame source for the configured device.
func NewFFmpegSource(cfg config.CameraConfig) *FFmpegSource {
	return &FFmpegSource{
		cfg:     cfg,
		log:     logging.Component("camera").WithField("device", cfg.Device),
		statDev: os.Stat,
	}
}

// Open checks that the capture device exists.
func (c *FFmpegSource) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isOpen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := c.statDev(c.cfg.Device); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCameraUnavailable, c.cfg.Device, err)
	}

	c.isOpen = true
	c.log.Debug("Camera opened")
	return nil
}

// Close releases the device. Closing an already closed source is a no-op.
func (c *FFmpegSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isOpen {
		c.log.Debug("Camera closed")
	}
	c.isOpen = false
	return nil
}

// IsOpen returns whether the source is open.
func (c *FFmpegSource) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

// CurrentFrame captures one frame from the device.
func (c *FFmpegSource) CurrentFrame(ctx context.Context) (Frame, error) {
	c.mu.Lock()
	open := c.isOpen
	c.mu.Unlock()

	if !open {
		return Frame{}, ErrCameraNotOpen
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CaptureTimeout)
	defer cancel()

	cmd := execCommand(ctx, c.cfg.FFmpegPath, c.captureArgs()...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return Frame{}, ctx.Err()
		}
		return Frame{}, fmt.Errorf("%w: %v: %s", ErrNoFrame, err, strings.TrimSpace(stderr.String()))
	}

	data := stdout.Bytes()
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return Frame{}, fmt.Errorf("%w: output is not a JPEG image", ErrNoFrame)
	}

	return Frame{
		Data:      data,
		Width:     c.cfg.Width,
		Height:    c.cfg.Height,
		Timestamp: time.Now(),
	}, nil
}

func (c *FFmpegSource) captureArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", c.cfg.InputFormat,
		"-video_size", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		"-i", c.cfg.Device,
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	}
}
