package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrCodeEU/facelocker/pkg/config"
)

// fakeExec re-runs the test binary as the requested command. mode selects
// the helper behavior.
func fakeExec(mode string) func(ctx context.Context, command string, args ...string) *exec.Cmd {
	return func(ctx context.Context, command string, args ...string) *exec.Cmd {
		cs := []string{"-test.run=TestHelperProcess", "--", command}
		cs = append(cs, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode}
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	// os.Args: [test_binary, -test.run=TestHelperProcess, --, command, args...]
	if len(os.Args) < 4 {
		os.Exit(1)
	}

	args := os.Args[3:]
	if !strings.HasSuffix(args[0], "ffmpeg") {
		os.Exit(2)
	}

	switch os.Getenv("HELPER_MODE") {
	case "fail":
		_, _ = os.Stderr.WriteString("/dev/video0: Device or resource busy\n")
		os.Exit(1)
	case "garbage":
		_, _ = os.Stdout.WriteString("not a jpeg")
		os.Exit(0)
	case "hang":
		time.Sleep(10 * time.Second)
		os.Exit(0)
	}

	if args[len(args)-1] != "pipe:1" {
		os.Exit(3)
	}

	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	img.Set(10, 10, color.RGBA{255, 0, 0, 255})
	_ = jpeg.Encode(os.Stdout, img, nil)
	os.Exit(0)
}

func testCameraConfig(t *testing.T) config.CameraConfig {
	t.Helper()
	cfg := config.DefaultConfig().Camera
	device := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(device, nil, 0600); err != nil {
		t.Fatalf("failed to create fake device: %v", err)
	}
	cfg.Device = device
	return cfg
}

func useFakeExec(t *testing.T, mode string) {
	t.Helper()
	execCommand = fakeExec(mode)
	t.Cleanup(func() { execCommand = exec.CommandContext })
}

func TestOpen(t *testing.T) {
	c := NewFFmpegSource(testCameraConfig(t))

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !c.IsOpen() {
		t.Error("Camera should be open")
	}
	// Opening twice is harmless.
	if err := c.Open(context.Background()); err != nil {
		t.Errorf("second Open failed: %v", err)
	}
}

func TestOpen_MissingDevice(t *testing.T) {
	cfg := config.DefaultConfig().Camera
	cfg.Device = filepath.Join(t.TempDir(), "missing")
	c := NewFFmpegSource(cfg)

	err := c.Open(context.Background())
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable, got %v", err)
	}
	if c.IsOpen() {
		t.Error("Camera should not be open")
	}
}

func TestOpen_CancelledContext(t *testing.T) {
	c := NewFFmpegSource(testCameraConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestClose(t *testing.T) {
	c := NewFFmpegSource(testCameraConfig(t))
	_ = c.Open(context.Background())

	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if c.IsOpen() {
		t.Error("Camera should be closed")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestCurrentFrame(t *testing.T) {
	useFakeExec(t, "ok")

	c := NewFFmpegSource(testCameraConfig(t))
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	frame, err := c.CurrentFrame(context.Background())
	if err != nil {
		t.Fatalf("CurrentFrame failed: %v", err)
	}
	if frame.Empty() {
		t.Fatal("CurrentFrame returned an empty frame")
	}
	if frame.Data[0] != 0xFF || frame.Data[1] != 0xD8 {
		t.Error("CurrentFrame returned invalid JPEG data")
	}
	if frame.Timestamp.IsZero() {
		t.Error("expected frame timestamp to be set")
	}

	img, err := frame.ToImage()
	if err != nil {
		t.Fatalf("ToImage failed: %v", err)
	}
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 480 {
		t.Errorf("unexpected image size %v", img.Bounds())
	}
}

func TestCurrentFrame_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		open    bool
		wantErr error
	}{
		{name: "not open", mode: "ok", open: false, wantErr: ErrCameraNotOpen},
		{name: "ffmpeg fails", mode: "fail", open: true, wantErr: ErrNoFrame},
		{name: "non-jpeg output", mode: "garbage", open: true, wantErr: ErrNoFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useFakeExec(t, tt.mode)

			c := NewFFmpegSource(testCameraConfig(t))
			if tt.open {
				if err := c.Open(context.Background()); err != nil {
					t.Fatalf("Open failed: %v", err)
				}
			}

			_, err := c.CurrentFrame(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCurrentFrame_Timeout(t *testing.T) {
	useFakeExec(t, "hang")

	cfg := testCameraConfig(t)
	cfg.CaptureTimeout = 200 * time.Millisecond
	c := NewFFmpegSource(cfg)
	_ = c.Open(context.Background())

	start := time.Now()
	_, err := c.CurrentFrame(context.Background())
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("expected ErrNoFrame on timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("capture timeout was not enforced")
	}
}

func TestCaptureArgs(t *testing.T) {
	cfg := config.DefaultConfig().Camera
	cfg.Width, cfg.Height = 1280, 720
	c := NewFFmpegSource(cfg)

	args := strings.Join(c.captureArgs(), " ")
	for _, want := range []string{"-f v4l2", "-video_size 1280x720", "-i /dev/video0", "-frames:v 1", "pipe:1"} {
		if !strings.Contains(args, want) {
			t.Errorf("expected args to contain %q, got %q", want, args)
		}
	}
}
