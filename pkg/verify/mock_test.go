package verify

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/facelocker/pkg/audit"
	"github.com/MrCodeEU/facelocker/pkg/camera"
	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/gallery"
	"github.com/MrCodeEU/facelocker/pkg/notify"
	"github.com/MrCodeEU/facelocker/pkg/recognition"
)

// Frame payloads understood by MockCapability:
//
//	"<ear>"        a 200px face whose eyes have the given aspect ratio
//	"small:<ear>"  the same face at 50px
//	"none"         no face
//	"degenerate"   a face whose eye landmarks collapse to one point
//	"enroll"       a 200px enrollment face with a zero descriptor
const enrollPayload = "enroll"

type MockCapability struct {
	DetectFacesFunc func(ctx context.Context, data []byte) ([]recognition.Face, error)
	LoadModelsFunc  func(modelPath string) error

	// LiveDistance is the first descriptor component of live faces, which is
	// their distance to the zero enrollment descriptor.
	LiveDistance float32

	mu     sync.Mutex
	loaded bool
	loads  int
}

func (m *MockCapability) DetectFaces(ctx context.Context, data []byte) ([]recognition.Face, error) {
	if m.DetectFacesFunc != nil {
		return m.DetectFacesFunc(ctx, data)
	}

	payload := string(data)
	size := 200
	switch {
	case payload == "none" || payload == "":
		return nil, recognition.ErrNoFaceDetected
	case payload == "degenerate":
		return []recognition.Face{{
			BoundingBox: recognition.Rectangle{Width: size, Height: size},
			Confidence:  1.0,
			Landmarks:   make([]recognition.Point, 68),
		}}, nil
	case payload == enrollPayload:
		return []recognition.Face{{
			BoundingBox: recognition.Rectangle{Width: size, Height: size},
			Confidence:  1.0,
			Landmarks:   landmarksWithEAR(0.30),
		}}, nil
	case strings.HasPrefix(payload, "small:"):
		size = 50
		payload = strings.TrimPrefix(payload, "small:")
	}

	ear, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		return nil, errors.New("bad test payload " + payload)
	}
	return []recognition.Face{{
		BoundingBox: recognition.Rectangle{Width: size, Height: size},
		Confidence:  1.0,
		Landmarks:   landmarksWithEAR(ear),
		Descriptor:  recognition.Descriptor{m.LiveDistance},
	}}, nil
}

func (m *MockCapability) LoadModels(modelPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.LoadModelsFunc != nil {
		if err := m.LoadModelsFunc(modelPath); err != nil {
			return err
		}
	}
	m.loaded = true
	return nil
}

func (m *MockCapability) IsLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// landmarksWithEAR builds 68 landmarks whose eyes (36-41 and 42-47) have the
// given aspect ratio. Eyes are 1000px wide so the ratio survives integer
// coordinates.
func landmarksWithEAR(ear float64) []recognition.Point {
	pts := make([]recognition.Point, 68)
	eye := func(start, x0 int) {
		const w = 1000
		h := int(ear * w / 2)
		pts[start+0] = recognition.Point{X: x0, Y: 500}
		pts[start+1] = recognition.Point{X: x0 + w/3, Y: 500 - h}
		pts[start+2] = recognition.Point{X: x0 + 2*w/3, Y: 500 - h}
		pts[start+3] = recognition.Point{X: x0 + w, Y: 500}
		pts[start+4] = recognition.Point{X: x0 + 2*w/3, Y: 500 + h}
		pts[start+5] = recognition.Point{X: x0 + w/3, Y: 500 + h}
	}
	eye(36, 0)
	eye(42, 2000)
	return pts
}

// MockCamera plays back a script of frame payloads and repeats the last one.
type MockCamera struct {
	OpenFunc         func(ctx context.Context) error
	CurrentFrameFunc func(ctx context.Context) (camera.Frame, error)
	Script           []string

	mu     sync.Mutex
	pos    int
	opens  int
	closes int
	frames int
}

func (m *MockCamera) Open(ctx context.Context) error {
	m.mu.Lock()
	m.opens++
	m.mu.Unlock()
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx)
	}
	return nil
}

func (m *MockCamera) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *MockCamera) CurrentFrame(ctx context.Context) (camera.Frame, error) {
	m.mu.Lock()
	m.frames++
	m.mu.Unlock()
	if m.CurrentFrameFunc != nil {
		return m.CurrentFrameFunc(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Script) == 0 {
		return camera.Frame{}, camera.ErrNoFrame
	}
	payload := m.Script[len(m.Script)-1]
	if m.pos < len(m.Script) {
		payload = m.Script[m.pos]
		m.pos++
	}
	return camera.Frame{Data: []byte(payload), Width: 640, Height: 480}, nil
}

func (m *MockCamera) counts() (opens, closes, frames int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes, m.frames
}

type MockStorage struct {
	ListEnrollmentImagesFunc func(ctx context.Context, identity string) ([][]byte, error)
	calls                    int
}

func (m *MockStorage) ListEnrollmentImages(ctx context.Context, identity string) ([][]byte, error) {
	m.calls++
	if m.ListEnrollmentImagesFunc != nil {
		return m.ListEnrollmentImagesFunc(ctx, identity)
	}
	return nil, gallery.ErrIdentityNotFound
}

func enrolledStorage(n int) *MockStorage {
	return &MockStorage{
		ListEnrollmentImagesFunc: func(ctx context.Context, identity string) ([][]byte, error) {
			imgs := make([][]byte, n)
			for i := range imgs {
				imgs[i] = []byte(enrollPayload)
			}
			return imgs, nil
		},
	}
}

type MockContacts struct {
	LoadProfileFunc func(ctx context.Context, identity string) (*gallery.Profile, error)
}

func (m *MockContacts) LoadProfile(ctx context.Context, identity string) (*gallery.Profile, error) {
	if m.LoadProfileFunc != nil {
		return m.LoadProfileFunc(ctx, identity)
	}
	return &gallery.Profile{Identity: identity, Contact: "owner@example.com"}, nil
}

type MockDispatcher struct {
	NotifyUnauthorizedFunc func(ctx context.Context, alert notify.Alert) error
	alerts                 []notify.Alert
}

func (m *MockDispatcher) NotifyUnauthorized(ctx context.Context, alert notify.Alert) error {
	m.alerts = append(m.alerts, alert)
	if m.NotifyUnauthorizedFunc != nil {
		return m.NotifyUnauthorizedFunc(ctx, alert)
	}
	return nil
}

type MockRecorder struct {
	RecordFunc func(ctx context.Context, a audit.Attempt) error
	attempts   []audit.Attempt
}

func (m *MockRecorder) Record(ctx context.Context, a audit.Attempt) error {
	m.attempts = append(m.attempts, a)
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, a)
	}
	return nil
}

// fakeClock advances only when the session sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type fixture struct {
	cfg        *config.Config
	capability *MockCapability
	camera     *MockCamera
	storage    *MockStorage
	contacts   *MockContacts
	dispatcher *MockDispatcher
	recorder   *MockRecorder
	clock      *fakeClock
}

func newFixture(script ...string) *fixture {
	cfg := config.DefaultConfig()
	cfg.Liveness.Calibrate = false
	cfg.Liveness.CalibrationInterval = 0
	cfg.Recognition.RetryInterval = 0

	return &fixture{
		cfg:        cfg,
		capability: &MockCapability{loaded: true, LiveDistance: 0.42},
		camera:     &MockCamera{Script: script},
		storage:    enrolledStorage(5),
		contacts:   &MockContacts{},
		dispatcher: &MockDispatcher{},
		recorder:   &MockRecorder{},
		clock:      newFakeClock(),
	}
}

func (f *fixture) verifier() *Verifier {
	return NewVerifier(f.cfg, Deps{
		Capability: f.capability,
		Camera:     func() camera.Source { return f.camera },
		Storage:    f.storage,
		Contacts:   f.contacts,
		Dispatcher: f.dispatcher,
		Recorder:   f.recorder,
	})
}

func (f *fixture) session(onComplete func(Outcome)) *Session {
	s := f.verifier().NewSession("alice", onComplete)
	s.now = f.clock.Now
	s.sleep = f.clock.Sleep
	return s
}

// blinkScript is scenario B: the fourth sample dips below 0.28.
var blinkScript = []string{"0.30", "0.29", "0.31", "0.18", "0.30"}
