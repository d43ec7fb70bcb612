package verify

import (
	"testing"

	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/gallery"
)

func TestNewRuntime(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.EncryptionEnabled = false

	rt, err := NewRuntime(cfg)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	if _, ok := rt.Store.(*gallery.FileStore); !ok {
		t.Errorf("Store = %T, want *gallery.FileStore", rt.Store)
	}
	if rt.Recognizer.IsLoaded() {
		t.Error("models should load lazily")
	}

	s := rt.NewSession("alice", nil)
	if s.Phase() != PhaseIdle || s.ID == "" {
		t.Errorf("new session = %s %q", s.Phase(), s.ID)
	}

	if err := rt.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewRuntime_BadNotifyMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.EncryptionEnabled = false
	cfg.Notify.Mode = "pager"

	if _, err := NewRuntime(cfg); err == nil {
		t.Error("expected error for unknown notify mode")
	}
}
