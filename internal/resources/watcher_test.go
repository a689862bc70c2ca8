package resources_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/setpass/internal/resources"
)

func TestWatchDir_CallsBackOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	reloaded := make(chan struct{}, 8)
	w, err := resources.WatchDir(dir, 10*time.Millisecond, func() {
		reloaded <- struct{}{}
	})
	if err != nil {
		t.Fatalf("WatchDir failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	// a write in the directory triggers one reload
	if err := os.WriteFile(filepath.Join(dir, "page.html"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not called")
	}
}

func TestWatchDir_MissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := resources.WatchDir(filepath.Join(t.TempDir(), "missing"), time.Millisecond, func() {})
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestWatcher_CloseTwice(t *testing.T) {
	t.Parallel()

	w, err := resources.WatchDir(t.TempDir(), time.Millisecond, func() {})
	if err != nil {
		t.Fatalf("WatchDir failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
