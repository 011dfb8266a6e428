package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(`
hosts:
  - name: web1
    address: 10.0.0.5
`), 0o644); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan []HostCollection, 4)
	w, err := NewWatcher(path, func(hc []HostCollection) { reloads <- hc }, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(w.Stop)

	select {
	case initial := <-reloads:
		if len(initial) != 1 {
			t.Fatalf("expected 1 host initially, got %d", len(initial))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial load callback")
	}

	if err := os.WriteFile(path, []byte(`
hosts:
  - name: web1
    address: 10.0.0.5
  - name: web2
    address: 10.0.0.6
`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case updated := <-reloads:
		if len(updated) != 2 {
			t.Fatalf("expected 2 hosts after reload, got %d", len(updated))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload after write")
	}
}

func TestWatcherKeepsPreviousConfigOnMalformedReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(`
hosts:
  - name: web1
    address: 10.0.0.5
`), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, nil, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := os.WriteFile(path, []byte("not: [valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	current := w.Current()
	if len(current) != 1 || current[0].Host.Name != "web1" {
		t.Fatalf("expected previous configuration retained, got %#v", current)
	}
}
