package services

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"stashd/internal/models"
)

func TestWatchedDirSource_PicksUpDroppedFiles(t *testing.T) {
	dir := t.TempDir()

	src, err := NewWatchedDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	var changes atomic.Int32
	src.OnChange = func() { changes.Add(1) }
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { src.Close() })

	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("dropped content"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		items, _ := src.FetchItems(context.Background())
		return len(items) == 1
	})

	items, _ := src.FetchItems(context.Background())
	if items[0].Payload != "dropped content" {
		t.Errorf("payload = %q", items[0].Payload)
	}
	if items[0].Source != "dropdir" || items[0].Key == "" {
		t.Errorf("candidate = %+v", items[0])
	}
	if changes.Load() == 0 {
		t.Error("OnChange never fired")
	}
}

func TestWatchedDirSource_ScansExistingOnStart(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pre.txt"), []byte("already here"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Hidden files are ignored.
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewWatchedDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { src.Close() })

	items, _ := src.FetchItems(context.Background())
	if len(items) != 1 || items[0].Payload != "already here" {
		t.Errorf("items = %+v, want the one pre-existing visible file", items)
	}
}

func TestWatchedDirSource_RewriteProducesNewCandidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")

	src, err := NewWatchedDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { src.Close() })

	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		items, _ := src.FetchItems(context.Background())
		return len(items) == 1
	})

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		items, _ := src.FetchItems(context.Background())
		return len(items) == 2
	})

	items, _ := src.FetchItems(context.Background())
	if items[0].Payload != "v2" {
		t.Errorf("newest payload = %q, want v2", items[0].Payload)
	}
}

func TestPushSource_DefaultsAndBuffering(t *testing.T) {
	p := NewPushSource("browser")

	n := p.Add(
		models.CaptureCandidate{Payload: "newest"},
		models.CaptureCandidate{Payload: "oldest"},
		models.CaptureCandidate{Payload: ""}, // dropped
	)
	if n != 2 {
		t.Fatalf("accepted = %d, want 2", n)
	}

	items, _ := p.FetchItems(context.Background())
	if len(items) != 2 || items[0].Payload != "newest" {
		t.Fatalf("items = %+v", items)
	}
	for _, c := range items {
		if c.Key == "" || c.Source != "browser" || c.CapturedAt.IsZero() {
			t.Errorf("defaults not applied: %+v", c)
		}
	}

	// Same payload hashes to the same key; the pipeline dedups on it.
	p.Add(models.CaptureCandidate{Payload: "newest"})
	items, _ = p.FetchItems(context.Background())
	if len(items) != 3 || items[0].Key != items[1].Key {
		t.Error("identical payloads should share a dedup key")
	}
}
