package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"stashd/internal/models"
)

const (
	// watchedFileMaxBytes caps how much of a dropped file becomes a payload.
	watchedFileMaxBytes = 256 * 1024
	// watchedBufferSize bounds how many observed files the source retains
	// between history updates.
	watchedBufferSize = 50
)

// WatchedDirSource observes a drop directory: files created or modified in
// it become capture candidates. The dedup key is a hash of path and content,
// so rewriting a file produces a new candidate while a pure re-poll does not.
//
// FetchItems returns the retained buffer newest first. An OnChange callback,
// if set, fires on every filesystem event so the owning pipeline can refresh
// without waiting for the next poll.
type WatchedDirSource struct {
	dir     string
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	buffer []models.CaptureCandidate

	// OnChange is invoked (on the watcher goroutine) after a file event has
	// been folded into the buffer. Set before calling Start.
	OnChange func()

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatchedDirSource creates a source for dir. The directory must exist.
func NewWatchedDirSource(dir string) (*WatchedDirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("drop directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("drop directory %s is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &WatchedDirSource{
		dir:      dir,
		watcher:  watcher,
		stopChan: make(chan struct{}),
	}, nil
}

func (w *WatchedDirSource) Name() string { return "dropdir" }

// Start begins watching. Existing files are folded in first so a restart
// does not miss files dropped while the daemon was down.
func (w *WatchedDirSource) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.scanExisting()

	w.wg.Add(1)
	go w.eventLoop()
	log.Printf("✅ [DROPDIR] Watching %s", w.dir)
	return nil
}

// Close stops the watcher goroutine.
func (w *WatchedDirSource) Close() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// FetchItems returns the currently-retained candidates, newest first.
func (w *WatchedDirSource) FetchItems(ctx context.Context) ([]models.CaptureCandidate, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.CaptureCandidate, len(w.buffer))
	copy(out, w.buffer)
	return out, nil
}

func (w *WatchedDirSource) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("⚠️  [DROPDIR] Initial scan failed: %v", err)
		return
	}
	// Oldest first so the newest file ends up at the front of the buffer.
	sort.Slice(entries, func(i, j int) bool {
		ii, ei := entries[i].Info()
		ij, ej := entries[j].Info()
		if ei != nil || ej != nil {
			return false
		}
		return ii.ModTime().Before(ij.ModTime())
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.ingest(filepath.Join(w.dir, entry.Name()))
	}
}

func (w *WatchedDirSource) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if w.ingest(event.Name) && w.OnChange != nil {
				w.OnChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  [DROPDIR] Watcher error: %v", err)
		}
	}
}

// ingest reads path and prepends it to the buffer. Returns true if a new
// candidate was added.
func (w *WatchedDirSource) ingest(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 || info.Size() > watchedFileMaxBytes {
		return false
	}
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("⚠️  [DROPDIR] Failed to read %s: %v", path, err)
		return false
	}

	sum := sha256.Sum256(append([]byte(path+"\x00"), data...))
	key := "file:" + hex.EncodeToString(sum[:16])

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, c := range w.buffer {
		if c.Key == key {
			return false
		}
	}

	w.buffer = append([]models.CaptureCandidate{{
		Key:        key,
		Payload:    string(data),
		Source:     w.Name(),
		CapturedAt: time.Now(),
	}}, w.buffer...)
	if len(w.buffer) > watchedBufferSize {
		w.buffer = w.buffer[:watchedBufferSize]
	}
	return true
}
