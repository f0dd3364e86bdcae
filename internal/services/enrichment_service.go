package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"stashd/internal/broadcast"
	"stashd/internal/models"
	"stashd/internal/store"
)

// maxCaptureHistory bounds each source's history list. Older captures fall
// off the back; a queued capture that ages out before enrichment is dropped
// without ever being enriched.
const maxCaptureHistory = 30

// CaptureSource supplies the currently-observable capture candidates for one
// source (clipboard, browser, drop directory). Implementations must not
// panic; failures are reported through the error return.
type CaptureSource interface {
	Name() string
	FetchItems(ctx context.Context) ([]models.CaptureCandidate, error)
}

// Drafter derives metadata for a raw capture payload. A nil result with a
// nil error means the enrichment backend is unavailable right now.
type Drafter interface {
	Draft(ctx context.Context, payload string) (*models.DerivedMetadata, error)
}

// DedupKeyFunc derives the dedup key for a candidate when its source did not
// set one (e.g. normalized URL, hash of the payload fields).
type DedupKeyFunc func(models.CaptureCandidate) string

// EnrichmentService maintains one capture source's bounded, most-recent-first
// history, deduplicated by key, and annotates new entries asynchronously.
//
// The draft queue holds physical positions into the history list. Whenever
// the list grows at the front or is trimmed at the back, every queued
// position (including the one currently being drafted) is shifted by the
// same delta; positions trimmed out of bounds are dropped. Enrichment runs
// one item at a time; a draft failure re-queues the item at the front and
// pauses the loop until the next UpdateHistory call.
type EnrichmentService struct {
	mu      sync.Mutex
	history []models.CaptureCandidate // newest first
	queue   []int                     // positions awaiting enrichment

	// Position of the item whose draft call is in flight, so concurrent
	// history mutations can renumber it like any queued position.
	inflight      int
	inflightValid bool

	looping bool

	source  CaptureSource
	drafter Drafter
	keyFn   DedupKeyFunc

	store    store.Store
	storeKey string
	bus      *broadcast.Broadcaster[[]models.CaptureCandidate]

	wg sync.WaitGroup
}

type enrichmentState struct {
	History []models.CaptureCandidate `json:"history"`
	Queue   []int                     `json:"queue"`
}

// NewEnrichmentService creates the pipeline for one capture source, restores
// its persisted history, and publishes the restored snapshot once. The
// enrichment loop stays idle until the first UpdateHistory call.
func NewEnrichmentService(source CaptureSource, drafter Drafter, keyFn DedupKeyFunc,
	st store.Store, bus *broadcast.Broadcaster[[]models.CaptureCandidate]) *EnrichmentService {

	s := &EnrichmentService{
		source:   source,
		drafter:  drafter,
		keyFn:    keyFn,
		store:    st,
		storeKey: store.KeyHistoryPrefix + source.Name(),
		bus:      bus,
	}

	s.load()
	s.publish()
	return s
}

func (s *EnrichmentService) load() {
	raw, err := s.store.Get(context.Background(), s.storeKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("⚠️  [ENRICH:%s] Failed to load history: %v (starting empty)", s.source.Name(), err)
		}
		return
	}

	var state enrichmentState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		log.Printf("⚠️  [ENRICH:%s] Corrupt history snapshot: %v (starting empty)", s.source.Name(), err)
		return
	}

	s.history = state.History
	s.queue = state.Queue
	log.Printf("✅ [ENRICH:%s] Restored %d captures (%d awaiting enrichment)",
		s.source.Name(), len(s.history), len(s.queue))
}

// History returns the most recent limit captures, newest first. limit <= 0
// means all.
func (s *EnrichmentService) History(limit int) []models.CaptureCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(limit)
}

func (s *EnrichmentService) snapshotLocked(limit int) []models.CaptureCandidate {
	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.CaptureCandidate, n)
	copy(out, s.history[:n])
	return out
}

// QueueLen returns the number of positions awaiting enrichment.
func (s *EnrichmentService) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.inflightValid {
		n++
	}
	return n
}

// Wait blocks until the enrichment loop has gone idle. Intended for tests
// and shutdown.
func (s *EnrichmentService) Wait() {
	s.wg.Wait()
}

// UpdateHistory pulls the source's current candidates, inserts unseen ones
// at the front of history, queues them for enrichment, trims the history to
// its bound, persists, publishes a snapshot, and (re)starts the enrichment
// loop. This is also the call that resumes a loop paused by a draft failure.
func (s *EnrichmentService) UpdateHistory(ctx context.Context) {
	items, err := s.source.FetchItems(ctx)
	if err != nil {
		log.Printf("⚠️  [ENRICH:%s] fetchItems failed: %v", s.source.Name(), err)
		items = nil
	}

	s.mu.Lock()

	seen := make(map[string]struct{}, len(s.history))
	for _, c := range s.history {
		seen[c.Key] = struct{}{}
	}

	var fresh []models.CaptureCandidate
	for _, item := range items {
		if item.Key == "" && s.keyFn != nil {
			item.Key = s.keyFn(item)
		}
		if item.Key == "" {
			continue
		}
		if _, dup := seen[item.Key]; dup {
			continue
		}
		seen[item.Key] = struct{}{}
		if item.Source == "" {
			item.Source = s.source.Name()
		}
		fresh = append(fresh, item)
	}

	if delta := len(fresh); delta > 0 {
		// Front-insert shifts every existing position, queued or in flight,
		// by the insert count.
		s.history = append(fresh, s.history...)
		for i := range s.queue {
			s.queue[i] += delta
		}
		if s.inflightValid {
			s.inflight += delta
		}
		// The new items occupy positions 0..delta-1, newest first.
		for pos := 0; pos < delta; pos++ {
			s.queue = append(s.queue, pos)
		}
	}

	s.trimLocked()
	s.persistLocked()
	start := len(s.queue) > 0 && !s.looping
	if start {
		s.looping = true
		s.wg.Add(1)
	}
	s.mu.Unlock()

	s.publish()
	if start {
		go s.enrichLoop(context.WithoutCancel(ctx))
	}
}

// trimLocked bounds the history and drops queue positions that fell off.
func (s *EnrichmentService) trimLocked() {
	if len(s.history) <= maxCaptureHistory {
		return
	}
	dropped := len(s.history) - maxCaptureHistory
	s.history = s.history[:maxCaptureHistory]

	kept := s.queue[:0]
	for _, pos := range s.queue {
		if pos < maxCaptureHistory {
			kept = append(kept, pos)
		}
	}
	s.queue = kept

	if s.inflightValid && s.inflight >= maxCaptureHistory {
		// The item being drafted aged out; its result will be discarded.
		s.inflightValid = false
	}

	log.Printf("🧹 [ENRICH:%s] Trimmed %d captures from history", s.source.Name(), dropped)
}

// enrichLoop drafts queued captures one at a time. A nil or failed draft
// re-queues the position at the front and stops the loop; the next
// UpdateHistory restarts it.
func (s *EnrichmentService) enrichLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.looping = false
			s.mu.Unlock()
			return
		}

		pos := s.queue[0]
		s.queue = s.queue[1:]

		if pos < 0 || pos >= len(s.history) {
			s.mu.Unlock()
			continue
		}
		if s.history[pos].Enriched {
			// Defensive: already annotated, nothing to draft.
			s.mu.Unlock()
			continue
		}

		payload := s.history[pos].Payload
		s.inflight = pos
		s.inflightValid = true
		s.mu.Unlock()

		meta, err := s.drafter.Draft(ctx, payload)

		s.mu.Lock()
		pos, valid := s.inflight, s.inflightValid
		s.inflightValid = false

		if err != nil || meta == nil {
			if valid {
				// Put the item back where it was and pause until the next
				// UpdateHistory call.
				s.queue = append([]int{pos}, s.queue...)
			}
			s.looping = false
			s.mu.Unlock()
			if m := GetMetrics(); m != nil {
				m.RecordDraftError()
			}
			if err != nil {
				log.Printf("⚠️  [ENRICH:%s] Draft failed, pausing: %v", s.source.Name(), err)
			} else {
				log.Printf("⏸️  [ENRICH:%s] Draft backend unavailable, pausing", s.source.Name())
			}
			return
		}

		if !valid || pos >= len(s.history) {
			// Trimmed out while drafting; drop the result.
			s.mu.Unlock()
			continue
		}

		s.history[pos].ApplyMetadata(meta)
		s.persistLocked()
		s.mu.Unlock()

		s.publish()
	}
}

func (s *EnrichmentService) persistLocked() {
	state := enrichmentState{History: s.history, Queue: s.queue}
	raw, err := json.Marshal(state)
	if err != nil {
		log.Printf("❌ [ENRICH:%s] Failed to serialize history: %v", s.source.Name(), err)
		return
	}
	if err := s.store.Set(context.Background(), s.storeKey, string(raw)); err != nil {
		log.Printf("❌ [ENRICH:%s] Failed to persist history: %v", s.source.Name(), err)
	}
}

func (s *EnrichmentService) publish() {
	if err := s.bus.Publish(s.History(0)); err != nil {
		log.Printf("⚠️  [ENRICH:%s] Snapshot publish failed: %v", s.source.Name(), err)
	}
}
