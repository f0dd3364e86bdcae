package services

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"stashd/internal/models"
)

// fetchBatchSize is how many ids one fetch round works on.
const fetchBatchSize = 5

// AssetFetcher retrieves a single asset from the remote source of truth.
// Implementations must be safe to call concurrently for distinct ids.
type AssetFetcher interface {
	Fetch(ctx context.Context, id string) (models.Asset, error)
}

// FetchQueue reconciles remote change events into the asset cache. Ids are
// deduplicated while they wait: pushing an id that is already pending is a
// no-op. Exactly one fetch loop runs at a time; ids arriving while a loop is
// active are merged into a later batch instead of spawning a second loop.
//
// An id is removed from the dedup set when its batch is popped, before the
// fetch completes. A change event arriving for an in-flight id therefore
// re-queues it, trading a redundant fetch for never missing an update.
type FetchQueue struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	pending  []string
	running  bool

	cache   *AssetCache
	fetcher AssetFetcher

	fetchTimeout time.Duration
	maxRetries   int
	retryBase    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFetchQueue creates an idle queue feeding the given cache.
func NewFetchQueue(cache *AssetCache, fetcher AssetFetcher) *FetchQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &FetchQueue{
		inflight:     make(map[string]struct{}),
		cache:        cache,
		fetcher:      fetcher,
		fetchTimeout: 15 * time.Second,
		maxRetries:   3,
		retryBase:    200 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Push enqueues ids for fetching, skipping ids already waiting, and starts
// the fetch loop if it is not running. Starting an already-running loop is a
// no-op.
func (q *FetchQueue) Push(ids ...string) {
	q.mu.Lock()

	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := q.inflight[id]; dup {
			continue
		}
		q.inflight[id] = struct{}{}
		q.pending = append(q.pending, id)
		added++
	}

	start := added > 0 && !q.running
	if start {
		q.running = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if start {
		go q.loop()
	}
}

// PendingCount returns the number of ids waiting to be fetched.
func (q *FetchQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Wait blocks until the fetch loop has drained and gone idle. Intended for
// shutdown and tests.
func (q *FetchQueue) Wait() {
	q.wg.Wait()
}

// Stop cancels in-flight fetches and waits for the loop to exit.
func (q *FetchQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// loop drains the pending queue in batches until it is empty, then marks the
// queue idle and exits.
func (q *FetchQueue) loop() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.ctx.Err() != nil {
			q.running = false
			q.mu.Unlock()
			return
		}

		n := len(q.pending)
		if n > fetchBatchSize {
			n = fetchBatchSize
		}
		batch := make([]string, n)
		copy(batch, q.pending[:n])
		q.pending = q.pending[n:]

		// Off the dedup set before fetching: an update event for an id in
		// this batch must be able to re-queue it.
		for _, id := range batch {
			delete(q.inflight, id)
		}
		q.mu.Unlock()

		results := q.fetchBatch(batch)
		if len(results) > 0 {
			q.cache.UpsertMany(results)
		}
	}
}

// fetchBatch fans the batch out to concurrent fetches and joins them. A
// failing id is retried with jittered backoff and, once retries are
// exhausted, dropped with a log line; it never aborts the rest of the batch.
func (q *FetchQueue) fetchBatch(ids []string) []models.Asset {
	var (
		mu      sync.Mutex
		results []models.Asset
		wg      sync.WaitGroup
	)

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			start := time.Now()
			asset, err := q.fetchWithRetry(id)
			if m := GetMetrics(); m != nil {
				outcome := "ok"
				if err != nil {
					outcome = "error"
				}
				m.RecordAssetFetch(outcome, time.Since(start).Seconds())
			}
			if err != nil {
				log.Printf("❌ [FETCH-QUEUE] Giving up on asset %s: %v", id, err)
				return
			}
			mu.Lock()
			results = append(results, asset)
			mu.Unlock()
		}(id)
	}

	wg.Wait()
	return results
}

func (q *FetchQueue) fetchWithRetry(id string) (models.Asset, error) {
	var lastErr error

	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := q.retryBase << (attempt - 1)
			jitter := time.Duration(rand.Int63n(int64(q.retryBase)))
			select {
			case <-time.After(backoff + jitter):
			case <-q.ctx.Done():
				return models.Asset{}, q.ctx.Err()
			}
			log.Printf("🔄 [FETCH-QUEUE] Retrying asset %s (attempt %d/%d)", id, attempt, q.maxRetries)
		}

		ctx, cancel := context.WithTimeout(q.ctx, q.fetchTimeout)
		asset, err := q.fetcher.Fetch(ctx, id)
		cancel()

		if err == nil {
			return asset, nil
		}
		lastErr = err

		if q.ctx.Err() != nil {
			return models.Asset{}, q.ctx.Err()
		}
	}

	return models.Asset{}, lastErr
}
