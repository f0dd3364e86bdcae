package services

import (
	"context"
	"log"
)

// AssetLister retrieves the full live id set from the remote source of
// truth. RemoteClient implements it.
type AssetLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// FallbackReconciler re-syncs the cache against the remote live set while
// the change feed is down. The feed's first frame handles reconciliation on
// every (re)connect; this covers extended outages where no frame arrives:
// stale entries are pruned and ids missing locally are queued for fetching.
// While the feed is connected a run is a no-op.
type FallbackReconciler struct {
	lister AssetLister
	cache  *AssetCache
	queue  *FetchQueue
	state  func() ConnState // nil when no feed is configured; always runs then
}

// NewFallbackReconciler creates a reconciler. state reports the change
// feed's connection state and may be nil for feed-less deployments.
func NewFallbackReconciler(lister AssetLister, cache *AssetCache, queue *FetchQueue, state func() ConnState) *FallbackReconciler {
	return &FallbackReconciler{lister: lister, cache: cache, queue: queue, state: state}
}

// Run performs one reconcile pass. Intended to be driven by the scheduler.
func (r *FallbackReconciler) Run(ctx context.Context) {
	if r.state != nil && r.state() == StateConnected {
		return
	}

	ids, err := r.lister.ListIDs(ctx)
	if err != nil {
		log.Printf("⚠️  [FALLBACK-SYNC] Failed to list remote assets: %v", err)
		return
	}
	if len(ids) == 0 {
		// Same caution as the stream path: an empty live set never wipes
		// the cache.
		log.Printf("⚠️  [FALLBACK-SYNC] Empty remote id set ignored")
		return
	}

	live := make(map[string]struct{}, len(ids))
	var missing []string
	for _, id := range ids {
		live[id] = struct{}{}
		if _, ok := r.cache.Get(id); !ok {
			missing = append(missing, id)
		}
	}

	r.cache.Reconcile(live)
	if len(missing) > 0 {
		r.queue.Push(missing...)
	}
	log.Printf("🔄 [FALLBACK-SYNC] Reconciled against %d remote ids (%d fetched)", len(ids), len(missing))
}
