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

// AssetCache is the ordered, indexed local mirror of the remote asset
// collection. It maps asset id to item and keeps an explicit newest-first
// sequence, so consumers get "most recent N" ordering without sorting.
//
// Layout: items[0] is the newest asset. index[id] is the insertion rank
// counted from the oldest end, so items[len(items)-index[id]-1] is id's item.
// Inserting prepends and leaves existing ranks untouched; deleting an item
// decrements every rank above the removed one. The rank arithmetic is load
// bearing: update-in-place and deletion both locate items through it.
//
// Every mutation persists the full cache state to the store before
// returning, and publishes one snapshot per mutating call (one per batch for
// UpsertMany). All mutations are serialized by a single mutex.
type AssetCache struct {
	mu    sync.Mutex
	index map[string]int
	items []models.Asset

	store    store.Store
	storeKey string
	bus      *broadcast.Broadcaster[[]models.Asset]
}

// assetCacheState is the persisted form of the cache.
type assetCacheState struct {
	Index  map[string]int `json:"index"`
	Assets []models.Asset `json:"assets"`
}

// NewAssetCache creates the cache, loads its prior snapshot from the store
// (starting empty if none exists), and publishes the loaded state once so
// subscribers registered before construction see current state.
func NewAssetCache(st store.Store, bus *broadcast.Broadcaster[[]models.Asset]) *AssetCache {
	c := &AssetCache{
		index:    make(map[string]int),
		store:    st,
		storeKey: store.KeyAssetCache,
		bus:      bus,
	}

	c.load()
	c.publish()
	return c
}

// load restores persisted state. Corrupt or missing snapshots start empty.
func (c *AssetCache) load() {
	raw, err := c.store.Get(context.Background(), c.storeKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("⚠️  [ASSET-CACHE] Failed to load snapshot: %v (starting empty)", err)
		}
		return
	}

	var state assetCacheState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		log.Printf("⚠️  [ASSET-CACHE] Corrupt snapshot: %v (starting empty)", err)
		return
	}

	c.index = state.Index
	c.items = state.Assets
	if c.index == nil {
		c.index = make(map[string]int)
	}
	log.Printf("✅ [ASSET-CACHE] Restored %d assets from store", len(c.items))
}

// Get returns the asset for id, if present.
func (c *AssetCache) Get(id string) (models.Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rank, ok := c.index[id]
	if !ok {
		return models.Asset{}, false
	}
	return c.items[len(c.items)-rank-1], true
}

// Len returns the number of cached assets.
func (c *AssetCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// List returns a newest-first copy of the cached assets. limit <= 0 means all.
func (c *AssetCache) List(limit int) []models.Asset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(limit)
}

func (c *AssetCache) snapshotLocked(limit int) []models.Asset {
	n := len(c.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Asset, n)
	copy(out, c.items[:n])
	return out
}

// UpsertOne inserts or updates a single asset. When emit is false the
// snapshot publish is suppressed; UpsertMany uses that to broadcast once per
// batch instead of once per item.
func (c *AssetCache) UpsertOne(asset models.Asset, emit bool) {
	c.mu.Lock()
	c.upsertLocked(asset)
	c.persistLocked()
	c.mu.Unlock()

	if emit {
		c.publish()
	}
}

// UpsertMany inserts or updates a batch of assets, then persists and
// publishes exactly one snapshot.
func (c *AssetCache) UpsertMany(assets []models.Asset) {
	if len(assets) == 0 {
		return
	}

	c.mu.Lock()
	for _, a := range assets {
		c.upsertLocked(a)
	}
	c.persistLocked()
	c.mu.Unlock()

	c.publish()
}

func (c *AssetCache) upsertLocked(asset models.Asset) {
	if asset.ID == "" {
		log.Printf("⚠️  [ASSET-CACHE] Ignoring asset with empty id")
		return
	}

	if rank, ok := c.index[asset.ID]; ok {
		// Update in place, rank unchanged.
		c.items[len(c.items)-rank-1] = asset
		return
	}

	c.index[asset.ID] = len(c.items)
	c.items = append([]models.Asset{asset}, c.items...)
}

// Remove deletes an asset by id. Absent ids are a no-op: deletion events can
// race a reconcile that already pruned the entry.
func (c *AssetCache) Remove(id string) {
	c.mu.Lock()
	if _, ok := c.index[id]; !ok {
		c.mu.Unlock()
		return
	}
	c.removeLocked(id)
	c.persistLocked()
	c.mu.Unlock()

	c.publish()
}

func (c *AssetCache) removeLocked(id string) {
	rank, ok := c.index[id]
	if !ok {
		return
	}

	pos := len(c.items) - rank - 1
	c.items = append(c.items[:pos], c.items[pos+1:]...)
	delete(c.index, id)

	// Every rank above the removed one shifts down so the position formula
	// keeps holding for the survivors.
	for otherID, otherRank := range c.index {
		if otherRank > rank {
			c.index[otherID] = otherRank - 1
		}
	}
}

// Reconcile prunes every cached id absent from liveIDs, using the same
// deletion path as Remove. It runs once per fresh connection to the remote
// feed to purge assets deleted while disconnected. An empty live set is
// treated as a malformed frame and ignored rather than wiping the cache.
func (c *AssetCache) Reconcile(liveIDs map[string]struct{}) {
	if len(liveIDs) == 0 {
		log.Printf("⚠️  [ASSET-CACHE] Reconcile with empty live set ignored")
		return
	}

	c.mu.Lock()
	var stale []string
	for id := range c.index {
		if _, live := liveIDs[id]; !live {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		c.removeLocked(id)
	}
	if len(stale) > 0 {
		c.persistLocked()
	}
	c.mu.Unlock()

	if len(stale) > 0 {
		log.Printf("🧹 [ASSET-CACHE] Reconciled: pruned %d stale assets, %d remain", len(stale), c.Len())
		c.publish()
	}
}

// persistLocked writes the full cache state to the store. A write failure is
// logged and otherwise ignored: in-memory state stays authoritative for the
// rest of the process lifetime.
func (c *AssetCache) persistLocked() {
	state := assetCacheState{Index: c.index, Assets: c.items}
	raw, err := json.Marshal(state)
	if err != nil {
		log.Printf("❌ [ASSET-CACHE] Failed to serialize state: %v", err)
		return
	}
	if err := c.store.Set(context.Background(), c.storeKey, string(raw)); err != nil {
		log.Printf("❌ [ASSET-CACHE] Failed to persist state: %v", err)
	}
}

func (c *AssetCache) publish() {
	if err := c.bus.Publish(c.List(0)); err != nil {
		log.Printf("⚠️  [ASSET-CACHE] Snapshot publish failed: %v", err)
	}
}
