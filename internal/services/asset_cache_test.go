package services

import (
	"fmt"
	"testing"
	"time"

	"stashd/internal/broadcast"
	"stashd/internal/models"
	"stashd/internal/store"
)

func newTestCache(t *testing.T) (*AssetCache, *store.Memory, *broadcast.Broadcaster[[]models.Asset]) {
	t.Helper()
	st := store.NewMemory()
	bus := broadcast.New[[]models.Asset]("assets-test")
	return NewAssetCache(st, bus), st, bus
}

func asset(id, content string) models.Asset {
	return models.Asset{ID: id, Content: content, UpdatedAt: time.Now()}
}

func TestAssetCache_UpsertAndGet(t *testing.T) {
	cache, _, _ := newTestCache(t)

	cache.UpsertOne(asset("a", "first"), true)
	cache.UpsertOne(asset("b", "second"), true)
	cache.UpsertOne(asset("c", "third"), true)

	for _, id := range []string{"a", "b", "c"} {
		got, ok := cache.Get(id)
		if !ok {
			t.Fatalf("Get(%q) missing", id)
		}
		if got.ID != id {
			t.Errorf("Get(%q).ID = %q", id, got.ID)
		}
	}

	// Newest first.
	list := cache.List(0)
	if len(list) != 3 || list[0].ID != "c" || list[1].ID != "b" || list[2].ID != "a" {
		t.Errorf("List order = %v, want [c b a]", ids(list))
	}
}

func TestAssetCache_UpdateInPlaceKeepsOrder(t *testing.T) {
	cache, _, _ := newTestCache(t)

	cache.UpsertMany([]models.Asset{asset("a", "1"), asset("b", "2"), asset("c", "3")})
	cache.UpsertOne(asset("b", "updated"), true)

	got, ok := cache.Get("b")
	if !ok || got.Content != "updated" {
		t.Fatalf("Get(b) = %+v, %v; want updated content", got, ok)
	}

	list := cache.List(0)
	if list[0].ID != "c" || list[1].ID != "b" || list[2].ID != "a" {
		t.Errorf("update changed order: %v, want [c b a]", ids(list))
	}
}

func TestAssetCache_RemoveShiftsIndex(t *testing.T) {
	cache, _, _ := newTestCache(t)

	cache.UpsertMany([]models.Asset{asset("a", "1"), asset("b", "2"), asset("c", "3"), asset("d", "4")})
	cache.Remove("b")

	if _, ok := cache.Get("b"); ok {
		t.Fatal("Get(b) still present after Remove")
	}

	// Every survivor must still resolve to its own item.
	for _, id := range []string{"a", "c", "d"} {
		got, ok := cache.Get(id)
		if !ok || got.ID != id {
			t.Errorf("after Remove(b): Get(%q) = %+v, %v", id, got, ok)
		}
	}

	list := cache.List(0)
	if len(list) != 3 || list[0].ID != "d" || list[1].ID != "c" || list[2].ID != "a" {
		t.Errorf("List after remove = %v, want [d c a]", ids(list))
	}

	// Removing an absent id is a no-op.
	cache.Remove("b")
	if cache.Len() != 3 {
		t.Errorf("Len after duplicate remove = %d, want 3", cache.Len())
	}
}

func TestAssetCache_IndexInvariantUnderChurn(t *testing.T) {
	cache, _, _ := newTestCache(t)

	// Interleave inserts, updates and deletes, checking the round-trip
	// contract after every operation.
	for i := 0; i < 20; i++ {
		cache.UpsertOne(asset(fmt.Sprintf("id-%d", i), fmt.Sprintf("v%d", i)), true)
		if i%3 == 0 && i > 0 {
			cache.Remove(fmt.Sprintf("id-%d", i-1))
		}
		if i%4 == 0 {
			cache.UpsertOne(asset(fmt.Sprintf("id-%d", i/2), "rewritten"), true)
		}

		for _, a := range cache.List(0) {
			got, ok := cache.Get(a.ID)
			if !ok || got.ID != a.ID || got.Content != a.Content {
				t.Fatalf("step %d: Get(%q) = %+v, %v; want %+v", i, a.ID, got, ok, a)
			}
		}
	}
}

func TestAssetCache_ReconcileScenario(t *testing.T) {
	cache, _, _ := newTestCache(t)

	cache.UpsertMany([]models.Asset{asset("a", "1"), asset("b", "2"), asset("c", "3")})

	cache.Reconcile(map[string]struct{}{"b": {}, "c": {}, "d": {}})
	cache.UpsertOne(asset("d", "4"), true)

	if _, ok := cache.Get("a"); ok {
		t.Error("a should be pruned by reconcile")
	}
	for _, id := range []string{"b", "c", "d"} {
		if _, ok := cache.Get(id); !ok {
			t.Errorf("%q missing after reconcile + upsert", id)
		}
	}
	if cache.Len() != 3 {
		t.Errorf("Len = %d, want 3", cache.Len())
	}
}

func TestAssetCache_ReconcileEmptyLiveSetIgnored(t *testing.T) {
	cache, _, _ := newTestCache(t)

	cache.UpsertMany([]models.Asset{asset("a", "1"), asset("b", "2")})
	cache.Reconcile(map[string]struct{}{})

	if cache.Len() != 2 {
		t.Errorf("empty live set wiped the cache: Len = %d, want 2", cache.Len())
	}
}

func TestAssetCache_EmptyCacheScenario(t *testing.T) {
	cache, _, _ := newTestCache(t)

	// Reconcile on an empty cache is harmless, then upserts and a remove.
	cache.Reconcile(map[string]struct{}{"1": {}, "2": {}})
	cache.UpsertMany([]models.Asset{asset("1", "one")})
	cache.UpsertMany([]models.Asset{asset("2", "two")})
	cache.Remove("1")

	if _, ok := cache.Get("1"); ok {
		t.Error("Get(1) should be NotFound")
	}
	got, ok := cache.Get("2")
	if !ok || got.Content != "two" {
		t.Errorf("Get(2) = %+v, %v", got, ok)
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}
}

func TestAssetCache_BatchPublishesOnce(t *testing.T) {
	st := store.NewMemory()
	bus := broadcast.New[[]models.Asset]("assets-test")

	var publishes int
	bus.Subscribe(func([]models.Asset) { publishes++ })

	cache := NewAssetCache(st, bus)
	if publishes != 1 {
		t.Fatalf("construction published %d times, want 1", publishes)
	}

	cache.UpsertMany([]models.Asset{asset("a", "1"), asset("b", "2"), asset("c", "3")})
	if publishes != 2 {
		t.Errorf("batch upsert published %d extra times, want 1", publishes-1)
	}
}

func TestAssetCache_RestoresFromStore(t *testing.T) {
	st := store.NewMemory()
	bus := broadcast.New[[]models.Asset]("assets-test")

	cache := NewAssetCache(st, bus)
	cache.UpsertMany([]models.Asset{asset("a", "1"), asset("b", "2")})
	cache.Remove("a")

	// A fresh cache over the same store must observe the persisted state and
	// publish it immediately.
	bus2 := broadcast.New[[]models.Asset]("assets-test-2")
	var initial []models.Asset
	bus2.Subscribe(func(s []models.Asset) { initial = s })

	restored := NewAssetCache(st, bus2)
	if restored.Len() != 1 {
		t.Fatalf("restored Len = %d, want 1", restored.Len())
	}
	got, ok := restored.Get("b")
	if !ok || got.Content != "2" {
		t.Errorf("restored Get(b) = %+v, %v", got, ok)
	}
	if len(initial) != 1 || initial[0].ID != "b" {
		t.Errorf("restore publish = %v, want [b]", ids(initial))
	}
}

func ids(assets []models.Asset) []string {
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.ID
	}
	return out
}
