// Package store provides the string-keyed blob store that cache and
// enrichment state is persisted into. Each component serializes its entire
// state as one JSON blob under its own key, so the store needs nothing
// beyond point get/set.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// Store is a string-keyed blob store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Keys used by the daemon's components. Writers to different keys are
// independent; a single key only ever has one serialized writer.
const (
	KeyAssetCache    = "stashd:assets"
	KeyHistoryPrefix = "stashd:history:" // + source name
)
