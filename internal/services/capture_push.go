package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"stashd/internal/models"
)

// pushBufferSize bounds how many pushed candidates are retained between
// history updates.
const pushBufferSize = 50

// PushSource is a capture source fed over HTTP: browser extensions and other
// local tools POST their observations, and the next history update folds
// them in. Pushes default their dedup key to a payload hash.
type PushSource struct {
	mu     sync.Mutex
	name   string
	buffer []models.CaptureCandidate
}

// NewPushSource creates a push-fed source with the given name ("browser",
// "clipboard", ...).
func NewPushSource(name string) *PushSource {
	return &PushSource{name: name}
}

func (p *PushSource) Name() string { return p.name }

// Add prepends pushed candidates to the retained buffer, newest first, and
// returns how many were accepted. Empty payloads are dropped.
func (p *PushSource) Add(items ...models.CaptureCandidate) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	accepted := 0
	for i := len(items) - 1; i >= 0; i-- { // preserve newest-first on prepend
		item := items[i]
		if item.Payload == "" {
			continue
		}
		if item.Key == "" {
			sum := sha256.Sum256([]byte(item.Payload))
			item.Key = p.name + ":" + hex.EncodeToString(sum[:16])
		}
		if item.Source == "" {
			item.Source = p.name
		}
		if item.CapturedAt.IsZero() {
			item.CapturedAt = time.Now()
		}
		p.buffer = append([]models.CaptureCandidate{item}, p.buffer...)
		accepted++
	}

	if len(p.buffer) > pushBufferSize {
		p.buffer = p.buffer[:pushBufferSize]
	}
	return accepted
}

// FetchItems returns the currently-retained candidates, newest first.
func (p *PushSource) FetchItems(ctx context.Context) ([]models.CaptureCandidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.CaptureCandidate, len(p.buffer))
	copy(out, p.buffer)
	return out, nil
}
