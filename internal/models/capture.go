package models

import "time"

// CaptureCandidate is a locally observed item (clipboard text, browser
// selection, dropped file) pending optional enrichment before it becomes a
// full asset. Identity is the Key, a source-specific dedup key derived from
// the payload (e.g. normalized URL, content hash).
type CaptureCandidate struct {
	Key        string    `json:"key"`
	Payload    string    `json:"payload"`
	Source     string    `json:"source"` // "clipboard", "browser", "dropdir", ...
	CapturedAt time.Time `json:"captured_at"`

	// Enrichment output. Enriched stays false until the background loop has
	// successfully annotated the candidate; after that the pipeline never
	// touches it again.
	Enriched       bool         `json:"enriched"`
	Classification string       `json:"classification,omitempty"`
	Name           string       `json:"name,omitempty"`
	Tags           []TagRef     `json:"tags,omitempty"`
	Websites       []WebsiteRef `json:"websites,omitempty"`
	Annotations    []Annotation `json:"annotations,omitempty"`
}

// ApplyMetadata merges enrichment output into the candidate in place.
func (c *CaptureCandidate) ApplyMetadata(meta *DerivedMetadata) {
	if meta == nil {
		return
	}
	c.Classification = meta.Classification
	c.Name = meta.Name
	c.Tags = meta.Tags
	c.Websites = meta.Websites
	c.Annotations = meta.Annotations
	c.Enriched = true
}
