package models

import "time"

// Asset represents a remotely-sourced content item mirrored into the local cache.
// Assets are owned by the asset cache; everything handed to consumers is a
// value copy and must be treated as read-only.
type Asset struct {
	ID             string       `json:"id"`
	Content        string       `json:"content"`
	Classification string       `json:"classification,omitempty"` // e.g. "code/go", "text/url"
	Name           string       `json:"name,omitempty"`
	Tags           []TagRef     `json:"tags,omitempty"`
	Websites       []WebsiteRef `json:"websites,omitempty"`
	Annotations    []Annotation `json:"annotations,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TagRef is a reference to a tag attached to an asset or capture.
type TagRef struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// WebsiteRef is a link related to an asset or capture.
type WebsiteRef struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

// Annotation is a free-form note attached to an asset or capture.
type Annotation struct {
	Text string `json:"text"`
	Kind string `json:"kind"` // "description", "comment", ...
}

// DerivedMetadata is the result of enriching a capture candidate.
// A nil DerivedMetadata from a drafter means "backend unavailable, try later".
type DerivedMetadata struct {
	Classification string       `json:"classification,omitempty"`
	Name           string       `json:"name,omitempty"`
	Tags           []TagRef     `json:"tags,omitempty"`
	Websites       []WebsiteRef `json:"websites,omitempty"`
	Annotations    []Annotation `json:"annotations,omitempty"`
}
