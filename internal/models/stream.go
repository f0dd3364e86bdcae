package models

import "encoding/json"

// ChangeEvent is a single change record from the remote asset feed.
type ChangeEvent struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted,omitempty"`
}

// StreamFrame is one inbound message on the asset feed. The first frame after
// a (re)connect carries the authoritative live-id set in Assets; every
// subsequent frame carries a single change record.
type StreamFrame struct {
	Assets []string `json:"assets,omitempty"`
	ChangeEvent
}

// DecodeStreamFrame parses a raw feed message.
func DecodeStreamFrame(data []byte) (*StreamFrame, error) {
	var frame StreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// IsLiveSet reports whether the frame is a live-id-set frame rather than a
// change record.
func (f *StreamFrame) IsLiveSet() bool {
	return f.Assets != nil
}
