// Package frame defines the video frame value type shared between capture
// engines and consumers, plus the single-slot holder backing the live
// preview.
package frame

import "time"

// Frame represents a single decoded video frame with metadata.
//
// Data is owned by the producing engine until the frame is published. After
// publication the frame is immutable: consumers may read Data but must never
// modify it.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the producer
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains interleaved RGB pixel data (Width*Height*3 bytes)
	Data []byte
	// SourceStream identifies the producing stream (e.g., "color")
	SourceStream string
}
