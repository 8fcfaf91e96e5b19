package frame

import "sync"

// Slot is a single-frame mailbox with overwrite semantics.
//
// One producer (the engine callback) publishes, any number of readers peek.
// Publish unconditionally replaces the held frame; Read returns the latest
// frame without consuming it.
//
// Thread-safety:
//   - All fields protected by mu
//   - Publish never blocks beyond the slot's own mutex, so a slow or absent
//     reader cannot stall the producer
type Slot struct {
	mu    sync.Mutex
	frame *Frame // nil = empty (never published, or cleared)
	read  bool   // current frame was read at least once

	published   uint64 // lifetime publish count
	overwritten uint64 // frames replaced before any read
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Publish stores f as the latest frame, replacing any previous one.
func (s *Slot) Publish(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Previous frame never read: count it as overwritten
	if s.frame != nil && !s.read {
		s.overwritten++
	}

	s.frame = &f
	s.read = false
	s.published++
}

// Read returns the latest frame without consuming it. The second return
// value is false when the slot is empty.
func (s *Slot) Read() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil {
		return Frame{}, false
	}

	s.read = true
	return *s.frame, true
}

// Clear empties the slot. Reads report no frame until the next publish.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame = nil
	s.read = false
}

// Stats returns lifetime slot counters.
func (s *Slot) Stats() SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SlotStats{
		Published:   s.published,
		Overwritten: s.overwritten,
	}
}

// SlotStats contains slot counters for observability.
type SlotStats struct {
	// Published is the lifetime number of frames published
	Published uint64
	// Overwritten is the number of frames replaced before being read
	Overwritten uint64
}
