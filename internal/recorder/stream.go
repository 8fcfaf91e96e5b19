package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-proto-recorder/internal/frame"
)

// CaptureStream wraps one engine in the shared lifecycle state machine
//
//	idle -> starting -> recording -> stopping -> idle
//
// Run and Stop record intent and tell the engine; the starting->recording
// and stopping->idle edges advance when the engine is observed in its new
// state (IsRecording, IsIdle, State all observe).
//
// Thread-safety: all lifecycle fields are protected by mu. The preview slot
// is deliberately outside mu so the engine callback never contends with
// lifecycle transitions.
type CaptureStream struct {
	// Configuration (immutable after construction)
	name    string
	kind    StreamKind
	format  string
	preview bool

	engine Engine

	// Frame output (preview streams only, nil otherwise)
	slot *frame.Slot

	// Lifecycle
	mu        sync.Mutex
	state     State
	outputDir string

	// Statistics (atomic for thread-safety)
	framesPublished atomic.Uint64
}

// newCaptureStream wires an engine into the lifecycle state machine. When
// cfg marks the stream as preview source, the engine must be able to emit
// frames; they land in the stream's slot.
func newCaptureStream(cfg StreamConfig, eng Engine) (*CaptureStream, error) {
	s := &CaptureStream{
		name:    cfg.Name,
		kind:    cfg.Kind,
		format:  cfg.Format,
		preview: cfg.Preview,
		engine:  eng,
		state:   StateIdle,
		// Placeholder until the first session points the stream somewhere
		outputDir: os.TempDir(),
	}

	if cfg.Preview {
		em, ok := eng.(FrameEmitter)
		if !ok {
			return nil, &ConfigError{
				Reason: fmt.Sprintf("stream %q: engine cannot supply preview frames", cfg.Name),
			}
		}
		s.slot = frame.NewSlot()
		em.OnFrame(func(f frame.Frame) {
			// Engine thread: touch only the slot and atomics, never mu
			s.framesPublished.Add(1)
			s.slot.Publish(f)
		})
	}

	return s, nil
}

// Name returns the stream name.
func (s *CaptureStream) Name() string { return s.name }

// Kind returns the sensor family of the stream.
func (s *CaptureStream) Kind() StreamKind { return s.kind }

// IsPreview reports whether this stream feeds the live preview.
func (s *CaptureStream) IsPreview() bool { return s.preview }

// SetOutputDir points the stream at the directory its next recording writes
// into. Only legal while idle.
func (s *CaptureStream) SetOutputDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()
	if s.state != StateIdle {
		return &InvalidStateError{Stream: s.name, Op: "set output directory", State: s.state}
	}

	s.outputDir = dir
	return nil
}

// Run asks the engine to start recording. Returns true when a start was
// initiated, false when the stream was not idle (no-op).
func (s *CaptureStream) Run() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()
	if s.state != StateIdle {
		return false, nil
	}

	path := filepath.Join(s.outputDir, s.name+s.format)
	if err := s.engine.Start(path); err != nil {
		// Engine contract: a failed Start leaves the engine idle
		return false, fmt.Errorf("recorder: stream %q: %w", s.name, err)
	}

	s.state = StateStarting
	slog.Debug("recorder: stream starting", "stream", s.name, "path", path)
	return true, nil
}

// Stop signals end of stream and starts teardown. Returns true when a stop
// was initiated, false when the stream was already idle or stopping (no-op).
// A non-nil error still means the stop was initiated; the stream ends up in
// the stopping state and readiness polling reports whether it drains.
func (s *CaptureStream) Stop() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()
	if s.state != StateStarting && s.state != StateRecording {
		return false, nil
	}

	err := s.engine.Stop()
	s.state = StateStopping
	slog.Debug("recorder: stream stopping", "stream", s.name)
	if err != nil {
		return true, fmt.Errorf("recorder: stream %q: %w", s.name, err)
	}
	return true, nil
}

// IsRecording reports whether the stream is confirmed recording, advancing
// the starting->recording edge when the engine is observed active.
func (s *CaptureStream) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()
	return s.state == StateRecording
}

// IsIdle reports whether the stream has fully torn down, advancing the
// stopping->idle edge when the engine is observed idle.
func (s *CaptureStream) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()
	return s.state == StateIdle
}

// State returns the current lifecycle state after applying any observed
// engine edges.
func (s *CaptureStream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance()
	return s.state
}

// PreviewFrame returns the latest published frame. The second return value
// is false for non-preview streams and while no frame is held.
func (s *CaptureStream) PreviewFrame() (frame.Frame, bool) {
	if s.slot == nil {
		return frame.Frame{}, false
	}
	return s.slot.Read()
}

// FramesPublished returns the number of frames handed to the preview slot.
func (s *CaptureStream) FramesPublished() uint64 {
	return s.framesPublished.Load()
}

// advance applies engine-observed edges. Caller must hold mu.
func (s *CaptureStream) advance() {
	switch s.state {
	case StateStarting:
		if s.engine.State() == EngineActive {
			s.state = StateRecording
			slog.Debug("recorder: stream recording", "stream", s.name)
		}
	case StateStopping:
		if s.engine.State() == EngineIdle {
			s.state = StateIdle
			// Stale preview frames must not outlive the recording
			if s.slot != nil {
				s.slot.Clear()
			}
			slog.Debug("recorder: stream idle", "stream", s.name)
		}
	}
}
