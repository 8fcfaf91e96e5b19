package recorder

import "github.com/e7canasta/orion-proto-recorder/internal/frame"

// EngineState is the coarse state an engine reports about itself.
type EngineState int

const (
	// EngineIdle means the engine holds no resources and is ready to start
	EngineIdle EngineState = iota
	// EnginePreparing means the engine is negotiating/buffering but not yet
	// producing output
	EnginePreparing
	// EngineActive means the engine is producing output
	EngineActive
)

// String returns a human-readable representation of the engine state.
func (e EngineState) String() string {
	switch e {
	case EngineIdle:
		return "idle"
	case EnginePreparing:
		return "preparing"
	case EngineActive:
		return "active"
	default:
		return "unknown"
	}
}

// Engine is the contract between a capture stream and the mechanism that
// actually produces media (a GStreamer pipeline in production, a scripted
// fake in tests).
//
// Implementations must guarantee:
//   - Start() returns quickly; reaching the active state may happen
//     asynchronously and is observed through State()
//   - Start() leaves the engine idle when it returns an error
//   - Stop() initiates an orderly end of the output (flush, finalize
//     container) and eventual teardown; reaching idle is observed through
//     State()
//   - State() is thread-safe and cheap (callers poll it)
type Engine interface {
	// Start makes the engine write its output to outputPath and begin
	// moving towards the active state.
	Start(outputPath string) error

	// Stop signals end of stream and tears the engine down. The engine
	// reports EngineIdle from State() once teardown completed.
	Stop() error

	// State reports the engine's current coarse state.
	State() EngineState
}

// FrameEmitter is implemented by engines that can hand decoded frames to a
// consumer. The callback runs on the engine's own thread and must not block;
// it is expected to do no more than publish into a frame slot.
type FrameEmitter interface {
	// OnFrame registers fn to be invoked for every decoded frame. Must be
	// called before Start.
	OnFrame(fn func(frame.Frame))
}

// EngineFactory builds an engine for one configured stream. Used by the
// manager at construction time.
type EngineFactory func(cfg StreamConfig) (Engine, error)
