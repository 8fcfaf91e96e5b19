// Package recorder coordinates a fleet of capture streams so they start and
// stop as one synchronized recording session.
package recorder

import "time"

// State is the lifecycle state of a capture stream.
type State int

const (
	// StateIdle means the stream holds no engine resources
	StateIdle State = iota
	// StateStarting means the engine was told to start but is not yet active
	StateStarting
	// StateRecording means the engine is actively writing output
	StateRecording
	// StateStopping means end of stream was signalled but teardown has not
	// finished
	StateStopping
)

// String returns a human-readable representation of the stream state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Status is the outcome of a manager-level operation. Repeated starts and
// stops are reported through statuses, never through errors.
type Status string

const (
	// StatusStarted means a new recording session began
	StatusStarted Status = "recording started"
	// StatusAlreadyRecording means a session was already in progress
	StatusAlreadyRecording Status = "already recording"
	// StatusStopped means the active session ended
	StatusStopped Status = "recording stopped"
	// StatusAlreadyStopped means no session was in progress
	StatusAlreadyStopped Status = "already stopped"
)

// StreamKind identifies the sensor family a stream captures.
type StreamKind string

const (
	// KindColor is a visible-light camera producing RGB frames
	KindColor StreamKind = "color"
	// KindThermal is a radiometric camera producing 16-bit gray frames
	KindThermal StreamKind = "thermal"
)

// SourceConfig names the capture source and its backend-specific properties.
// The recorder passes it through to the engine uninterpreted.
type SourceConfig struct {
	// Element is the source element the engine instantiates (e.g., "v4l2src")
	Element string
	// Properties are applied to the source element as-is
	Properties map[string]any
}

// StreamConfig describes one capture stream of the fleet.
type StreamConfig struct {
	// Name is the unique stream name; also the base of its output file name
	Name string
	// Kind selects the pipeline family (color, thermal)
	Kind StreamKind
	// Source is the backend-specific capture source, opaque to the recorder
	Source SourceConfig
	// Format is the output file extension including the dot (e.g., ".avi")
	Format string
	// FPS is the capture rate requested from the source
	FPS int
	// Preview marks this stream as the live preview source. Only valid on
	// color streams, and at most one stream of the fleet.
	Preview bool
}

// Session describes one active recording session.
type Session struct {
	// ID uniquely identifies the session
	ID string
	// StartedAt is when all streams were confirmed recording
	StartedAt time.Time
	// Dir is the directory all streams write into
	Dir string
}

// SessionState is a point-in-time snapshot of the manager, shaped for state
// queries. Duration is recomputed on every call, never cached.
type SessionState struct {
	Recording bool    `json:"recording"`
	SessionID string  `json:"session_id,omitempty"`
	Duration  float64 `json:"duration_seconds"`
	Dir       string  `json:"directory,omitempty"`

	StartedAt time.Time `json:"started_at,omitempty"`
}

// StreamStatus is a point-in-time snapshot of one stream.
type StreamStatus struct {
	Name            string     `json:"name"`
	Kind            StreamKind `json:"kind"`
	State           string     `json:"state"`
	FramesPublished uint64     `json:"frames_published"`
}

// sessionDirLayout names session directories after their start wall time.
const sessionDirLayout = "2006-01-02-15-04-05"
