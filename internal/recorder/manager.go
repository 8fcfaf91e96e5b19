package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-proto-recorder/internal/frame"
)

// ManagerConfig bundles what the manager needs at construction time.
type ManagerConfig struct {
	// Root is the directory session directories are created under
	Root string
	// Streams describes the capture fleet
	Streams []StreamConfig
	// Wait controls readiness polling; zero value means defaults
	Wait WaitConfig
}

// Manager owns the capture fleet and starts and stops it as one unit. A
// recording session exists only while every stream of the fleet is
// confirmed recording into the same session directory.
//
// Thread-safety: mu serializes the whole start/stop transition including
// the readiness wait, so concurrent callers observe either the old or the
// new session, never a half-started fleet. Preview frames flow outside mu.
type Manager struct {
	root    string
	wait    WaitConfig
	streams []*CaptureStream
	preview *CaptureStream // stream feeding the live preview (nil when none)

	mu      sync.Mutex
	session *Session // nil when not recording
	lastDir string   // most recent session directory, survives stop
}

// NewManager validates the fleet description, builds an engine per stream
// and returns a manager ready to record. Rejections are *ConfigError.
func NewManager(cfg ManagerConfig, newEngine EngineFactory) (*Manager, error) {
	if cfg.Root == "" {
		return nil, &ConfigError{Reason: "recordings root directory is required"}
	}
	if len(cfg.Streams) == 0 {
		return nil, &ConfigError{Reason: "at least one stream is required"}
	}
	if newEngine == nil {
		return nil, &ConfigError{Reason: "engine factory is required"}
	}

	seen := make(map[string]bool, len(cfg.Streams))
	previews := 0
	for _, sc := range cfg.Streams {
		if sc.Name == "" {
			return nil, &ConfigError{Reason: "stream name is required"}
		}
		if seen[sc.Name] {
			return nil, &ConfigError{Reason: fmt.Sprintf("duplicate stream name %q", sc.Name)}
		}
		seen[sc.Name] = true

		switch sc.Kind {
		case KindColor, KindThermal:
		default:
			return nil, &ConfigError{Reason: fmt.Sprintf("stream %q: unknown kind %q", sc.Name, sc.Kind)}
		}

		if sc.Preview {
			if sc.Kind != KindColor {
				return nil, &ConfigError{Reason: fmt.Sprintf("stream %q: preview requires a color stream", sc.Name)}
			}
			previews++
		}
	}
	if previews > 1 {
		return nil, &ConfigError{Reason: "at most one preview stream is allowed"}
	}

	m := &Manager{
		root: cfg.Root,
		wait: cfg.Wait.withDefaults(),
	}
	for _, sc := range cfg.Streams {
		eng, err := newEngine(sc)
		if err != nil {
			return nil, fmt.Errorf("recorder: create engine for %q: %w", sc.Name, err)
		}
		s, err := newCaptureStream(sc, eng)
		if err != nil {
			return nil, err
		}
		m.streams = append(m.streams, s)
		if s.IsPreview() {
			m.preview = s
		}
	}

	slog.Info("recorder: manager ready", "streams", len(m.streams), "root", m.root)
	return m, nil
}

// StartRecording begins a new session: creates the timestamped session
// directory, points every stream at it, starts the fleet and blocks until
// every stream is confirmed recording.
//
// Idempotent: returns StatusAlreadyRecording without touching the fleet
// when a session is active. On a start fault the fleet is rolled back
// (best effort) and the returned status is empty.
func (m *Manager) StartRecording(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		slog.Info("recorder: start requested while recording", "session", m.session.ID)
		return StatusAlreadyRecording, nil
	}

	dir := filepath.Join(m.root, time.Now().Format(sessionDirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("recorder: create session directory: %w", err)
	}

	for _, s := range m.streams {
		if err := s.SetOutputDir(dir); err != nil {
			return "", err
		}
	}

	for _, s := range m.streams {
		if _, err := s.Run(); err != nil {
			m.abortStart(ctx)
			return "", err
		}
	}

	if err := awaitStreams(ctx, m.streams, "start", (*CaptureStream).IsRecording, m.wait); err != nil {
		m.abortStart(ctx)
		return "", err
	}

	m.session = &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Dir:       dir,
	}
	m.lastDir = dir
	slog.Info("recorder: recording started", "session", m.session.ID, "dir", dir)
	return StatusStarted, nil
}

// StopRecording ends the active session: signals end of stream on every
// stream and blocks until the fleet has torn down.
//
// Idempotent: returns StatusAlreadyStopped when no session is active. The
// session ends even when streams fault; stuck streams stay visible through
// Streams() and are named in the returned error.
func (m *Manager) StopRecording(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		slog.Info("recorder: stop requested while idle")
		return StatusAlreadyStopped, nil
	}

	var errs []error
	for _, s := range m.streams {
		if _, err := s.Stop(); err != nil {
			slog.Error("recorder: stop failed", "stream", s.Name(), "error", err)
			errs = append(errs, err)
		}
	}

	if err := awaitStreams(ctx, m.streams, "stop", (*CaptureStream).IsIdle, m.wait); err != nil {
		errs = append(errs, err)
	}

	ended := m.session
	m.session = nil

	if err := errors.Join(errs...); err != nil {
		return "", err
	}

	slog.Info("recorder: recording stopped",
		"session", ended.ID,
		"dir", ended.Dir,
		"duration", time.Since(ended.StartedAt).Round(time.Millisecond),
	)
	return StatusStopped, nil
}

// abortStart rolls the fleet back after a failed start. Caller holds mu.
func (m *Manager) abortStart(ctx context.Context) {
	slog.Warn("recorder: start failed, stopping all streams")
	for _, s := range m.streams {
		if _, err := s.Stop(); err != nil {
			slog.Error("recorder: rollback stop failed", "stream", s.Name(), "error", err)
		}
	}
	if err := awaitStreams(ctx, m.streams, "rollback", (*CaptureStream).IsIdle, m.wait); err != nil {
		slog.Error("recorder: rollback incomplete", "error", err)
	}
}

// SessionState returns a snapshot of the session. Duration is computed from
// the wall clock on every call.
func (m *Manager) SessionState() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return SessionState{Dir: m.lastDir}
	}
	return SessionState{
		Recording: true,
		SessionID: m.session.ID,
		StartedAt: m.session.StartedAt,
		Duration:  time.Since(m.session.StartedAt).Seconds(),
		Dir:       m.session.Dir,
	}
}

// Recording reports whether a session is active.
func (m *Manager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// PreviewFrame returns the latest frame from the preview stream. The second
// return value is false when no stream feeds the preview or no frame is
// held. Never touches the session mutex, so it cannot stall behind a
// start/stop transition.
func (m *Manager) PreviewFrame() (frame.Frame, bool) {
	if m.preview == nil {
		return frame.Frame{}, false
	}
	return m.preview.PreviewFrame()
}

// Streams returns a snapshot of every stream's state and counters.
func (m *Manager) Streams() []StreamStatus {
	out := make([]StreamStatus, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, StreamStatus{
			Name:            s.Name(),
			Kind:            s.Kind(),
			State:           s.State().String(),
			FramesPublished: s.FramesPublished(),
		})
	}
	return out
}
