package recorder

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/e7canasta/orion-proto-recorder/internal/frame"
)

// fakeEngine walks the engine states only when the test says so (auto=false)
// or instantly on Start/Stop (auto=true).
type fakeEngine struct {
	mu        sync.Mutex
	state     EngineState
	path      string
	auto      bool
	stickStop bool // with auto, Stop does not reach idle
	startErr  error
	stopErr   error
	starts    int
	stops     int
}

func (f *fakeEngine) Start(outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.path = outputPath
	if f.auto {
		f.state = EngineActive
	} else {
		f.state = EnginePreparing
	}
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	if f.auto && !f.stickStop {
		f.state = EngineIdle
	}
	return nil
}

func (f *fakeEngine) State() EngineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) setState(s EngineState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeEngine) setStickStop(v bool) {
	f.mu.Lock()
	f.stickStop = v
	f.mu.Unlock()
}

func (f *fakeEngine) outputPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

func (f *fakeEngine) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeEngine) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// fakeEmitter is a fakeEngine that can also hand frames to the stream.
type fakeEmitter struct {
	fakeEngine
	onFrame func(frame.Frame)
}

func (f *fakeEmitter) OnFrame(fn func(frame.Frame)) {
	f.onFrame = fn
}

func (f *fakeEmitter) emit(fr frame.Frame) {
	if f.onFrame != nil {
		f.onFrame(fr)
	}
}

func newTestStream(t *testing.T, cfg StreamConfig, eng Engine) *CaptureStream {
	t.Helper()
	s, err := newCaptureStream(cfg, eng)
	if err != nil {
		t.Fatalf("newCaptureStream failed: %v", err)
	}
	return s
}

// TestStreamLifecycle walks the full state machine, checking the observed
// edges and the idempotent no-ops along the way.
func TestStreamLifecycle(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestStream(t, StreamConfig{Name: "front", Kind: KindColor, Format: ".avi"}, eng)

	if got := s.State(); got != StateIdle {
		t.Fatalf("Expected initial state idle, got %s", got)
	}
	if initiated, _ := s.Stop(); initiated {
		t.Error("Stop while idle should be a no-op")
	}

	if err := s.SetOutputDir(t.TempDir()); err != nil {
		t.Fatalf("SetOutputDir failed: %v", err)
	}

	initiated, err := s.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !initiated {
		t.Fatal("Expected Run to initiate a start")
	}
	if got := s.State(); got != StateStarting {
		t.Fatalf("Expected starting, got %s", got)
	}
	if s.IsRecording() {
		t.Error("Stream should not report recording before the engine is active")
	}

	// Run while starting is a no-op
	if initiated, err := s.Run(); initiated || err != nil {
		t.Errorf("Run while starting: expected no-op, got initiated=%v err=%v", initiated, err)
	}
	if eng.startCount() != 1 {
		t.Errorf("Expected exactly 1 engine start, got %d", eng.startCount())
	}

	eng.setState(EngineActive)
	if !s.IsRecording() {
		t.Fatal("Expected recording once the engine is active")
	}
	if got := s.State(); got != StateRecording {
		t.Fatalf("Expected recording, got %s", got)
	}

	initiated, err = s.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !initiated {
		t.Fatal("Expected Stop to initiate a stop")
	}
	if got := s.State(); got != StateStopping {
		t.Fatalf("Expected stopping, got %s", got)
	}
	if s.IsIdle() {
		t.Error("Stream should not report idle before the engine tore down")
	}

	// Stop while stopping is a no-op
	if initiated, err := s.Stop(); initiated || err != nil {
		t.Errorf("Stop while stopping: expected no-op, got initiated=%v err=%v", initiated, err)
	}

	eng.setState(EngineIdle)
	if !s.IsIdle() {
		t.Fatal("Expected idle once the engine tore down")
	}
}

// TestStreamOutputPath verifies the engine is pointed at
// <dir>/<name><format>.
func TestStreamOutputPath(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestStream(t, StreamConfig{Name: "front", Kind: KindColor, Format: ".avi"}, eng)

	dir := t.TempDir()
	if err := s.SetOutputDir(dir); err != nil {
		t.Fatalf("SetOutputDir failed: %v", err)
	}
	if _, err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := filepath.Join(dir, "front.avi")
	if got := eng.outputPath(); got != want {
		t.Errorf("Expected output path %q, got %q", want, got)
	}
}

// TestStreamDefaultOutputDir verifies a stream can start before any session
// pointed it somewhere (placeholder directory).
func TestStreamDefaultOutputDir(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestStream(t, StreamConfig{Name: "front", Kind: KindColor, Format: ".avi"}, eng)

	if _, err := s.Run(); err != nil {
		t.Fatalf("Run without SetOutputDir failed: %v", err)
	}
	if eng.outputPath() == "" {
		t.Error("Expected a placeholder output path, got empty")
	}
}

// TestStreamSetOutputDirWhileActive verifies the directory is frozen outside
// idle.
func TestStreamSetOutputDirWhileActive(t *testing.T) {
	eng := &fakeEngine{auto: true}
	s := newTestStream(t, StreamConfig{Name: "front", Kind: KindColor, Format: ".avi"}, eng)

	if err := s.SetOutputDir(t.TempDir()); err != nil {
		t.Fatalf("SetOutputDir failed: %v", err)
	}
	if _, err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !s.IsRecording() {
		t.Fatal("Expected stream recording")
	}

	err := s.SetOutputDir(t.TempDir())
	if err == nil {
		t.Fatal("Expected error setting output dir while recording")
	}
	if !IsInvalidState(err) {
		t.Errorf("Expected InvalidStateError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "front") {
		t.Errorf("Expected error to name the stream, got %q", err.Error())
	}
}

// TestStreamStartError verifies a failed engine start leaves the stream
// idle.
func TestStreamStartError(t *testing.T) {
	eng := &fakeEngine{startErr: errors.New("no such device")}
	s := newTestStream(t, StreamConfig{Name: "front", Kind: KindColor, Format: ".avi"}, eng)

	initiated, err := s.Run()
	if err == nil {
		t.Fatal("Expected Run to fail")
	}
	if initiated {
		t.Error("Expected no start initiated on engine error")
	}
	if got := s.State(); got != StateIdle {
		t.Errorf("Expected stream to stay idle, got %s", got)
	}
	if !strings.Contains(err.Error(), "no such device") {
		t.Errorf("Expected engine error to be wrapped, got %q", err.Error())
	}
}

// TestStreamStopError verifies a failed stop still moves the stream to
// stopping so readiness polling reports whether it drains.
func TestStreamStopError(t *testing.T) {
	eng := &fakeEngine{stopErr: errors.New("bus gone")}
	s := newTestStream(t, StreamConfig{Name: "front", Kind: KindColor, Format: ".avi"}, eng)

	if _, err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	eng.setState(EngineActive)
	if !s.IsRecording() {
		t.Fatal("Expected stream recording")
	}

	initiated, err := s.Stop()
	if !initiated {
		t.Error("Expected stop to be initiated despite the engine error")
	}
	if err == nil {
		t.Fatal("Expected Stop to surface the engine error")
	}
	if got := s.State(); got != StateStopping {
		t.Errorf("Expected stopping, got %s", got)
	}
}

// TestStreamPreviewSlot verifies frames flow into the slot and the slot is
// emptied once the stream fully stops.
func TestStreamPreviewSlot(t *testing.T) {
	eng := &fakeEmitter{}
	s := newTestStream(t, StreamConfig{Name: "front", Kind: KindColor, Format: ".avi", Preview: true}, eng)

	if _, ok := s.PreviewFrame(); ok {
		t.Error("Expected no frame before the first publish")
	}

	if _, err := s.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	eng.setState(EngineActive)
	s.IsRecording()

	eng.emit(frame.Frame{Seq: 1, Width: 4, Height: 4, Data: make([]byte, 48)})
	eng.emit(frame.Frame{Seq: 2, Width: 4, Height: 4, Data: make([]byte, 48)})

	got, ok := s.PreviewFrame()
	if !ok {
		t.Fatal("Expected a preview frame")
	}
	if got.Seq != 2 {
		t.Errorf("Expected latest seq 2, got %d", got.Seq)
	}
	if s.FramesPublished() != 2 {
		t.Errorf("Expected 2 frames published, got %d", s.FramesPublished())
	}

	if _, err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	eng.setState(EngineIdle)
	if !s.IsIdle() {
		t.Fatal("Expected stream idle")
	}

	if _, ok := s.PreviewFrame(); ok {
		t.Error("Expected the slot to be cleared after teardown")
	}
}

// TestStreamPreviewRequiresEmitter verifies a preview stream whose engine
// cannot emit frames is rejected.
func TestStreamPreviewRequiresEmitter(t *testing.T) {
	_, err := newCaptureStream(
		StreamConfig{Name: "front", Kind: KindColor, Format: ".avi", Preview: true},
		&fakeEngine{},
	)
	if err == nil {
		t.Fatal("Expected construction to fail")
	}
	if !IsConfig(err) {
		t.Errorf("Expected ConfigError, got %T: %v", err, err)
	}
}

// TestStreamNonPreviewHasNoFrames verifies non-preview streams never expose
// frames.
func TestStreamNonPreviewHasNoFrames(t *testing.T) {
	s := newTestStream(t, StreamConfig{Name: "thermal", Kind: KindThermal, Format: ".raw"}, &fakeEngine{auto: true})

	if _, ok := s.PreviewFrame(); ok {
		t.Error("Expected no preview frame from a non-preview stream")
	}
}
