// Package enginemock provides a synthetic capture engine honoring the
// recorder engine contract without touching GStreamer. It backs the
// daemon's --mock mode (development without cameras) and the control
// surface tests. Latency, faults and stuck states are scriptable.
package enginemock

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-proto-recorder/internal/frame"
	"github.com/e7canasta/orion-proto-recorder/internal/recorder"
)

// Options scripts the engine's behavior. The zero value is a well-behaved
// engine that becomes active immediately and tears down immediately.
type Options struct {
	// Width and Height of generated frames (default 640x480)
	Width  int
	Height int
	// FPS is the frame generation rate; 0 disables frame generation
	FPS int

	// StartLatency delays the preparing->active transition
	StartLatency time.Duration
	// StopLatency delays reaching idle after Stop
	StopLatency time.Duration

	// StartErr is returned by Start, leaving the engine idle
	StartErr error
	// StopErr is returned by Stop; teardown still proceeds
	StopErr error

	// StickPreparing keeps the engine preparing forever after Start
	StickPreparing bool
	// StickStopping keeps the engine from ever reaching idle after Stop
	StickStopping bool
}

// Engine generates synthetic frames at a fixed rate and walks the engine
// state machine on a script instead of real hardware.
type Engine struct {
	name string
	opts Options

	onFrame func(frame.Frame)

	mu         sync.Mutex
	state      recorder.EngineState
	outputPath string
	seq        uint64
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New returns a scripted engine named after its stream.
func New(name string, opts Options) *Engine {
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	return &Engine{
		name:  name,
		opts:  opts,
		state: recorder.EngineIdle,
	}
}

// Factory adapts New to the engine factory signature, one scripted engine
// per configured stream.
func Factory(opts Options) recorder.EngineFactory {
	return func(cfg recorder.StreamConfig) (recorder.Engine, error) {
		o := opts
		if cfg.FPS > 0 {
			o.FPS = cfg.FPS
		}
		return New(cfg.Name, o), nil
	}
}

// OnFrame registers the frame callback. Must be called before Start.
func (e *Engine) OnFrame(fn func(frame.Frame)) {
	e.onFrame = fn
}

// Start records the output path and begins the scripted walk towards the
// active state.
func (e *Engine) Start(outputPath string) error {
	if e.opts.StartErr != nil {
		return e.opts.StartErr
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != recorder.EngineIdle {
		return fmt.Errorf("enginemock: start while %s", e.state)
	}

	e.outputPath = outputPath
	e.state = recorder.EnginePreparing
	e.stopCh = make(chan struct{})

	slog.Debug("enginemock: started", "engine", e.name, "path", outputPath)

	if e.opts.StickPreparing {
		return nil
	}

	e.wg.Add(1)
	go e.run(e.stopCh)
	return nil
}

// Stop ends frame generation and walks the engine towards idle per script.
// Idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == recorder.EngineIdle {
		e.mu.Unlock()
		return nil
	}
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	e.mu.Unlock()

	e.wg.Wait()

	if !e.opts.StickStopping {
		if e.opts.StopLatency > 0 {
			time.AfterFunc(e.opts.StopLatency, e.settle)
		} else {
			e.settle()
		}
	}

	slog.Debug("enginemock: stopped", "engine", e.name)
	return e.opts.StopErr
}

// State reports the engine's current scripted state.
func (e *Engine) State() recorder.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OutputPath returns the path the last Start was given.
func (e *Engine) OutputPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outputPath
}

// settle completes teardown.
func (e *Engine) settle() {
	e.mu.Lock()
	e.state = recorder.EngineIdle
	e.mu.Unlock()
}

// run waits out the start latency, flips to active and generates frames
// until stopped.
func (e *Engine) run(stopCh chan struct{}) {
	defer e.wg.Done()

	if e.opts.StartLatency > 0 {
		select {
		case <-time.After(e.opts.StartLatency):
		case <-stopCh:
			return
		}
	}

	e.mu.Lock()
	if e.state != recorder.EnginePreparing {
		e.mu.Unlock()
		return
	}
	e.state = recorder.EngineActive
	e.mu.Unlock()

	if e.onFrame == nil || e.opts.FPS <= 0 {
		<-stopCh
		return
	}

	ticker := time.NewTicker(time.Second / time.Duration(e.opts.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.onFrame(e.nextFrame())
		}
	}
}

// nextFrame builds a synthetic RGB frame. A gradient shifted by Seq makes
// the live preview visibly move in --mock mode.
func (e *Engine) nextFrame() frame.Frame {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	w, h := e.opts.Width, e.opts.Height
	data := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := y * w * 3
		for x := 0; x < w; x++ {
			v := byte((x + int(seq)) % 256)
			i := row + x*3
			data[i] = v
			data[i+1] = v
			data[i+2] = 255 - v
		}
	}

	return frame.Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        w,
		Height:       h,
		Data:         data,
		SourceStream: e.name,
	}
}
