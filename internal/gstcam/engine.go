// Package gstcam implements the capture engine on top of GStreamer.
//
// Each engine owns one pipeline built around a configured camera source.
// Color cameras record motion JPEG muxed into AVI and can expose a live
// preview branch through an appsink; thermal cameras record raw big-endian
// 16-bit grayscale. Pipelines are built once and reused across recording
// sessions: Start points the file sink at a new location and brings the
// pipeline to PLAYING, Stop signals end of stream and tears it back down
// to NULL.
package gstcam

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-proto-recorder/internal/frame"
	"github.com/e7canasta/orion-proto-recorder/internal/recorder"
)

// drainTimeout bounds how long Stop waits for EOS to reach the sink before
// forcing teardown. The AVI muxer writes its index on EOS, so tearing down
// early can leave a file some players refuse to seek in.
const drainTimeout = 3 * time.Second

// busPollInterval is how often the bus watcher polls for messages. Short
// enough for responsive shutdown, long enough to stay off the profile.
const busPollInterval = 50 * time.Millisecond

// Engine drives a single camera pipeline.
type Engine struct {
	// Configuration
	name string
	kind recorder.StreamKind

	// Pipeline, built once in New. sink is the filesink whose location is
	// set per session; appsink is nil unless the stream serves the preview.
	pipeline *gst.Pipeline
	sink     *gst.Element
	appsink  *app.Sink

	// Lifecycle
	mu      sync.Mutex
	state   recorder.EngineState
	onFrame func(frame.Frame)
	stopCh  chan struct{}
	eosCh   chan struct{}
	wg      sync.WaitGroup

	// Statistics (atomic for thread-safety)
	frameSeq  atomic.Uint64
	busErrors atomic.Uint64
}

// New builds a GStreamer engine for one configured stream. The pipeline is
// assembled and linked immediately so bad configurations fail here, not at
// session start, but no element leaves the NULL state yet.
func New(cfg recorder.StreamConfig) (*Engine, error) {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	if cfg.Source.Element == "" {
		return nil, fmt.Errorf("gstcam: stream %q has no source element", cfg.Name)
	}

	var (
		parts *pipelineParts
		err   error
	)
	switch cfg.Kind {
	case recorder.KindColor:
		parts, err = buildColorPipeline(cfg)
	case recorder.KindThermal:
		parts, err = buildThermalPipeline(cfg)
	default:
		return nil, fmt.Errorf("gstcam: stream %q has unsupported kind %q", cfg.Name, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("gstcam: pipeline assembled",
		"stream", cfg.Name,
		"kind", string(cfg.Kind),
		"source", cfg.Source.Element,
		"fps", cfg.FPS,
		"preview", cfg.Preview,
	)

	return &Engine{
		name:     cfg.Name,
		kind:     cfg.Kind,
		pipeline: parts.pipeline,
		sink:     parts.sink,
		appsink:  parts.appsink,
		state:    recorder.EngineIdle,
	}, nil
}

// Factory returns an EngineFactory that builds one GStreamer engine per
// configured stream.
func Factory() recorder.EngineFactory {
	return func(cfg recorder.StreamConfig) (recorder.Engine, error) {
		eng, err := New(cfg)
		if err != nil {
			return nil, err
		}
		return eng, nil
	}
}

// OnFrame registers the preview frame callback. Must be called before Start.
// Frames only flow on engines built with a preview branch.
func (e *Engine) OnFrame(fn func(frame.Frame)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFrame = fn
}

// Start points the file sink at outputPath and brings the pipeline up.
// The transition to PLAYING completes asynchronously; the bus watcher flips
// the engine to active once the pipeline reports it.
func (e *Engine) Start(outputPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != recorder.EngineIdle {
		return fmt.Errorf("gstcam: stream %q engine already running", e.name)
	}
	if outputPath == "" {
		return fmt.Errorf("gstcam: stream %q engine needs an output path", e.name)
	}

	// The location property only takes effect while the sink is in NULL.
	e.sink.SetProperty("location", outputPath)

	// Drop bus messages left over from the previous session.
	bus := e.pipeline.GetPipelineBus()
	for bus.TimedPop(0) != nil {
	}

	if e.appsink != nil {
		// Capture the callback now so the streaming thread never reads
		// engine fields.
		cb := e.onFrame
		e.appsink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
				return e.consumeSample(sink, cb)
			},
		})
	}

	if err := e.pipeline.SetState(gst.StateReady); err != nil {
		e.pipeline.SetState(gst.StateNull)
		return fmt.Errorf("gstcam: stream %q failed to ready pipeline: %w", e.name, err)
	}
	if err := e.pipeline.SetState(gst.StatePlaying); err != nil {
		e.pipeline.SetState(gst.StateNull)
		return fmt.Errorf("gstcam: stream %q failed to start pipeline: %w", e.name, err)
	}

	e.state = recorder.EnginePreparing
	e.stopCh = make(chan struct{})
	e.eosCh = make(chan struct{})

	e.wg.Add(1)
	go e.watchBus(e.stopCh, e.eosCh)

	slog.Info("gstcam: pipeline starting", "stream", e.name, "output", outputPath)
	return nil
}

// Stop signals end of stream, waits for the sink to drain, and tears the
// pipeline down to NULL. Calling Stop on an idle engine is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == recorder.EngineIdle || e.stopCh == nil {
		e.mu.Unlock()
		return nil
	}
	stopCh := e.stopCh
	eosCh := e.eosCh
	e.stopCh = nil
	e.mu.Unlock()

	// EOS travels through the pipeline so the muxer can finalize the file.
	e.pipeline.SendEvent(gst.NewEOSEvent())

	select {
	case <-eosCh:
		slog.Debug("gstcam: pipeline drained", "stream", e.name)
	case <-time.After(drainTimeout):
		slog.Warn("gstcam: timed out waiting for end of stream, tearing down anyway",
			"stream", e.name,
			"timeout", drainTimeout,
		)
	}

	close(stopCh)
	e.wg.Wait()

	err := e.pipeline.SetState(gst.StateNull)

	e.mu.Lock()
	e.state = recorder.EngineIdle
	e.eosCh = nil
	e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("gstcam: stream %q teardown failed: %w", e.name, err)
	}

	slog.Info("gstcam: pipeline stopped", "stream", e.name)
	return nil
}

// State reports the engine's current coarse state.
func (e *Engine) State() recorder.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// FramesEmitted reports how many frames the preview branch has delivered
// since the engine was built.
func (e *Engine) FramesEmitted() uint64 {
	return e.frameSeq.Load()
}

// BusErrors reports how many error messages the pipeline bus has carried
// since the engine was built.
func (e *Engine) BusErrors() uint64 {
	return e.busErrors.Load()
}

func (e *Engine) setState(s recorder.EngineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// watchBus drains the pipeline bus until the engine stops. It flips the
// engine to active when the pipeline reports PLAYING and records EOS so
// Stop can wait for the muxer to finalize its output.
func (e *Engine) watchBus(stopCh chan struct{}, eosCh chan struct{}) {
	defer e.wg.Done()

	bus := e.pipeline.GetPipelineBus()
	eosSeen := false

	for {
		select {
		case <-stopCh:
			return

		default:
			// Poll for messages with short timeout for responsive shutdown
			msg := bus.TimedPop(busPollInterval)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				if !eosSeen {
					eosSeen = true
					close(eosCh)
				}
				slog.Debug("gstcam: end of stream reached sink", "stream", e.name)

			case gst.MessageError:
				gerr := msg.ParseError()
				e.busErrors.Add(1)
				slog.Error("gstcam: pipeline error",
					"stream", e.name,
					"error", gerr.Error(),
					"debug", gerr.DebugString(),
				)

			case gst.MessageStateChanged:
				if msg.Source() != e.pipeline.GetName() {
					continue
				}
				_, next := msg.ParseStateChanged()
				slog.Debug("gstcam: pipeline state changed",
					"stream", e.name,
					"to", next,
				)
				if next == gst.StatePlaying {
					e.setState(recorder.EngineActive)
				}
			}
		}
	}
}

// consumeSample copies one decoded frame out of the appsink and hands it to
// the registered callback. GStreamer reuses the underlying buffer, so the
// pixel data is copied before the buffer is unmapped.
func (e *Engine) consumeSample(sink *app.Sink, cb func(frame.Frame)) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstcam: failed to pull sample from appsink, skipping frame", "stream", e.name)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstcam: sample carries no buffer, skipping frame", "stream", e.name)
		return gst.FlowOK
	}

	width, height := sampleDimensions(sample)

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstcam: empty buffer received", "stream", e.name)
		return gst.FlowOK
	}
	pixels := make([]byte, len(data))
	copy(pixels, data)
	buffer.Unmap()

	f := frame.Frame{
		Seq:          e.frameSeq.Add(1),
		Timestamp:    time.Now(),
		Width:        width,
		Height:       height,
		Data:         pixels,
		SourceStream: e.name,
	}

	if cb != nil {
		cb(f)
	}
	return gst.FlowOK
}

// sampleDimensions reads the negotiated frame size from the sample caps.
func sampleDimensions(sample *gst.Sample) (int, int) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return 0, 0
	}

	width, height := 0, 0
	if val, err := structure.GetValue("width"); err == nil {
		if w, ok := val.(int); ok {
			width = w
		}
	}
	if val, err := structure.GetValue("height"); err == nil {
		if h, ok := val.(int); ok {
			height = h
		}
	}
	return width, height
}
