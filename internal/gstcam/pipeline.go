package gstcam

import (
	"fmt"
	"math"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-proto-recorder/internal/recorder"
)

// pipelineParts holds the element references an engine needs after the
// pipeline is assembled.
type pipelineParts struct {
	pipeline *gst.Pipeline
	sink     *gst.Element
	appsink  *app.Sink
}

// buildColorPipeline assembles the recording chain for a color camera:
//
//	src → videorate → capsfilter(framerate) → videoconvert → jpegenc → avimux → filesink
//
// When the stream serves the preview, the chain splits after videoconvert
// with a tee: one branch keeps recording, the other feeds an appsink that
// always holds the newest RGB frame:
//
//	tee → queue(leaky) → jpegenc → avimux → filesink
//	tee → queue(leaky) → videoconvert → capsfilter(RGB) → appsink
func buildColorPipeline(cfg recorder.StreamConfig) (*pipelineParts, error) {
	pipeline, err := gst.NewPipeline("pipeline-" + cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("gstcam: create pipeline: %w", err)
	}

	src, err := newSource(cfg.Source)
	if err != nil {
		return nil, err
	}

	videorate, err := newElement("videorate")
	if err != nil {
		return nil, err
	}

	ratefilter, err := newElement("capsfilter")
	if err != nil {
		return nil, err
	}
	ratefilter.SetProperty("caps", gst.NewCapsFromString(framerateCaps(cfg.FPS)))

	convert, err := newElement("videoconvert")
	if err != nil {
		return nil, err
	}

	jpegenc, err := newElement("jpegenc")
	if err != nil {
		return nil, err
	}

	avimux, err := newElement("avimux")
	if err != nil {
		return nil, err
	}

	sink, err := newElement("filesink")
	if err != nil {
		return nil, err
	}

	if !cfg.Preview {
		if err := pipeline.AddMany(src, videorate, ratefilter, convert, jpegenc, avimux, sink); err != nil {
			return nil, fmt.Errorf("gstcam: add color elements: %w", err)
		}
		if err := gst.ElementLinkMany(src, videorate, ratefilter, convert, jpegenc, avimux, sink); err != nil {
			return nil, fmt.Errorf("gstcam: link color pipeline: %w", err)
		}
		return &pipelineParts{pipeline: pipeline, sink: sink}, nil
	}

	tee, err := newElement("tee")
	if err != nil {
		return nil, err
	}

	queueRecord, err := newLeakyQueue()
	if err != nil {
		return nil, err
	}

	queuePreview, err := newLeakyQueue()
	if err != nil {
		return nil, err
	}

	convertPreview, err := newElement("videoconvert")
	if err != nil {
		return nil, err
	}

	rgbfilter, err := newElement("capsfilter")
	if err != nil {
		return nil, err
	}
	rgbfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=RGB"))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("gstcam: create appsink: %w", err)
	}
	appsink.SetProperty("sync", true)
	appsink.SetProperty("max-buffers", 1) // Keep only latest frame
	appsink.SetProperty("drop", true)     // Drop old frames

	if err := pipeline.AddMany(
		src,
		videorate,
		ratefilter,
		convert,
		tee,
		queueRecord,
		jpegenc,
		avimux,
		sink,
		queuePreview,
		convertPreview,
		rgbfilter,
		appsink.Element,
	); err != nil {
		return nil, fmt.Errorf("gstcam: add color elements: %w", err)
	}

	if err := gst.ElementLinkMany(src, videorate, ratefilter, convert, tee); err != nil {
		return nil, fmt.Errorf("gstcam: link color trunk: %w", err)
	}
	if err := gst.ElementLinkMany(tee, queueRecord, jpegenc, avimux, sink); err != nil {
		return nil, fmt.Errorf("gstcam: link recording branch: %w", err)
	}
	if err := gst.ElementLinkMany(tee, queuePreview, convertPreview, rgbfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("gstcam: link preview branch: %w", err)
	}

	return &pipelineParts{pipeline: pipeline, sink: sink, appsink: appsink}, nil
}

// buildThermalPipeline assembles the recording chain for a thermal camera:
//
//	src → videorate → capsfilter(GRAY16_LE) → videoconvert → capsfilter(GRAY16_BE) → filesink
//
// The output is a raw dump of big-endian 16-bit grayscale frames; there is
// no container and no preview branch.
func buildThermalPipeline(cfg recorder.StreamConfig) (*pipelineParts, error) {
	pipeline, err := gst.NewPipeline("pipeline-" + cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("gstcam: create pipeline: %w", err)
	}

	src, err := newSource(cfg.Source)
	if err != nil {
		return nil, err
	}

	videorate, err := newElement("videorate")
	if err != nil {
		return nil, err
	}

	lefilter, err := newElement("capsfilter")
	if err != nil {
		return nil, err
	}
	lefilter.SetProperty("caps", gst.NewCapsFromString(grayCaps(cfg.FPS, "GRAY16_LE")))

	convert, err := newElement("videoconvert")
	if err != nil {
		return nil, err
	}

	befilter, err := newElement("capsfilter")
	if err != nil {
		return nil, err
	}
	befilter.SetProperty("caps", gst.NewCapsFromString(grayCaps(cfg.FPS, "GRAY16_BE")))

	sink, err := newElement("filesink")
	if err != nil {
		return nil, err
	}

	if err := pipeline.AddMany(src, videorate, lefilter, convert, befilter, sink); err != nil {
		return nil, fmt.Errorf("gstcam: add thermal elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, videorate, lefilter, convert, befilter, sink); err != nil {
		return nil, fmt.Errorf("gstcam: link thermal pipeline: %w", err)
	}

	return &pipelineParts{pipeline: pipeline, sink: sink}, nil
}

// newSource builds the camera source element and applies its configured
// properties.
func newSource(src recorder.SourceConfig) (*gst.Element, error) {
	element, err := gst.NewElement(src.Element)
	if err != nil {
		return nil, fmt.Errorf("gstcam: create source %q: %w", src.Element, err)
	}
	for key, value := range src.Properties {
		element.SetProperty(key, coerceProperty(value))
	}
	return element, nil
}

// newElement creates one element by factory name.
func newElement(factory string) (*gst.Element, error) {
	element, err := gst.NewElement(factory)
	if err != nil {
		return nil, fmt.Errorf("gstcam: create %s element: %w", factory, err)
	}
	return element, nil
}

// newLeakyQueue creates a queue that drops its oldest buffers under
// backpressure instead of stalling the tee.
func newLeakyQueue() (*gst.Element, error) {
	queue, err := newElement("queue")
	if err != nil {
		return nil, err
	}
	queue.SetProperty("max-size-buffers", 5)
	queue.SetProperty("leaky", 2) // 2 = leak downstream (drop oldest)
	return queue, nil
}

// framerateCaps constrains a raw video stream to a fixed integer framerate.
func framerateCaps(fps int) string {
	return fmt.Sprintf("video/x-raw,framerate=%d/1", fps)
}

// grayCaps constrains a raw video stream to a 16-bit grayscale format at a
// fixed integer framerate.
func grayCaps(fps int, format string) string {
	return fmt.Sprintf("video/x-raw,framerate=%d/1,format=%s", fps, format)
}

// coerceProperty narrows decoded config numbers to int. JSON decodes every
// number as float64 and TOML as int64, while most GStreamer element
// properties are plain integers; GLib rejects type-mismatched values.
func coerceProperty(value any) any {
	switch v := value.(type) {
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32 {
			return int(v)
		}
	case float32:
		f := float64(v)
		if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
			return int(f)
		}
	case int64:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return int(v)
		}
	case uint64:
		if v <= math.MaxInt32 {
			return int(v)
		}
	}
	return value
}
