//go:build gst

package capture

import (
	"fmt"
	"image"
	"log"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GstScreen grabs the desktop through a GStreamer ximagesrc pipeline:
//
//	ximagesrc → videoconvert → capsfilter(RGBA) → appsink
//
// The appsink is pulled synchronously from Grab, so the pipeline's own
// clock never outruns the capture loop.
type GstScreen struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	width    int
	height   int
}

// NewScreenSource builds and starts the screen-grab pipeline for the
// primary display.
func NewScreenSource() (Source, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	src, err := gst.NewElement("ximagesrc")
	if err != nil {
		return nil, fmt.Errorf("create ximagesrc: %w", err)
	}
	src.SetProperty("use-damage", false)
	src.SetProperty("show-pointer", true)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("create videoconvert: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=RGBA"))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, convert, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("assemble pipeline: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("link pipeline: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	log.Println("GStreamer screen source started (ximagesrc)")
	return &GstScreen{pipeline: pipeline, sink: sink}, nil
}

func (g *GstScreen) Grab() (image.Image, error) {
	sample := g.sink.PullSample()
	if sample == nil {
		return nil, fmt.Errorf("screen source returned no sample")
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("sample has no buffer")
	}

	if g.width == 0 || g.height == 0 {
		caps := sample.GetCaps()
		if caps == nil {
			return nil, fmt.Errorf("sample has no caps")
		}
		structure := caps.GetStructureAt(0)
		w, err := structure.GetValue("width")
		if err != nil {
			return nil, fmt.Errorf("caps width: %w", err)
		}
		h, err := structure.GetValue("height")
		if err != nil {
			return nil, fmt.Errorf("caps height: %w", err)
		}
		g.width = w.(int)
		g.height = h.(int)
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < g.width*g.height*4 {
		buffer.Unmap()
		return nil, fmt.Errorf("short frame buffer: %d bytes for %dx%d", len(data), g.width, g.height)
	}

	// Copy out: GStreamer reuses the buffer after Unmap.
	pix := make([]byte, g.width*g.height*4)
	copy(pix, data)
	buffer.Unmap()

	return &image.RGBA{
		Pix:    pix,
		Stride: g.width * 4,
		Rect:   image.Rect(0, 0, g.width, g.height),
	}, nil
}

func (g *GstScreen) Close() error {
	if g.pipeline != nil {
		return g.pipeline.SetState(gst.StateNull)
	}
	return nil
}
