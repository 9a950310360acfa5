package pipeline

import (
	"context"

	"github.com/etesami/traffic-counting-system/pkg/counting"
)

// Frame is one decoded video frame. The pipeline never looks inside a frame; it only
// hands it between the source, the tracker, the annotator and the sink.
type Frame interface {
	Close() error
}

// Source yields frames in order. Read returns io.EOF once the stream is exhausted.
type Source interface {
	Read() (Frame, error)
	FPS() float64
	Size() (width, height int)
	Close() error
}

// Sink encodes frames into the output video. Close must be safe to call more than once.
type Sink interface {
	Write(Frame) error
	Close() error
}

// Media opens sources and creates sinks on local files.
type Media interface {
	OpenSource(path string) (Source, error)
	CreateSink(path string, codec string, fps float64, width, height int) (Sink, error)
}

// Tracker runs detection and tracking on one video's frames. Track ids are stable
// for the lifetime of the tracker.
type Tracker interface {
	Track(ctx context.Context, f Frame) ([]counting.Detection, error)
	Close() error
}

// Engine is the shared, long-lived detection model. Each video gets its own tracker.
type Engine interface {
	NewTracker(ctx context.Context) (Tracker, error)
}

// Annotator draws boxes, labels and the running counts onto a frame in place.
type Annotator interface {
	Annotate(f Frame, dets []counting.Detection, counts counting.VehicleCounts) error
}
