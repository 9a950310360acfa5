package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/etesami/traffic-counting-system/pkg/counting"
	mt "github.com/etesami/traffic-counting-system/pkg/metric"
)

const (
	// DefaultFPS is used when the source reports a zero or undefined frame rate.
	DefaultFPS = 25.0
	// OutputCodec is the fourcc of the annotated output video.
	OutputCodec = "avc1"
)

var (
	ErrOpenSource = errors.New("cannot open video source")
	ErrCreateSink = errors.New("cannot create video writer")
	// ErrEngineUnavailable is returned when the engine cannot serve right now;
	// the same video may succeed later.
	ErrEngineUnavailable = errors.New("detection engine unavailable")
)

// Result is the outcome of processing one video.
type Result struct {
	Counts   counting.VehicleCounts `json:"vehicle_counts"`
	Total    int                    `json:"total"`
	Level    counting.TrafficLevel  `json:"traffic_level"`
	Frames   int                    `json:"frames"`
	FPS      float64                `json:"fps"`
	Width    int                    `json:"width"`
	Height   int                    `json:"height"`
	Duration time.Duration          `json:"-"`
}

type Processor struct {
	Media     Media
	Engine    Engine
	Annotator Annotator
	Metric    *mt.Metric
	Logger    *slog.Logger
}

func NewProcessor(media Media, engine Engine, annotator Annotator, m *mt.Metric, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Media:     media,
		Engine:    engine,
		Annotator: annotator,
		Metric:    m,
		Logger:    logger,
	}
}

// EffectiveFPS returns fps, or DefaultFPS if fps is zero, negative or NaN.
func EffectiveFPS(fps float64) float64 {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return DefaultFPS
	}
	return fps
}

// ProcessVideo runs detection and tracking over every frame of inputPath, writes the
// annotated frames to outputPath and returns the final counts and traffic level.
// Any failure inside the frame loop aborts the whole run.
func (p *Processor) ProcessVideo(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	st := time.Now()

	src, err := p.Media.OpenSource(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrOpenSource, inputPath, err)
	}
	defer src.Close()

	fps := EffectiveFPS(src.FPS())
	if fps != src.FPS() {
		p.Logger.Warn("source reports no frame rate, using default", "input", inputPath, "reported", src.FPS(), "fps", fps)
	}
	width, height := src.Size()

	sink, err := p.Media.CreateSink(outputPath, OutputCodec, fps, width, height)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCreateSink, outputPath, err)
	}
	defer sink.Close()

	tracker, err := p.Engine.NewTracker(ctx)
	if err != nil {
		return nil, fmt.Errorf("error starting tracker: %w", err)
	}
	defer tracker.Close()

	acc := counting.NewAccumulator()
	frameId := 0
	for {
		frame, err := src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.Metric.AddFrameCount("failed", 1)
			return nil, fmt.Errorf("error reading frame %d: %w", frameId, err)
		}

		if err := p.processFrame(ctx, tracker, acc, frame, sink); err != nil {
			frame.Close()
			p.Metric.AddFrameCount("failed", 1)
			return nil, fmt.Errorf("frame %d: %w", frameId, err)
		}
		frame.Close()
		p.Metric.AddFrameCount("processed", 1)
		frameId++
	}

	// Release explicitly so the output file is complete before the caller serves it.
	if err := sink.Close(); err != nil {
		return nil, fmt.Errorf("error finalizing %s: %w", outputPath, err)
	}

	counts := acc.Counts()
	total := counts.Total()
	res := &Result{
		Counts:   counts,
		Total:    total,
		Level:    counting.Classify(total),
		Frames:   frameId,
		FPS:      fps,
		Width:    width,
		Height:   height,
		Duration: time.Since(st),
	}
	p.record(res)

	p.Logger.Info("video processed",
		"input", inputPath, "output", outputPath, "frames", res.Frames,
		"total", res.Total, "level", res.Level, "elapsed", res.Duration)
	return res, nil
}

func (p *Processor) processFrame(ctx context.Context, tracker Tracker, acc *counting.Accumulator, frame Frame, sink Sink) error {
	st := time.Now()
	dets, err := tracker.Track(ctx, frame)
	if err != nil {
		return fmt.Errorf("error tracking: %w", err)
	}
	p.Metric.AddInferenceTime(float64(time.Since(st).Microseconds()) / 1000.0)

	acc.Observe(dets)

	if p.Annotator != nil {
		if err := p.Annotator.Annotate(frame, dets, acc.Counts()); err != nil {
			return fmt.Errorf("error annotating: %w", err)
		}
	}
	if err := sink.Write(frame); err != nil {
		return fmt.Errorf("error writing: %w", err)
	}
	return nil
}

func (p *Processor) record(res *Result) {
	p.Metric.AddProcessingTime(float64(res.Duration.Microseconds()) / 1000.0)
	for _, c := range counting.Classes {
		p.Metric.AddVehicles(string(c), float64(res.Counts[c]))
	}
	p.Metric.AddTrafficLevel(string(res.Level))
}
