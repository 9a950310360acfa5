// Package video implements the pipeline's source, sink, annotator and engines on gocv.
package video

import (
	"fmt"
	"io"

	"gocv.io/x/gocv"

	"github.com/etesami/traffic-counting-system/pkg/pipeline"
)

// Frame is a decoded frame backed by a gocv.Mat.
type Frame struct {
	Mat gocv.Mat
}

func (f *Frame) Close() error {
	return f.Mat.Close()
}

func matOf(f pipeline.Frame) (gocv.Mat, error) {
	vf, ok := f.(*Frame)
	if !ok {
		return gocv.Mat{}, fmt.Errorf("unsupported frame type %T", f)
	}
	return vf.Mat, nil
}

// Media opens files through OpenCV's video I/O.
type Media struct{}

func (Media) OpenSource(path string) (pipeline.Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, err
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video capture for %s is not opened", path)
	}
	return &source{capture: capture}, nil
}

func (Media) CreateSink(path string, codec string, fps float64, width, height int) (pipeline.Sink, error) {
	writer, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, err
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("video writer for %s is not opened", path)
	}
	return &sink{writer: writer}, nil
}

type source struct {
	capture *gocv.VideoCapture
}

// Read returns io.EOF once the capture yields no more frames.
func (s *source) Read() (pipeline.Frame, error) {
	img := gocv.NewMat()
	if ok := s.capture.Read(&img); !ok || img.Empty() {
		img.Close()
		return nil, io.EOF
	}
	return &Frame{Mat: img}, nil
}

func (s *source) FPS() float64 {
	return s.capture.Get(gocv.VideoCaptureFPS)
}

func (s *source) Size() (int, int) {
	return int(s.capture.Get(gocv.VideoCaptureFrameWidth)), int(s.capture.Get(gocv.VideoCaptureFrameHeight))
}

func (s *source) Close() error {
	return s.capture.Close()
}

type sink struct {
	writer *gocv.VideoWriter
	closed bool
}

func (s *sink) Write(f pipeline.Frame) error {
	img, err := matOf(f)
	if err != nil {
		return err
	}
	return s.writer.Write(img)
}

func (s *sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
