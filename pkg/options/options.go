// Package options holds the command line options shared by the service binaries.
// Every flag defaults to an environment variable so the services can be configured
// the same way in containers and on the command line.
package options

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	api "github.com/etesami/traffic-counting-system/api"
	mt "github.com/etesami/traffic-counting-system/pkg/metric"
	"github.com/etesami/traffic-counting-system/pkg/tracker"
	"github.com/etesami/traffic-counting-system/pkg/utils"
)

// EnvString returns the environment variable key, or def when it is unset or empty.
func EnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func EnvFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func EnvDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

type LogOptions struct {
	Level   string
	NoColor bool
}

func NewLogOptions() *LogOptions {
	return &LogOptions{
		Level:   EnvString("LOG_LEVEL", "info"),
		NoColor: os.Getenv("NO_COLOR") != "",
	}
}

func (o *LogOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, "log-level", o.Level, "Log level: debug, info, warn or error.")
	fs.BoolVar(&o.NoColor, "log-no-color", o.NoColor, "Disable colored log output.")
}

// NewLogger returns a tint logger writing to w.
func (o *LogOptions) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", o.Level, err)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    o.NoColor,
	})), nil
}

type MetricOptions struct {
	Addr string
	Port string

	ProcTimeBuckets      string
	InferenceTimeBuckets string
	RttTimeBuckets       string
}

func NewMetricOptions() *MetricOptions {
	return &MetricOptions{
		Addr:                 os.Getenv("METRIC_ADDR"),
		Port:                 os.Getenv("METRIC_PORT"),
		ProcTimeBuckets:      os.Getenv("PROC_TIME_BUCKETS"),
		InferenceTimeBuckets: os.Getenv("INFERENCE_TIME_BUCKETS"),
		RttTimeBuckets:       os.Getenv("RTT_TIME_BUCKETS"),
	}
}

func (o *MetricOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, "metric-addr", o.Addr, "Address of the metrics server.")
	fs.StringVar(&o.Port, "metric-port", o.Port, "Port of the metrics server; empty disables it.")
	o.AddBucketFlags(fs)
}

// AddBucketFlags adds only the histogram bucket flags, for binaries that serve
// /metrics on their own listener.
func (o *MetricOptions) AddBucketFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ProcTimeBuckets, "proc-time-buckets", o.ProcTimeBuckets, "Comma-separated buckets (ms) of the video processing time histogram.")
	fs.StringVar(&o.InferenceTimeBuckets, "inference-time-buckets", o.InferenceTimeBuckets, "Comma-separated buckets (ms) of the per-frame inference time histogram.")
	fs.StringVar(&o.RttTimeBuckets, "rtt-time-buckets", o.RttTimeBuckets, "Comma-separated buckets (ms) of the gRPC round-trip time histogram.")
}

// Register creates the service metrics on reg.
func (o *MetricOptions) Register(reg prometheus.Registerer) *mt.Metric {
	m := &mt.Metric{}
	m.RegisterMetrics(reg,
		utils.ParseBuckets(o.ProcTimeBuckets),
		utils.ParseBuckets(o.InferenceTimeBuckets),
		utils.ParseBuckets(o.RttTimeBuckets))
	return m
}

// Server returns the standalone metrics server, or nil when no port is set.
func (o *MetricOptions) Server(g prometheus.Gatherer) *http.Server {
	if o.Port == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              net.JoinHostPort(o.Addr, o.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// DetectorOptions configures the in-process YOLO detector and tracker.
type DetectorOptions struct {
	Model          string
	ImageWidth     int
	ImageHeight    int
	ScoreThreshold float64
	NMSThreshold   float64
	Backend        string
	Target         string

	IoUThreshold float64
	MaxLost      int
	CenterGate   float64
}

func NewDetectorOptions() *DetectorOptions {
	return &DetectorOptions{
		Model:          os.Getenv("YOLO_MODEL"),
		ImageWidth:     EnvInt("IMAGE_WIDTH", 640),
		ImageHeight:    EnvInt("IMAGE_HEIGHT", 640),
		ScoreThreshold: EnvFloat("SCORE_THRESHOLD", 0.25),
		NMSThreshold:   EnvFloat("NMS_THRESHOLD", 0.5),
		Backend:        EnvString("DNN_BACKEND", "default"),
		Target:         EnvString("DNN_TARGET", "cpu"),
		IoUThreshold:   EnvFloat("TRACKER_IOU_THRESHOLD", 0.3),
		MaxLost:        EnvInt("TRACKER_MAX_LOST", 30),
		CenterGate:     EnvFloat("TRACKER_CENTER_GATE", 1.0),
	}
}

func (o *DetectorOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Model, "model", o.Model, "Path to the YOLOv8 ONNX model.")
	fs.IntVar(&o.ImageWidth, "image-width", o.ImageWidth, "Network input width.")
	fs.IntVar(&o.ImageHeight, "image-height", o.ImageHeight, "Network input height.")
	fs.Float64Var(&o.ScoreThreshold, "score-threshold", o.ScoreThreshold, "Minimum detection confidence kept by the detector.")
	fs.Float64Var(&o.NMSThreshold, "nms-threshold", o.NMSThreshold, "IoU threshold of non-maximum suppression.")
	fs.StringVar(&o.Backend, "dnn-backend", o.Backend, "OpenCV DNN backend (default, openvino, cuda, ...).")
	fs.StringVar(&o.Target, "dnn-target", o.Target, "OpenCV DNN target (cpu, fp16, cuda, ...).")
	fs.Float64Var(&o.IoUThreshold, "tracker-iou-threshold", o.IoUThreshold, "Minimum IoU to continue a track.")
	fs.IntVar(&o.MaxLost, "tracker-max-lost", o.MaxLost, "Frames a track survives without a match.")
	fs.Float64Var(&o.CenterGate, "tracker-center-gate", o.CenterGate, "Max distance, in predicted box diagonals, between a track and a detection it may continue.")
}

func (o *DetectorOptions) TrackerConfig() tracker.Config {
	return tracker.Config{IoUThreshold: o.IoUThreshold, MaxLost: o.MaxLost, CenterGate: o.CenterGate}
}

func (o *DetectorOptions) Validate() error {
	if o.Model == "" {
		return fmt.Errorf("model path is not set (--model or YOLO_MODEL)")
	}
	if o.ImageWidth <= 0 || o.ImageHeight <= 0 {
		return fmt.Errorf("invalid network input size %dx%d", o.ImageWidth, o.ImageHeight)
	}
	return nil
}

// RemoteOptions points at a detector service; when set, frames are tracked remotely.
type RemoteOptions struct {
	Host           string
	Port           string
	Interval       time.Duration
	ConnectTimeout time.Duration
}

func NewRemoteOptions() *RemoteOptions {
	return &RemoteOptions{
		Host:           os.Getenv("REMOTE_DETECTOR_HOST"),
		Port:           os.Getenv("REMOTE_DETECTOR_PORT"),
		Interval:       EnvDuration("REMOTE_MONITOR_INTERVAL", 5*time.Second),
		ConnectTimeout: EnvDuration("REMOTE_CONNECT_TIMEOUT", 30*time.Second),
	}
}

func (o *RemoteOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Host, "remote-detector-host", o.Host, "Host of the detector service.")
	fs.StringVar(&o.Port, "remote-detector-port", o.Port, "Port of the detector service.")
	fs.DurationVar(&o.Interval, "remote-monitor-interval", o.Interval, "Interval between connection checks.")
	fs.DurationVar(&o.ConnectTimeout, "remote-connect-timeout", o.ConnectTimeout, "How long a video waits for the detector service to connect.")
}

func (o *RemoteOptions) Service() api.Service {
	return api.Service{Address: o.Host, Port: o.Port}
}

func (o *RemoteOptions) Enabled() bool {
	s := o.Service()
	return s.Configured()
}
