package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric holds the service collectors. The collectors are safe for concurrent use,
// so a Metric can be shared by every worker and request handler.
type Metric struct {
	procTimeHistogram      prometheus.Histogram
	inferenceTimeHistogram prometheus.Histogram
	rttTimeHistogram       *prometheus.HistogramVec

	procTime      prometheus.Gauge
	frames        *prometheus.CounterVec
	vehicles      *prometheus.CounterVec
	trafficLevels *prometheus.CounterVec
	queueLength   prometheus.Gauge
	ingested      *prometheus.CounterVec
}

// RegisterMetrics creates the collectors and registers them with reg.
// Nil bucket slices fall back to prometheus.DefBuckets.
func (m *Metric) RegisterMetrics(reg prometheus.Registerer, procTimeBuckets, inferenceTimeBuckets, rttTimeBuckets []float64) {
	if procTimeBuckets == nil {
		procTimeBuckets = prometheus.DefBuckets
	}
	if inferenceTimeBuckets == nil {
		inferenceTimeBuckets = prometheus.DefBuckets
	}
	if rttTimeBuckets == nil {
		rttTimeBuckets = prometheus.DefBuckets
	}

	m.procTimeHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "video_processing_time_ms_histogram",
			Help:    "Histogram of whole-video processing times.",
			Buckets: procTimeBuckets,
		},
	)
	m.inferenceTimeHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_time_ms_histogram",
			Help:    "Histogram of per-frame detection and tracking times.",
			Buckets: inferenceTimeBuckets,
		},
	)
	m.rttTimeHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rtt_times_ms_histogram",
			Help:    "Histogram of round-trip times.",
			Buckets: rttTimeBuckets,
		},
		[]string{"service"},
	)
	m.procTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_processing_time_ms",
			Help: "Processing time of the last video.",
		},
	)
	m.frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frames_total",
			Help: "Number of frames by outcome.",
		},
		[]string{"status"},
	)
	m.vehicles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vehicles_counted_total",
			Help: "Unique vehicles counted across all processed videos.",
		},
		[]string{"class"},
	)
	m.trafficLevels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traffic_level_total",
			Help: "Processed videos by traffic level.",
		},
		[]string{"level"},
	)

	m.queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_queue_length",
			Help: "Videos waiting in the ingest queue.",
		},
	)
	m.ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingested_videos_total",
			Help: "Videos taken from the inbox by outcome.",
		},
		[]string{"status"},
	)

	reg.MustRegister(m.procTimeHistogram)
	reg.MustRegister(m.inferenceTimeHistogram)
	reg.MustRegister(m.rttTimeHistogram)
	reg.MustRegister(m.procTime)
	reg.MustRegister(m.frames)
	reg.MustRegister(m.vehicles)
	reg.MustRegister(m.trafficLevels)
	reg.MustRegister(m.queueLength)
	reg.MustRegister(m.ingested)
}

// AddProcessingTime records the time, in ms, it took to process one video.
func (m *Metric) AddProcessingTime(time float64) {
	if m == nil || m.procTimeHistogram == nil {
		return
	}
	m.procTimeHistogram.Observe(time)
	m.procTime.Set(time)
}

func (m *Metric) AddInferenceTime(time float64) {
	if m == nil || m.inferenceTimeHistogram == nil {
		return
	}
	m.inferenceTimeHistogram.Observe(time)
}

func (m *Metric) AddRttTime(s string, time float64) {
	if m == nil || m.rttTimeHistogram == nil {
		return
	}
	m.rttTimeHistogram.WithLabelValues(s).Observe(time)
}

// AddFrameCount increments the frame counter for status ("processed", "failed").
func (m *Metric) AddFrameCount(status string, n float64) {
	if m == nil || m.frames == nil {
		return
	}
	m.frames.WithLabelValues(status).Add(n)
}

// AddVehicles adds the final count of one video to the per-class totals.
func (m *Metric) AddVehicles(class string, n float64) {
	if m == nil || m.vehicles == nil {
		return
	}
	m.vehicles.WithLabelValues(class).Add(n)
}

func (m *Metric) AddTrafficLevel(level string) {
	if m == nil || m.trafficLevels == nil {
		return
	}
	m.trafficLevels.WithLabelValues(level).Inc()
}

func (m *Metric) SetQueueLength(n int) {
	if m == nil || m.queueLength == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

// AddIngested counts one inbox video by status ("done", "failed", "retry").
func (m *Metric) AddIngested(status string) {
	if m == nil || m.ingested == nil {
		return
	}
	m.ingested.WithLabelValues(status).Inc()
}
