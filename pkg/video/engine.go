package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/etesami/traffic-counting-system/pkg/counting"
	"github.com/etesami/traffic-counting-system/pkg/detector"
	mt "github.com/etesami/traffic-counting-system/pkg/metric"
	"github.com/etesami/traffic-counting-system/pkg/options"
	"github.com/etesami/traffic-counting-system/pkg/oracle"
	"github.com/etesami/traffic-counting-system/pkg/pipeline"
	"github.com/etesami/traffic-counting-system/pkg/tracker"
	"github.com/etesami/traffic-counting-system/pkg/utils"
)

// LocalEngine runs the shared YOLO detector in process and gives every video its
// own Kalman-predicted tracker.
type LocalEngine struct {
	Detector      *detector.Detector
	TrackerConfig tracker.Config
}

// NewLocalEngine loads the detector model described by o.
func NewLocalEngine(o *options.DetectorOptions) (*LocalEngine, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	det, err := detector.New(detector.Config{
		Model:          o.Model,
		ImageWidth:     o.ImageWidth,
		ImageHeight:    o.ImageHeight,
		ScoreThreshold: float32(o.ScoreThreshold),
		NMSThreshold:   float32(o.NMSThreshold),
		Backend:        o.Backend,
		Target:         o.Target,
	})
	if err != nil {
		return nil, err
	}
	return &LocalEngine{Detector: det, TrackerConfig: o.TrackerConfig()}, nil
}

func (e *LocalEngine) Close() error {
	return e.Detector.Close()
}

func (e *LocalEngine) NewTracker(ctx context.Context) (pipeline.Tracker, error) {
	return e.NewSession(), nil
}

// NewSession starts a tracker that also accepts encoded images, for the gRPC service.
func (e *LocalEngine) NewSession() *LocalSession {
	return &LocalSession{det: e.Detector, iou: tracker.NewIoUTracker(e.TrackerConfig)}
}

type LocalSession struct {
	det *detector.Detector
	iou *tracker.IoUTracker
}

func (s *LocalSession) Track(ctx context.Context, f pipeline.Frame) ([]counting.Detection, error) {
	img, err := matOf(f)
	if err != nil {
		return nil, err
	}
	return s.trackMat(img)
}

// TrackImage decodes an encoded image (JPEG, PNG) and tracks it.
func (s *LocalSession) TrackImage(data []byte) ([]counting.Detection, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oracle.ErrInvalidFrame, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", oracle.ErrInvalidFrame)
	}
	return s.trackMat(img)
}

func (s *LocalSession) trackMat(img gocv.Mat) ([]counting.Detection, error) {
	dets, err := s.det.Detect(img)
	if err != nil {
		return nil, err
	}
	return s.iou.Update(dets), nil
}

func (s *LocalSession) Close() error {
	return nil
}

// NewEngine returns a RemoteEngine when a detector service is configured in r, and
// loads the model described by d in process otherwise. release frees the engine.
func NewEngine(ctx context.Context, d *options.DetectorOptions, r *options.RemoteOptions, m *mt.Metric, logger *slog.Logger) (engine pipeline.Engine, release func(), err error) {
	if r.Enabled() {
		client := &utils.GrpcClient{}
		target := r.Service()
		monitorCtx, cancel := context.WithCancel(ctx)
		go utils.MonitorConnection(monitorCtx, target, client, r.Interval)
		logger.Info("using remote detector", "target", target.String())
		return &RemoteEngine{Client: client, Metric: m, ConnectTimeout: r.ConnectTimeout}, cancel, nil
	}

	local, err := NewLocalEngine(d)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load detector: %w", err)
	}
	logger.Info("detector loaded", "model", d.Model, "width", d.ImageWidth, "height", d.ImageHeight)
	return local, func() { local.Close() }, nil
}

const (
	DefaultConnectTimeout = 30 * time.Second
	connectPoll           = 100 * time.Millisecond
)

// RemoteEngine sends frames to the detector service over gRPC.
type RemoteEngine struct {
	Client *utils.GrpcClient
	Metric *mt.Metric
	// ConnectTimeout bounds how long NewTracker waits for the first connection.
	ConnectTimeout time.Duration
}

// NewTracker opens a remote session, waiting for the connection monitor to
// connect first. Failures to reach the service wrap pipeline.ErrEngineUnavailable.
func (e *RemoteEngine) NewTracker(ctx context.Context) (pipeline.Tracker, error) {
	timeout := e.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	client, err := e.Client.Wait(waitCtx, connectPoll)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: detector service is not connected: %v", pipeline.ErrEngineUnavailable, err)
	}

	sess, err := oracle.OpenSession(ctx, client)
	if err != nil {
		return nil, unavailable(err)
	}
	return &remoteTracker{sess: sess, metric: e.Metric}, nil
}

func unavailable(err error) error {
	if errors.Is(err, oracle.ErrUnavailable) {
		return fmt.Errorf("%w: %w", pipeline.ErrEngineUnavailable, err)
	}
	return err
}

type remoteTracker struct {
	sess   *oracle.Session
	metric *mt.Metric
}

func (t *remoteTracker) Track(ctx context.Context, f pipeline.Frame) ([]counting.Detection, error) {
	img, err := matOf(f)
	if err != nil {
		return nil, err
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("error encoding frame: %w", err)
	}
	defer buf.Close()

	st := time.Now()
	dets, err := t.sess.Track(ctx, buf.GetBytes())
	if err != nil {
		return nil, unavailable(err)
	}
	t.metric.AddRttTime("detector", float64(time.Since(st).Microseconds())/1000.0)
	return dets, nil
}

func (t *remoteTracker) Close() error {
	return t.sess.Close(context.Background())
}
