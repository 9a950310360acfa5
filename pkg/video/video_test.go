package video

import (
	"context"
	"errors"
	"image"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/etesami/traffic-counting-system/pkg/counting"
	"github.com/etesami/traffic-counting-system/pkg/pipeline"
	"github.com/etesami/traffic-counting-system/pkg/utils"
)

func writeTestVideo(t *testing.T, path string, frames int) {
	t.Helper()
	w, err := gocv.VideoWriterFile(path, "MJPG", 10, 160, 120, true)
	require.NoError(t, err)
	defer w.Close()
	require.True(t, w.IsOpened())

	for i := 0; i < frames; i++ {
		img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(i*40), 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
		require.NoError(t, w.Write(img))
		img.Close()
	}
}

func TestMediaReadsUntilEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.avi")
	writeTestVideo(t, path, 3)

	src, err := Media{}.OpenSource(path)
	require.NoError(t, err)
	defer src.Close()

	w, h := src.Size()
	assert.Equal(t, 160, w)
	assert.Equal(t, 120, h)

	n := 0
	for {
		f, err := src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		f.Close()
		n++
	}
	assert.Equal(t, 3, n)
}

func TestMediaOpenMissingFile(t *testing.T) {
	_, err := Media{}.OpenSource(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestSinkCloseIsIdempotent(t *testing.T) {
	s, err := Media{}.CreateSink(filepath.Join(t.TempDir(), "out.avi"), "MJPG", 25, 64, 48)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestAnnotatorDrawsCounts(t *testing.T) {
	img := gocv.NewMatWithSize(200, 300, gocv.MatTypeCV8UC3)
	f := &Frame{Mat: img}
	defer f.Close()

	before := gocv.CountNonZero(channel0(t, img))
	dets := []counting.Detection{{ClassID: 2, Confidence: 0.9, TrackID: 1, Box: image.Rect(100, 100, 180, 160)}}
	require.NoError(t, Annotator{}.Annotate(f, dets, counting.VehicleCounts{counting.Car: 1}))
	after := gocv.CountNonZero(channel0(t, img))
	assert.Greater(t, after, before)
}

func channel0(t *testing.T, img gocv.Mat) gocv.Mat {
	t.Helper()
	channels := gocv.Split(img)
	for _, c := range channels[1:] {
		c.Close()
	}
	t.Cleanup(func() { channels[0].Close() })
	return channels[0]
}

func TestAnnotatorRejectsForeignFrame(t *testing.T) {
	err := Annotator{}.Annotate(foreignFrame{}, nil, nil)
	assert.Error(t, err)
}

type foreignFrame struct{}

func (foreignFrame) Close() error { return nil }

func TestLabel(t *testing.T) {
	assert.Equal(t, "id:4 truck 0.50", label(counting.Detection{ClassID: 7, Confidence: 0.5, TrackID: 4}))
	assert.Equal(t, "bus 0.25", label(counting.Detection{ClassID: 5, Confidence: 0.25, TrackID: counting.Untracked}))
}

// staticEngine reports one car with a fixed id on every frame.
type staticEngine struct{}

func (staticEngine) NewTracker(ctx context.Context) (pipeline.Tracker, error) { return staticTracker{}, nil }

type staticTracker struct{}

func (staticTracker) Track(ctx context.Context, f pipeline.Frame) ([]counting.Detection, error) {
	return []counting.Detection{{ClassID: 2, Confidence: 0.9, TrackID: 7, Box: image.Rect(10, 10, 50, 40)}}, nil
}

func (staticTracker) Close() error { return nil }

func TestProcessVideoEndToEnd(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.avi")
	out := filepath.Join(dir, "out.avi")
	writeTestVideo(t, in, 4)

	media := codecOverride{codec: "MJPG"}
	p := pipeline.NewProcessor(media, staticEngine{}, Annotator{}, nil, nil)
	res, err := p.ProcessVideo(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Frames)
	assert.Equal(t, 1, res.Counts[counting.Car])
	assert.Equal(t, counting.Low, res.Level)

	src, err := Media{}.OpenSource(out)
	require.NoError(t, err)
	defer src.Close()
	w, h := src.Size()
	assert.Equal(t, 160, w)
	assert.Equal(t, 120, h)
}

// codecOverride swaps the output codec for one every OpenCV build can write.
type codecOverride struct {
	Media
	codec string
}

func (m codecOverride) CreateSink(path string, _ string, fps float64, width, height int) (pipeline.Sink, error) {
	return m.Media.CreateSink(path, m.codec, fps, width, height)
}

type fakeOracle struct {
	openErr error
}

func (f fakeOracle) OpenSession(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return wrapperspb.String("session-1"), nil
}

func (f fakeOracle) Track(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return &structpb.ListValue{}, nil
}

func (f fakeOracle) CloseSession(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, nil
}

func TestRemoteEngineWaitsForConnection(t *testing.T) {
	client := &utils.GrpcClient{}
	e := &RemoteEngine{Client: client, ConnectTimeout: 5 * time.Second}

	// the connection monitor stores the client a moment after startup
	go func() {
		time.Sleep(50 * time.Millisecond)
		client.Store(fakeOracle{})
	}()

	tr, err := e.NewTracker(context.Background())
	require.NoError(t, err)
	rt, ok := tr.(*remoteTracker)
	require.True(t, ok)
	assert.Equal(t, "session-1", rt.sess.ID())
	assert.NoError(t, tr.Close())
}

func TestRemoteEngineUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		client *utils.GrpcClient
	}{
		{name: "never connected", client: &utils.GrpcClient{}},
		{name: "service down", client: func() *utils.GrpcClient {
			c := &utils.GrpcClient{}
			c.Store(fakeOracle{openErr: status.Error(codes.Unavailable, "connection refused")})
			return c
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &RemoteEngine{Client: tt.client, ConnectTimeout: 50 * time.Millisecond}
			_, err := e.NewTracker(context.Background())
			assert.ErrorIs(t, err, pipeline.ErrEngineUnavailable)
		})
	}
}

func TestRemoteEngineOtherErrors(t *testing.T) {
	c := &utils.GrpcClient{}
	c.Store(fakeOracle{openErr: status.Error(codes.Internal, "boom")})
	e := &RemoteEngine{Client: c, ConnectTimeout: 50 * time.Millisecond}
	_, err := e.NewTracker(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, pipeline.ErrEngineUnavailable)
}
