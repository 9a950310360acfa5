package oracle

import (
	"context"
	"image"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/etesami/traffic-counting-system/pkg/counting"
)

type echoServer struct {
	UnimplementedTrackingOracleServer
	mu       sync.Mutex
	sessions map[string][]int
}

func (s *echoServer) OpenSession(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions["s1"] = nil
	return wrapperspb.String("s1"), nil
}

// Track reports one car whose track id is the frame size, so the test can see the payload arrived.
func (s *echoServer) Track(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	id, err := SessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return nil, status.Errorf(codes.NotFound, "session %s", id)
	}
	s.sessions[id] = append(s.sessions[id], len(in.GetValue()))
	return EncodeDetections([]counting.Detection{
		{ClassID: 2, Confidence: 0.5, TrackID: int64(len(in.GetValue())), Box: image.Rect(1, 2, 3, 4)},
	}), nil
}

func (s *echoServer) CloseSession(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, in.GetValue())
	return &emptypb.Empty{}, nil
}

func dialBufconn(t *testing.T, srv TrackingOracleServer) TrackingOracleClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterTrackingOracleServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewTrackingOracleClient(conn)
}

func TestSessionRoundTrip(t *testing.T) {
	srv := &echoServer{sessions: map[string][]int{}}
	client := dialBufconn(t, srv)
	ctx := context.Background()

	sess, err := OpenSession(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID())

	dets, err := sess.Track(ctx, []byte("12345"))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, counting.Detection{ClassID: 2, Confidence: 0.5, TrackID: 5, Box: image.Rect(1, 2, 3, 4)}, dets[0])

	require.NoError(t, sess.Close(ctx))

	_, err = sess.Track(ctx, []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestUnimplementedServer(t *testing.T) {
	client := dialBufconn(t, UnimplementedTrackingOracleServer{})
	_, err := OpenSession(context.Background(), client)
	require.Error(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestOpenSessionNilClient(t *testing.T) {
	_, err := OpenSession(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenSessionServiceDown(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	require.NoError(t, lis.Close())
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = OpenSession(context.Background(), NewTrackingOracleClient(conn))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEncodeDecodeDetections(t *testing.T) {
	in := []counting.Detection{
		{ClassID: 7, Confidence: 0.75, TrackID: 12, Box: image.Rect(10, 20, 110, 220)},
		{ClassID: 0, Confidence: 0.3, TrackID: counting.Untracked, Box: image.Rect(0, 0, 5, 5)},
	}
	out, err := DecodeDetections(EncodeDetections(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeDetectionsRejectsMalformed(t *testing.T) {
	_, err := DecodeDetections(&structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue("car")}})
	assert.Error(t, err)

	partial, _ := structpb.NewStruct(map[string]interface{}{"class_id": 2})
	_, err = DecodeDetections(&structpb.ListValue{Values: []*structpb.Value{structpb.NewStructValue(partial)}})
	assert.ErrorContains(t, err, "missing field")

	dets, err := DecodeDetections(nil)
	assert.NoError(t, err)
	assert.Empty(t, dets)
}

func TestSessionFromContext(t *testing.T) {
	_, err := SessionFromContext(context.Background())
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
