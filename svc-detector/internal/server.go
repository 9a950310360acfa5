package internal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/etesami/traffic-counting-system/pkg/counting"
	mt "github.com/etesami/traffic-counting-system/pkg/metric"
	"github.com/etesami/traffic-counting-system/pkg/oracle"
)

// Session tracks the frames of one video.
type Session interface {
	TrackImage(data []byte) ([]counting.Detection, error)
	Close() error
}

// SessionFactory starts a fresh session, with track ids restarting at 1.
type SessionFactory interface {
	NewSession() Session
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func() Session

func (f SessionFactoryFunc) NewSession() Session {
	return f()
}

type Server struct {
	oracle.UnimplementedTrackingOracleServer

	Factory SessionFactory
	Metric  *mt.Metric
	Logger  *slog.Logger

	sessions sync.Map // id -> *entry
}

type entry struct {
	// Frames of one session are tracked in order.
	mu   sync.Mutex
	sess Session
}

func NewServer(factory SessionFactory, m *mt.Metric, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Factory: factory, Metric: m, Logger: logger}
}

func (s *Server) OpenSession(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	id := uuid.NewString()
	s.sessions.Store(id, &entry{sess: s.Factory.NewSession()})
	s.Logger.Info("session opened", "session", id)
	return wrapperspb.String(id), nil
}

func (s *Server) Track(ctx context.Context, frame *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	id, err := oracle.SessionFromContext(ctx)
	if err != nil {
		return nil, err
	}
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "session %s not found", id)
	}
	if len(frame.GetValue()) == 0 {
		s.Metric.AddFrameCount("failed", 1)
		return nil, status.Error(codes.InvalidArgument, "empty frame")
	}

	e := v.(*entry)
	st := time.Now()
	e.mu.Lock()
	dets, err := e.sess.TrackImage(frame.GetValue())
	e.mu.Unlock()
	if err != nil {
		s.Metric.AddFrameCount("failed", 1)
		if errors.Is(err, oracle.ErrInvalidFrame) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.Logger.Error("error tracking frame", "session", id, "err", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.Metric.AddInferenceTime(float64(time.Since(st).Microseconds()) / 1000.0)
	s.Metric.AddFrameCount("processed", 1)

	return oracle.EncodeDetections(dets), nil
}

func (s *Server) CloseSession(ctx context.Context, id *wrapperspb.StringValue) (*emptypb.Empty, error) {
	v, ok := s.sessions.LoadAndDelete(id.GetValue())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "session %s not found", id.GetValue())
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sess.Close(); err != nil {
		s.Logger.Warn("error closing session", "session", id.GetValue(), "err", err)
	}
	s.Logger.Info("session closed", "session", id.GetValue())
	return &emptypb.Empty{}, nil
}

// Close releases every open session. Call it after the gRPC server has stopped.
func (s *Server) Close() {
	s.sessions.Range(func(k, v any) bool {
		s.sessions.Delete(k)
		if err := v.(*entry).sess.Close(); err != nil {
			s.Logger.Warn("error closing session", "session", k, "err", err)
		}
		return true
	})
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
