package oracle

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/etesami/traffic-counting-system/pkg/counting"
)

var (
	ErrUnknownSession = errors.New("unknown tracking session")
	// ErrInvalidFrame marks frames that cannot be decoded; the server maps it to InvalidArgument.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrUnavailable is returned while the service cannot be reached.
	ErrUnavailable = errors.New("tracking service unavailable")
)

// Session is the client side of one remote tracking session.
type Session struct {
	client TrackingOracleClient
	id     string
}

func OpenSession(ctx context.Context, client TrackingOracleClient) (*Session, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is not initialized", ErrUnavailable)
	}
	resp, err := client.OpenSession(ctx, &emptypb.Empty{})
	if err != nil {
		if status.Code(err) == codes.Unavailable {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("error opening session: %w", err)
	}
	return &Session{client: client, id: resp.GetValue()}, nil
}

func (s *Session) ID() string {
	return s.id
}

// Track sends one JPEG-encoded frame and returns its tracked detections.
func (s *Session) Track(ctx context.Context, jpeg []byte) ([]counting.Detection, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, SessionMetadataKey, s.id)
	resp, err := s.client.Track(ctx, wrapperspb.Bytes(jpeg))
	if err != nil {
		switch status.Code(err) {
		case codes.NotFound:
			return nil, fmt.Errorf("%w %s", ErrUnknownSession, s.id)
		case codes.Unavailable:
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("error sending frame to server: %w", err)
	}
	return DecodeDetections(resp)
}

func (s *Session) Close(ctx context.Context) error {
	if _, err := s.client.CloseSession(ctx, wrapperspb.String(s.id)); err != nil {
		return fmt.Errorf("error closing session %s: %w", s.id, err)
	}
	return nil
}

// SessionFromContext returns the session id of an incoming Track call.
func SessionFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "missing metadata")
	}
	vals := md.Get(SessionMetadataKey)
	if len(vals) == 0 || vals[0] == "" {
		return "", status.Errorf(codes.InvalidArgument, "missing %s", SessionMetadataKey)
	}
	return vals[0], nil
}
