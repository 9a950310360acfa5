// Package oracle exposes a detection+tracking engine over gRPC. Messages are protobuf
// well-known types, so the service needs no generated code.
package oracle

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "detection.TrackingOracle"

	OpenSessionMethod  = "/detection.TrackingOracle/OpenSession"
	TrackMethod        = "/detection.TrackingOracle/Track"
	CloseSessionMethod = "/detection.TrackingOracle/CloseSession"

	// SessionMetadataKey carries the session id of a Track call.
	SessionMetadataKey = "x-session-id"
)

// TrackingOracleServer is implemented by the detector service.
//
// OpenSession starts a tracking session (one per video) and returns its id.
// Track runs detection and tracking on one JPEG-encoded frame of the session named in
// the call metadata and returns a list of detection structs.
// CloseSession releases the session.
type TrackingOracleServer interface {
	OpenSession(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	Track(context.Context, *wrapperspb.BytesValue) (*structpb.ListValue, error)
	CloseSession(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

func RegisterTrackingOracleServer(s grpc.ServiceRegistrar, srv TrackingOracleServer) {
	s.RegisterService(&TrackingOracleServiceDesc, srv)
}

func openSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackingOracleServer).OpenSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OpenSessionMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrackingOracleServer).OpenSession(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func trackHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackingOracleServer).Track(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TrackMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrackingOracleServer).Track(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func closeSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TrackingOracleServer).CloseSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CloseSessionMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TrackingOracleServer).CloseSession(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var TrackingOracleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrackingOracleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenSession", Handler: openSessionHandler},
		{MethodName: "Track", Handler: trackHandler},
		{MethodName: "CloseSession", Handler: closeSessionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "detection/oracle",
}

type TrackingOracleClient interface {
	OpenSession(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Track(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.ListValue, error)
	CloseSession(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type trackingOracleClient struct {
	cc grpc.ClientConnInterface
}

func NewTrackingOracleClient(cc grpc.ClientConnInterface) TrackingOracleClient {
	return &trackingOracleClient{cc: cc}
}

func (c *trackingOracleClient) OpenSession(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, OpenSessionMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *trackingOracleClient) Track(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, TrackMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *trackingOracleClient) CloseSession(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, CloseSessionMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// UnimplementedTrackingOracleServer can be embedded to get Unimplemented errors for
// methods a server does not provide.
type UnimplementedTrackingOracleServer struct{}

func (UnimplementedTrackingOracleServer) OpenSession(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method OpenSession not implemented")
}

func (UnimplementedTrackingOracleServer) Track(context.Context, *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Track not implemented")
}

func (UnimplementedTrackingOracleServer) CloseSession(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CloseSession not implemented")
}
