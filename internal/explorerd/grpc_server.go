package explorerd

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/interaction"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/metrics"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "explorer.v1.ExplorerService"

// ExplorerServer is the server API of explorer.v1.ExplorerService. Every
// message is a google.protobuf.Struct.
type ExplorerServer interface {
	CreateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelectRoot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Expand(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamSnapshots(*structpb.Struct, grpc.ServerStream) error
}

func unaryMethod(name string, call func(ExplorerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExplorerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ExplorerServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func streamSnapshotsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ExplorerServer).StreamSnapshots(in, stream)
}

// ExplorerServiceDesc describes explorer.v1.ExplorerService for grpc.Server.RegisterService.
var ExplorerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExplorerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateSession", ExplorerServer.CreateSession),
		unaryMethod("SelectRoot", ExplorerServer.SelectRoot),
		unaryMethod("Expand", ExplorerServer.Expand),
		unaryMethod("GetSnapshot", ExplorerServer.GetSnapshot),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamSnapshots",
			Handler:       streamSnapshotsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "explorer/v1/explorer.proto",
}

// RegisterExplorerServer registers srv on s.
func RegisterExplorerServer(s grpc.ServiceRegistrar, srv ExplorerServer) {
	s.RegisterService(&ExplorerServiceDesc, srv)
}

// ExplorerGRPCServer implements ExplorerServer using a SessionStore backend.
type ExplorerGRPCServer struct {
	store          *SessionStore
	streamInterval time.Duration
}

// NewExplorerGRPCServer creates a gRPC server over store. Streams poll the
// snapshot every streamInterval unless the request sets interval_ms.
func NewExplorerGRPCServer(store *SessionStore, streamInterval time.Duration) *ExplorerGRPCServer {
	if streamInterval <= 0 {
		streamInterval = 100 * time.Millisecond
	}
	return &ExplorerGRPCServer{store: store, streamInterval: streamInterval}
}

func (s *ExplorerGRPCServer) CreateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.store.Create(stringField(req, "session_id"))
	if err != nil {
		return nil, statusFromError(err)
	}
	logger.Info("session created", "session_id", sess.ID)
	return toStruct(map[string]any{"session": sess.Info()})
}

func (s *ExplorerGRPCServer) SelectRoot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.gesture(req)
	if err != nil {
		return nil, err
	}
	selector := stringField(req, "selector")
	if selector == "" {
		return nil, status.Error(codes.InvalidArgument, "selector is required")
	}
	var seed *models.Vec
	if seedField, ok := req.GetFields()["seed"]; ok {
		fields := seedField.GetStructValue().GetFields()
		seed = &models.Vec{X: fields["x"].GetNumberValue(), Y: fields["y"].GetNumberValue()}
	}
	token, err := sess.SelectRoot(selector, seed)
	if err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(map[string]any{"token": token})
}

func (s *ExplorerGRPCServer) Expand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.gesture(req)
	if err != nil {
		return nil, err
	}
	nodeID := stringField(req, "node_id")
	if nodeID == "" {
		return nil, status.Error(codes.InvalidArgument, "node_id is required")
	}
	token, err := sess.Expand(nodeID)
	if err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(map[string]any{"token": token})
}

func (s *ExplorerGRPCServer) GetSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	return toStruct(sess.Snapshot())
}

// StreamSnapshots sends the session's snapshot whenever it changes until the
// client goes away or the session is deleted.
func (s *ExplorerGRPCServer) StreamSnapshots(req *structpb.Struct, stream grpc.ServerStream) error {
	sess, err := s.lookup(req)
	if err != nil {
		return err
	}
	interval := s.streamInterval
	if ms := req.GetFields()["interval_ms"].GetNumberValue(); ms > 0 {
		interval = time.Duration(ms) * time.Millisecond
	}

	var last *structpb.Struct
	send := func() error {
		msg, err := toStruct(sess.Snapshot())
		if err != nil {
			return err
		}
		if last != nil && proto.Equal(last, msg) {
			return nil
		}
		last = msg
		return stream.SendMsg(msg)
	}
	if err := send(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-sess.loop.Done():
			return status.Error(codes.Aborted, "session closed")
		case <-ticker.C:
			if err := send(); err != nil {
				return err
			}
		}
	}
}

func (s *ExplorerGRPCServer) lookup(req *structpb.Struct) (*Session, error) {
	id := stringField(req, "session_id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	sess, err := s.store.Lookup(id)
	if err != nil {
		return nil, statusFromError(err)
	}
	return sess, nil
}

// gesture looks up the session and charges one gesture against its limit.
func (s *ExplorerGRPCServer) gesture(req *structpb.Struct) (*Session, error) {
	sess, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.AllowGesture(sess.ID); err != nil {
		metrics.RecordRateLimited("grpc")
		return nil, statusFromError(err)
	}
	return sess, nil
}

func statusFromError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, interaction.ErrUnknownNode):
		code = codes.NotFound
	case errors.Is(err, ErrSessionExists):
		code = codes.AlreadyExists
	case errors.Is(err, ErrTooManySessions), errors.Is(err, ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, interaction.ErrEmptySelector),
		errors.Is(err, interaction.ErrInvalidViewport),
		errors.Is(err, interaction.ErrInvalidPoint):
		code = codes.InvalidArgument
	case errors.Is(err, interaction.ErrNotDragging):
		code = codes.FailedPrecondition
	case errors.Is(err, interaction.ErrClosed), errors.Is(err, ErrStoreClosed):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ExplorerClient is a client for explorer.v1.ExplorerService.
type ExplorerClient struct {
	cc grpc.ClientConnInterface
}

func NewExplorerClient(cc grpc.ClientConnInterface) *ExplorerClient {
	return &ExplorerClient{cc: cc}
}

func (c *ExplorerClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ExplorerClient) CreateSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CreateSession", in, opts...)
}

func (c *ExplorerClient) SelectRoot(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "SelectRoot", in, opts...)
}

func (c *ExplorerClient) Expand(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Expand", in, opts...)
}

func (c *ExplorerClient) GetSnapshot(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetSnapshot", in, opts...)
}

// SnapshotStream receives the messages of a StreamSnapshots call.
type SnapshotStream struct {
	grpc.ClientStream
}

func (s *SnapshotStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *ExplorerClient) StreamSnapshots(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*SnapshotStream, error) {
	stream, err := c.cc.NewStream(ctx, &ExplorerServiceDesc.Streams[0], "/"+ServiceName+"/StreamSnapshots", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SnapshotStream{ClientStream: stream}, nil
}
