package grpc_handler

import (
	"context"
	"errors"
	"sync"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/anthanhphan/go-file-drop/internal/drop/port"
	"github.com/anthanhphan/go-file-drop/internal/registry/rpc"
	"github.com/anthanhphan/gosdk/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server exposes a port.Registry as the registry gRPC service.
type Server struct {
	registry port.Registry
	done     chan struct{}
	once     sync.Once
}

// Ensure Server implements rpc.RegistryServer.
var _ rpc.RegistryServer = (*Server)(nil)

// NewServer creates a new gRPC server.
func NewServer(registry port.Registry) *Server {
	return &Server{
		registry: registry,
		done:     make(chan struct{}),
	}
}

// Shutdown ends every open Watch stream so a graceful stop can complete.
func (s *Server) Shutdown() {
	s.once.Do(func() { close(s.done) })
}

// Create handles file creation.
func (s *Server) Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	file, err := rpc.ToNewFile(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	record, err := s.registry.Create(ctx, file)
	if err != nil {
		logger.Warnw("Create rejected", "name", file.Name, "error", err.Error())
		return nil, toStatus(err, "failed to create file")
	}
	return rpc.FromRecord(record), nil
}

// Delete handles file deletion.
func (s *Server) Delete(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "file id is required")
	}
	if err := s.registry.Delete(ctx, req.GetValue()); err != nil {
		logger.Warnw("Delete rejected", "file_id", req.GetValue(), "error", err.Error())
		return nil, toStatus(err, "failed to delete file")
	}
	return &emptypb.Empty{}, nil
}

// Watch streams the current snapshot and every later one until the client
// goes away or the backing registry fails.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	mailbox := domain.NewSnapshotMailbox()
	failed := make(chan error, 1)

	sub, err := s.registry.Watch(ctx, mailbox.Put, func(err error) {
		select {
		case failed <- err:
		default:
		}
	})
	if err != nil {
		return toStatus(err, "failed to open watch")
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return status.Error(codes.Unavailable, "registry server shutting down")
		case err := <-failed:
			logger.Warnw("Watch ended by registry failure", "error", err.Error())
			return status.Errorf(codes.Unavailable, "registry watch failed: %v", err)
		case snap := <-mailbox.C():
			if err := stream.Send(rpc.FromSnapshot(snap)); err != nil {
				return err
			}
		}
	}
}

func toStatus(err error, msg string) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Errorf(codes.Unavailable, "%s: %v", msg, err)
}
