// Package grpc_registry talks to a standalone registry server over gRPC.
package grpc_registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/anthanhphan/go-file-drop/internal/drop/port"
	"github.com/anthanhphan/go-file-drop/internal/registry/rpc"
	"github.com/anthanhphan/go-file-drop/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

// Payloads are base64 and the view caps uploads well below this, but a
// snapshot carries every record at once.
const maxMsgSize = 64 * 1024 * 1024

type Registry struct {
	target  string
	client  *rpc.RegistryClient
	conn    *grpc.ClientConn
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// Ensure Registry implements port.Registry
var _ port.Registry = (*Registry)(nil)

// Dial creates a client for the registry server at addr. No connection is
// made until the first call.
func Dial(addr string, timeout time.Duration) (*Registry, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial registry %s: %w", addr, err)
	}
	r := New(conn, addr, timeout)
	r.conn = conn
	return r, nil
}

// New wraps an existing connection. The caller keeps ownership of cc.
func New(cc grpc.ClientConnInterface, target string, timeout time.Duration) *Registry {
	return &Registry{
		target:  target,
		client:  rpc.NewRegistryClient(cc),
		timeout: timeout,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:              target,
			FailureThreshold:  3,
			SuccessThreshold:  2,
			OpenTimeout:       10 * time.Second,
			HalfOpenMaxFlight: 5,
			IsFailure: func(err error) bool {
				return status.Code(err) != codes.InvalidArgument
			},
			OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
				logger.Warnw("Registry circuit changed state", "breaker", name, "from", string(from), "to", string(to))
			},
		}),
	}
}

func (r *Registry) Create(ctx context.Context, file domain.NewFile) (domain.FileRecord, error) {
	var record domain.FileRecord
	err := r.breaker.Execute(ctx, func(execCtx context.Context) error {
		callCtx, cancel := r.withTimeout(execCtx)
		defer cancel()

		resp, err := r.client.Create(callCtx, rpc.FromNewFile(file))
		if err != nil {
			return normalizeRPCErr(execCtx, err)
		}
		record, err = rpc.ToRecord(resp)
		return err
	})
	if err != nil {
		r.handleRPCErr(err, "Create")
		return domain.FileRecord{}, err
	}
	return record, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	err := r.breaker.Execute(ctx, func(execCtx context.Context) error {
		callCtx, cancel := r.withTimeout(execCtx)
		defer cancel()

		_, err := r.client.Delete(callCtx, wrapperspb.String(id))
		return normalizeRPCErr(execCtx, err)
	})
	if err != nil {
		r.handleRPCErr(err, "Delete")
	}
	return err
}

// Watch opens the stream and waits for the initial snapshot, so a dead
// server fails the call instead of the callback.
func (r *Registry) Watch(ctx context.Context, onSnapshot func(domain.Snapshot), onError func(error)) (port.Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	var (
		stream  grpc.ServerStreamingClient[structpb.Struct]
		initial domain.Snapshot
	)
	err := r.breaker.Execute(watchCtx, func(execCtx context.Context) error {
		var err error
		stream, err = r.client.Watch(execCtx, &emptypb.Empty{})
		if err != nil {
			return normalizeRPCErr(execCtx, err)
		}
		first, err := stream.Recv()
		if err != nil {
			return normalizeRPCErr(execCtx, err)
		}
		initial, err = rpc.ToSnapshot(first)
		return err
	})
	if err != nil {
		cancel()
		r.handleRPCErr(err, "Watch")
		return nil, err
	}

	go func() {
		if onSnapshot != nil {
			onSnapshot(initial)
		}
		for {
			msg, err := stream.Recv()
			if err != nil {
				r.endWatch(watchCtx, onError, err)
				return
			}
			snap, err := rpc.ToSnapshot(msg)
			if err != nil {
				r.endWatch(watchCtx, onError, err)
				return
			}
			if watchCtx.Err() != nil {
				return
			}
			if onSnapshot != nil {
				onSnapshot(snap)
			}
		}
	}()

	var once sync.Once
	return port.SubscriptionFunc(func() {
		once.Do(cancel)
	}), nil
}

func (r *Registry) endWatch(ctx context.Context, onError func(error), err error) {
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, io.EOF) {
		err = errors.New("registry closed the watch stream")
	}
	logger.Warnw("Registry watch ended", "addr", r.target, "error", err.Error())
	if onError != nil {
		onError(err)
	}
}

func (r *Registry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Registry) handleRPCErr(err error, op string) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		logger.Warnw("Registry RPC short-circuited", "op", op, "addr", r.target, "error", err.Error())
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	logger.Warnw("Registry RPC failed", "op", op, "addr", r.target, "error", err.Error())
}

func normalizeRPCErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return context.Canceled
	}
	// gRPC stream operations can surface EOF after caller canceled the context.
	if errors.Is(err, io.EOF) && ctx != nil && errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	return err
}

// Close releases the connection opened by Dial.
func (r *Registry) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
