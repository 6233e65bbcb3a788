package grpc_handler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/anthanhphan/go-file-drop/internal/drop/adapter/outbound/memory_registry"
	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/anthanhphan/go-file-drop/internal/registry/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// fakeWatchStream collects what the server sends.
type fakeWatchStream struct {
	grpc.ServerStream
	ctx  context.Context
	sent chan *structpb.Struct
}

func (f *fakeWatchStream) Context() context.Context     { return f.ctx }
func (f *fakeWatchStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeWatchStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeWatchStream) SetTrailer(metadata.MD)       {}

func (f *fakeWatchStream) Send(m *structpb.Struct) error {
	f.sent <- m
	return nil
}

func TestServerValidatesRequests(t *testing.T) {
	s := NewServer(memory_registry.New(nil))
	ctx := context.Background()

	_, err := s.Create(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":      structpb.NewStringValue("x"),
		"sizeBytes": structpb.NewStringValue("lots"),
	}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Delete(ctx, wrapperspb.String(""))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCreateAcceptsAnyName(t *testing.T) {
	s := NewServer(memory_registry.New(nil))

	for _, name := range []string{"", strings.Repeat("n", 4096), "résumé final (2).pdf"} {
		resp, err := s.Create(context.Background(), rpc.FromNewFile(domain.NewFile{Name: name, Payload: "eA=="}))
		require.NoError(t, err)
		record, err := rpc.ToRecord(resp)
		require.NoError(t, err)
		assert.Equal(t, name, record.Name)
	}
}

func TestServerMapsBackendFailure(t *testing.T) {
	backing := memory_registry.New(nil)
	require.NoError(t, backing.Close())
	s := NewServer(backing)

	_, err := s.Create(context.Background(), rpc.FromNewFile(domain.NewFile{Name: "a"}))
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = s.Delete(context.Background(), wrapperspb.String("1"))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestWatchStreamsAndShutsDown(t *testing.T) {
	backing := memory_registry.New(nil)
	defer func() { _ = backing.Close() }()
	s := NewServer(backing)

	stream := &fakeWatchStream{ctx: context.Background(), sent: make(chan *structpb.Struct, 8)}
	result := make(chan error, 1)
	go func() { result <- s.Watch(&emptypb.Empty{}, stream) }()

	recv := func() domain.Snapshot {
		select {
		case msg := <-stream.sent:
			snap, err := rpc.ToSnapshot(msg)
			require.NoError(t, err)
			return snap
		case <-time.After(2 * time.Second):
			t.Fatal("nothing sent")
			return domain.Snapshot{}
		}
	}

	assert.Equal(t, 0, recv().Len())

	_, err := s.Create(context.Background(), rpc.FromNewFile(domain.NewFile{Name: "a.txt", Payload: "YQ=="}))
	require.NoError(t, err)
	assert.Equal(t, 1, recv().Len())

	s.Shutdown()
	s.Shutdown()
	select {
	case err := <-result:
		assert.Equal(t, codes.Unavailable, status.Code(err))
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not end on shutdown")
	}
}
