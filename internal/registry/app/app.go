package app

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/anthanhphan/go-file-drop/internal/drop/adapter/outbound/memory_registry"
	"github.com/anthanhphan/go-file-drop/internal/drop/adapter/outbound/redis_registry"
	"github.com/anthanhphan/go-file-drop/internal/drop/port"
	grpcHandler "github.com/anthanhphan/go-file-drop/internal/registry/adapter/inbound/grpc"
	"github.com/anthanhphan/go-file-drop/internal/registry/config"
	"github.com/anthanhphan/go-file-drop/internal/registry/rpc"
	"github.com/anthanhphan/go-file-drop/pkg/idgen"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

type App struct {
	cfg     *config.Config
	server  *grpc.Server
	handler *grpcHandler.Server
	backing io.Closer
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	// 3. Backing registry
	registry, backing, err := newBacking(cfg)
	if err != nil {
		return nil, err
	}

	// 4. gRPC Server
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxMsgSize()),
		grpc.MaxSendMsgSize(cfg.MaxMsgSize()),
	)
	handler := grpcHandler.NewServer(registry)
	rpc.RegisterRegistryServer(grpcServer, handler)

	return &App{
		cfg:     cfg,
		server:  grpcServer,
		handler: handler,
		backing: backing,
	}, nil
}

func newBacking(cfg *config.Config) (port.Registry, io.Closer, error) {
	if cfg.Backend == config.BackendRedis {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		idGen, err := idgen.New(cfg.Server.NodeID, idgen.NewRedisClock(redisClient))
		if err != nil {
			_ = redisClient.Close()
			return nil, nil, fmt.Errorf("failed to init snowflake: %w", err)
		}
		return redis_registry.New(redisClient, idGen, cfg.Redis.KeyPrefix), redisClient, nil
	}

	idGen, err := idgen.New(cfg.Server.NodeID, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init snowflake: %w", err)
	}
	registry := memory_registry.New(idGen)
	return registry, registry, nil
}

func (a *App) Run() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", a.cfg.Server.Port, err)
	}

	logger.Infow("Registry server starting",
		"port", a.cfg.Server.Port,
		"backend", a.cfg.Backend,
		"node_id", a.cfg.Server.NodeID)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.server.Serve(listener); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrCh:
		// Ignore expected stop errors.
		errMsg := err.Error()
		if !strings.Contains(errMsg, "use of closed network connection") && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("gRPC server failed: %w", err)
			logger.Errorw("Registry gRPC server exited unexpectedly", "error", errMsg)
		}
	}

	logger.Info("Shutting down registry server")
	a.handler.Shutdown()
	a.stopServer(time.Duration(a.cfg.Server.ShutdownWaitMS) * time.Millisecond)
	if err := a.backing.Close(); err != nil {
		logger.Warnw("Registry backend close failed", "error", err.Error())
	}

	return runErr
}

// stopServer drains in-flight calls, forcing a stop after wait.
func (a *App) stopServer(wait time.Duration) {
	done := make(chan struct{})
	go func() {
		a.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(wait):
		logger.Warnw("Graceful stop timed out, forcing", "wait", wait.String())
		a.server.Stop()
	}
}
