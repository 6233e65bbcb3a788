package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	httpHandler "github.com/anthanhphan/go-file-drop/internal/drop/adapter/inbound/http"
	"github.com/anthanhphan/go-file-drop/internal/drop/adapter/outbound/grpc_registry"
	"github.com/anthanhphan/go-file-drop/internal/drop/adapter/outbound/memory_registry"
	"github.com/anthanhphan/go-file-drop/internal/drop/adapter/outbound/redis_registry"
	"github.com/anthanhphan/go-file-drop/internal/drop/config"
	"github.com/anthanhphan/go-file-drop/internal/drop/port"
	"github.com/anthanhphan/go-file-drop/internal/drop/service"
	"github.com/anthanhphan/go-file-drop/pkg/idgen"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

type App struct {
	cfg     *config.Config
	server  *httpHandler.Server
	view    *service.RegistryView
	closers []io.Closer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	return Build(cfg)
}

// Build wires the service from an already loaded config.
func Build(cfg *config.Config) (*App, error) {
	// 3. Registry backend
	registry, closers, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}

	// 4. Services
	view := service.NewRegistryView(registry, cfg.App.MaxUploadBytes)
	gate := service.NewAdminGate(cfg.App.AdminSecret)

	// 5. HTTP Server
	httpServer := httpHandler.NewServer(cfg, view, gate)

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:     cfg,
		server:  httpServer,
		view:    view,
		closers: closers,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func newRegistry(cfg *config.Config) (port.Registry, []io.Closer, error) {
	switch cfg.Registry.Backend {
	case config.BackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisClock := idgen.NewRedisClock(redisClient)
		idGen, err := idgen.New(cfg.App.NodeID, redisClock)
		if err != nil {
			_ = redisClient.Close()
			return nil, nil, fmt.Errorf("failed to init snowflake: %w", err)
		}
		logger.Infow("Using redis registry", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.KeyPrefix)
		return redis_registry.New(redisClient, idGen, cfg.Redis.KeyPrefix), []io.Closer{redisClient}, nil

	case config.BackendGRPC:
		registry, err := grpc_registry.Dial(cfg.Registry.Addr, cfg.RegistryTimeout())
		if err != nil {
			return nil, nil, err
		}
		logger.Infow("Using remote registry", "addr", cfg.Registry.Addr)
		return registry, []io.Closer{registry}, nil

	default:
		idGen, err := idgen.New(cfg.App.NodeID, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init snowflake: %w", err)
		}
		logger.Warnw("Using in-memory registry, files are lost on restart")
		registry := memory_registry.New(idGen)
		return registry, []io.Closer{registry}, nil
	}
}

// View exposes the registry view-model.
func (a *App) View() *service.RegistryView {
	return a.view
}

func (a *App) Run() error {
	// Keep the cache live for the lifetime of the process
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.keepSubscribed(a.ctx)
	}()

	// Start HTTP
	logger.Infow("File drop starting", "addr", a.cfg.Server.Addr, "backend", a.cfg.Registry.Backend)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
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
		runErr = fmt.Errorf("http server failed: %w", err)
		logger.Errorw("File drop server exited unexpectedly", "error", err.Error())
	}

	logger.Info("Shutting down file drop")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		logger.Errorw("HTTP shutdown error", "error", err.Error())
		if runErr == nil {
			runErr = err
		}
	}

	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close stops the cache subscription and releases registry clients.
func (a *App) Close() error {
	a.cancel()
	a.wg.Wait()

	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// keepSubscribed holds one cache subscription open and reopens it after
// resubscribe_interval whenever it fails. The last snapshot stays cached
// while the feed is down.
func (a *App) keepSubscribed(ctx context.Context) {
	interval := a.cfg.ResubscribeInterval()
	for {
		failed := make(chan error, 1)
		sub, err := a.view.Subscribe(ctx, a.server.PublishSnapshot, func(err error) {
			select {
			case failed <- err:
			default:
			}
		})
		if err != nil {
			logger.Warnw("Registry subscription could not be opened", "error", err.Error(), "retry_in", interval.String())
			a.server.PublishError(err)
		} else {
			logger.Info("Registry subscription live")
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case err := <-failed:
				sub.Unsubscribe()
				logger.Warnw("Registry subscription lost", "error", err.Error(), "retry_in", interval.String())
				a.server.PublishError(err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
