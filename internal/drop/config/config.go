package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/anthanhphan/go-file-drop/internal/drop/domain"
	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

// Registry backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendGRPC   = "grpc"
)

// Config holds file drop service configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	App      AppConfig      `json:"app" yaml:"app"`
	Registry RegistryConfig `json:"registry" yaml:"registry"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Logger   logger.Config  `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	Addr          string `json:"addr" yaml:"addr"`
	SSEKeepAliveS int    `json:"sse_keepalive_s" yaml:"sse_keepalive_s"`
}

type AppConfig struct {
	NodeID                int64  `json:"node_id" yaml:"node_id"`
	AdminSecret           string `json:"admin_secret" yaml:"admin_secret"`
	MaxUploadBytes        int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	ResubscribeIntervalMS int    `json:"resubscribe_interval_ms" yaml:"resubscribe_interval_ms"`
}

type RegistryConfig struct {
	Backend   string `json:"backend" yaml:"backend"` // "memory", "redis", "grpc"
	Addr      string `json:"addr" yaml:"addr"`       // registry server target for "grpc"
	TimeoutMS int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

type CacheConfig struct {
	Size       int `json:"size" yaml:"size"`
	TTLSeconds int `json:"ttl_s" yaml:"ttl_s"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			SSEKeepAliveS: 15,
		},
		App: AppConfig{
			NodeID:                1,
			MaxUploadBytes:        domain.DefaultMaxUploadBytes,
			ResubscribeIntervalMS: 5000,
		},
		Registry: RegistryConfig{
			Backend:   BackendMemory,
			Addr:      "localhost:9090",
			TimeoutMS: 10000,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "filedrop",
		},
		Cache: CacheConfig{
			Size:       64,
			TTLSeconds: 300,
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case BackendMemory, BackendRedis, BackendGRPC:
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}
	if c.App.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.App.MaxUploadBytes)
	}
	if c.Registry.Backend == BackendGRPC && c.Registry.Addr == "" {
		return fmt.Errorf("registry.addr is required for the grpc backend")
	}
	return nil
}

// ResubscribeInterval returns the delay before reopening a failed
// subscription, with a safe default.
func (c *Config) ResubscribeInterval() time.Duration {
	if c.App.ResubscribeIntervalMS > 0 {
		return time.Duration(c.App.ResubscribeIntervalMS) * time.Millisecond
	}
	return 5 * time.Second
}

// RegistryTimeout bounds a single registry create or delete.
func (c *Config) RegistryTimeout() time.Duration {
	if c.Registry.TimeoutMS > 0 {
		return time.Duration(c.Registry.TimeoutMS) * time.Millisecond
	}
	return 10 * time.Second
}

// SSEKeepAlive is the comment-frame interval on idle event streams.
func (c *Config) SSEKeepAlive() time.Duration {
	if c.Server.SSEKeepAliveS > 0 {
		return time.Duration(c.Server.SSEKeepAliveS) * time.Second
	}
	return 15 * time.Second
}

// CacheTTL is how long decoded downloads stay cached.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds > 0 {
		return time.Duration(c.Cache.TTLSeconds) * time.Second
	}
	return 5 * time.Minute
}

// BodyLimit leaves room for multipart framing around the largest upload.
func (c *Config) BodyLimit() int {
	return int(c.App.MaxUploadBytes)*2 + 64*1024
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "drop", "config", env+".yaml")
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		log.Printf("Config file not found or failed to parse, using defaults. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		parsedCfg = cfg
	}

	if secret := os.Getenv("FILEDROP_ADMIN_SECRET"); secret != "" {
		parsedCfg.App.AdminSecret = secret
	}

	if err := parsedCfg.Validate(); err != nil {
		return nil, err
	}
	return parsedCfg, nil
}
