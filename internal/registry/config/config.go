package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

// Storage backends behind the registry server.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds registry server configuration
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Backend string        `json:"backend" yaml:"backend"`
	Redis   RedisConfig   `json:"redis" yaml:"redis"`
	Logger  logger.Config `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	NodeID         int64 `json:"node_id" yaml:"node_id"`
	Port           int   `json:"port" yaml:"port"`
	MaxMsgSizeMB   int   `json:"max_msg_size_mb" yaml:"max_msg_size_mb"`
	ShutdownWaitMS int   `json:"shutdown_wait_ms" yaml:"shutdown_wait_ms"`
}

type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			NodeID:         0,
			Port:           9090,
			MaxMsgSizeMB:   64,
			ShutdownWaitMS: 5000,
		},
		Backend: BackendMemory,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "filedrop",
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown registry backend %q", c.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	return nil
}

// MaxMsgSize is the gRPC message ceiling in bytes.
func (c *Config) MaxMsgSize() int {
	if c.Server.MaxMsgSizeMB <= 0 {
		return 64 * 1024 * 1024
	}
	return c.Server.MaxMsgSizeMB * 1024 * 1024
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "registry", "config", env+".yaml")
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		parsedCfg = cfg
	}

	if err := parsedCfg.Validate(); err != nil {
		return nil, err
	}
	return parsedCfg, nil
}
