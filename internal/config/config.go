// Package config loads and validates the YAML configuration shared by the
// directory service and storage node daemons.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the top-level config file shape for both dsd and snd;
// each daemon reads the sections relevant to it and ignores the rest.
type Configuration struct {
	Global           GlobalConfig           `yaml:"global"`
	DirectoryService DirectoryServiceConfig `yaml:"directory_service"`
	StorageNode      StorageNodeConfig      `yaml:"storage_node"`
	Cache            CacheConfig            `yaml:"cache"`
	CircuitBreaker   CircuitBreakerConfig   `yaml:"circuit_breaker"`
	Archival         ArchivalConfig         `yaml:"archival"`
	Security         SecurityConfig         `yaml:"security"`
}

// GlobalConfig holds settings common to both daemons.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	HealthPort  int    `yaml:"health_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DirectoryServiceConfig configures the DS daemon.
type DirectoryServiceConfig struct {
	ClientAddr       string        `yaml:"client_addr"`
	SNAddr           string        `yaml:"sn_addr"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	UserDBPath       string        `yaml:"user_db_path"`
	AccessDBDir      string        `yaml:"access_db_dir"`
	FileMapSnapshot  string        `yaml:"file_map_snapshot"`
}

// StorageNodeConfig configures the SN daemon.
type StorageNodeConfig struct {
	ClientAddr        string        `yaml:"client_addr"`
	BackupAddr        string        `yaml:"backup_addr"`
	DSAddr            string        `yaml:"ds_addr"`
	FilesDir          string        `yaml:"files_dir"`
	UndoDir           string        `yaml:"undo_dir"`
	CheckpointDir     string        `yaml:"checkpoint_dir"`
	SwapDir           string        `yaml:"swap_dir"`
	MetadataSnapshot  string        `yaml:"metadata_snapshot"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReadChunkSize     int           `yaml:"read_chunk_size"`
	ReplicationQueue  int           `yaml:"replication_queue_size"`
	StreamWordDelay   time.Duration `yaml:"stream_word_delay"`
}

// CacheConfig configures the DS's LRU location cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// CircuitBreakerConfig configures the DS's per-SN circuit breaker.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	HalfOpenRequests uint32        `yaml:"half_open_requests"`
}

// ArchivalConfig configures optional S3-compatible checkpoint archival.
type ArchivalConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// SecurityConfig gates explicitly dangerous operations.
type SecurityConfig struct {
	ExecEnabled bool          `yaml:"exec_enabled"`
	ExecTimeout time.Duration `yaml:"exec_timeout"`
}

// Default returns a Configuration with conservative, documented defaults.
func Default() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "info",
			HealthPort:  8090,
			MetricsPort: 9090,
		},
		DirectoryService: DirectoryServiceConfig{
			ClientAddr:       ":7000",
			SNAddr:           ":7001",
			HeartbeatTimeout: 15 * time.Second,
			MonitorInterval:  5 * time.Second,
			UserDBPath:       "./data/ds/users.db",
			AccessDBDir:      "./data/ds/access",
			FileMapSnapshot:  "./data/ds/filemap.snapshot",
		},
		StorageNode: StorageNodeConfig{
			ClientAddr:        ":8000",
			BackupAddr:        ":8001",
			DSAddr:            "127.0.0.1:7001",
			FilesDir:          "./data/sn/files",
			UndoDir:           "./data/sn/undo",
			CheckpointDir:     "./data/sn/checkpoints",
			SwapDir:           "./data/sn/swap",
			MetadataSnapshot:  "./data/sn/metadata.snapshot",
			HeartbeatInterval: 5 * time.Second,
			ReadChunkSize:     4000,
			ReplicationQueue:  1024,
			StreamWordDelay:   10 * time.Millisecond,
		},
		Cache: CacheConfig{Capacity: 4096},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			OpenTimeout:      10 * time.Second,
			HalfOpenRequests: 1,
		},
		Security: SecurityConfig{
			ExecEnabled: false,
			ExecTimeout: 5 * time.Second,
		},
	}
}

// Load reads and parses a YAML configuration file, applying defaults for any
// omitted section before validating.
func Load(path string) (*Configuration, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configuration that would leave a component unable to
// start; these map to dfserrors' Fatal category, surfaced only at startup.
func (c *Configuration) Validate() error {
	if c.DirectoryService.HeartbeatTimeout <= 0 {
		return fmt.Errorf("directory_service.heartbeat_timeout must be positive")
	}
	if c.DirectoryService.MonitorInterval <= 0 {
		return fmt.Errorf("directory_service.monitor_interval must be positive")
	}
	if c.StorageNode.HeartbeatInterval <= 0 {
		return fmt.Errorf("storage_node.heartbeat_interval must be positive")
	}
	if c.StorageNode.ReadChunkSize <= 0 || c.StorageNode.ReadChunkSize > 4096 {
		return fmt.Errorf("storage_node.read_chunk_size must be in (0, 4096]")
	}
	if c.StorageNode.ReplicationQueue <= 0 {
		return fmt.Errorf("storage_node.replication_queue_size must be positive")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive")
	}
	if c.Archival.Enabled && c.Archival.Bucket == "" {
		return fmt.Errorf("archival.bucket is required when archival.enabled is true")
	}
	return nil
}
