// Package config provides unified configuration for the Starforge pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starforge/starforge/pkg/types"
)

// Mode represents the pipeline execution mode.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeChecks      Mode = "checks"
)

// Config holds the unified configuration for all Starforge commands.
type Config struct {
	// Mode specifies the pipeline execution mode: full, incremental, checks
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Lake configuration
	Lake LakeConfig `json:"lake" yaml:"lake"`

	// Warehouse configuration
	Warehouse WarehouseConfig `json:"warehouse" yaml:"warehouse"`

	// Quality configuration
	Quality QualityConfig `json:"quality" yaml:"quality"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// LogLevel is the logrus level name (debug, info, warn, error)
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// LakeConfig holds raw data lake configuration.
type LakeConfig struct {
	// ScratchDir is the local directory partition objects are staged into
	// before decoding
	ScratchDir string `json:"scratch_dir" yaml:"scratch_dir"`
}

// WarehouseConfig holds warehouse configuration.
type WarehouseConfig struct {
	// Path is the SQLite warehouse database file
	Path string `json:"path" yaml:"path"`
}

// QualityConfig holds data-quality thresholds.
type QualityConfig struct {
	// NullRateThreshold is the maximum tolerated null rate per checked column
	NullRateThreshold float64 `json:"null_rate_threshold" yaml:"null_rate_threshold"`

	// FreshnessMaxAge is the maximum age of the latest fact timestamp
	FreshnessMaxAge time.Duration `json:"freshness_max_age" yaml:"freshness_max_age"`

	// FactMinRows is the row-count floor for the fact table
	FactMinRows int64 `json:"fact_min_rows" yaml:"fact_min_rows"`
}

// StorageConfig holds lake storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeFull,
		DataDir: "./data/starforge",
		Quality: QualityConfig{
			NullRateThreshold: 0.01,
			FreshnessMaxAge:   48 * time.Hour,
			FactMinRows:       1000,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		LogLevel: "info",
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/starforge"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "raw")
	}
	if c.Lake.ScratchDir == "" {
		c.Lake.ScratchDir = filepath.Join(c.DataDir, "scratch")
	}
	if c.Warehouse.Path == "" {
		c.Warehouse.Path = filepath.Join(c.DataDir, "warehouse", "product_analytics.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeFull, ModeIncremental, ModeChecks:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be full, incremental, or checks)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Quality.NullRateThreshold < 0 || c.Quality.NullRateThreshold > 1 {
		return fmt.Errorf("quality.null_rate_threshold must be in [0, 1], got %g", c.Quality.NullRateThreshold)
	}

	if c.Quality.FreshnessMaxAge <= 0 {
		return fmt.Errorf("quality.freshness_max_age must be positive")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the STARFORGE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("STARFORGE_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("STARFORGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STARFORGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// Warehouse configuration
	if v := os.Getenv("STARFORGE_WAREHOUSE_PATH"); v != "" {
		cfg.Warehouse.Path = v
	}

	// Quality configuration
	if v := os.Getenv("STARFORGE_QUALITY_NULL_RATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Quality.NullRateThreshold = f
		}
	}
	if v := os.Getenv("STARFORGE_QUALITY_FRESHNESS_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Quality.FreshnessMaxAge = d
		}
	}
	if v := os.Getenv("STARFORGE_QUALITY_FACT_MIN_ROWS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Quality.FactMinRows = n
		}
	}

	// Storage configuration
	if v := os.Getenv("STARFORGE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("STARFORGE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("STARFORGE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("STARFORGE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("STARFORGE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Lake.ScratchDir,
		filepath.Dir(c.Warehouse.Path),
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ValidDateKey reports whether s is a well-formed YYYY-MM-DD date key.
func ValidDateKey(s string) bool {
	_, err := time.Parse(types.DateKeyLayout, s)
	return err == nil
}
