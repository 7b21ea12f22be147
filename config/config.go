package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Bytes per MiB
const MiB = 1024 * 1024

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultUndoWindow = 5 * time.Second

	DefaultStaleOpTimeout = 10 * time.Second

	DefaultSweepInterval = 2 * time.Second

	DefaultMaxAssetSize = 10 * MiB

	// DefaultAssetDir is the workspace folder ingested assets are
	// bucketed under (one UTC year-month subfolder per bucket).
	DefaultAssetDir = "assets"

	DefaultIncludeHidden = false
)

// DefaultImageExtensions is the asset ingestion allow-list.
var DefaultImageExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".bmp", ".avif",
}

// Config contains runtime configuration values for the workspace engine.
type Config struct {
	UndoWindow      time.Duration // How long a committed delete stays undoable (Default 5s)
	StaleOpTimeout  time.Duration // Age past which a pending operation is force-rolled-back (Default 10s)
	SweepInterval   time.Duration // Period of the stale-operation sweep (Default 2s)
	MaxAssetSize    int64         // Maximum ingested asset size in bytes (Default 10MiB)
	AssetDir        string        // Workspace folder assets are stored under (Default "assets")
	ImageExtensions []string      // Asset ingestion extension allow-list
	IncludeHidden   bool          // Whether directory listings include dotfiles (Default false)
	LogLevel        string        // zerolog level name (Default "info")
}

// Override uses pointer fields to distinguish between unset and zero
// values when loading partial configuration. See [Config] for field
// descriptions.
type Override struct {
	UndoWindow      *time.Duration `yaml:"undo_window,omitempty" json:"undo_window,omitempty" envconfig:"UNDO_WINDOW"`
	StaleOpTimeout  *time.Duration `yaml:"stale_op_timeout,omitempty" json:"stale_op_timeout,omitempty" envconfig:"STALE_OP_TIMEOUT"`
	SweepInterval   *time.Duration `yaml:"sweep_interval,omitempty" json:"sweep_interval,omitempty" envconfig:"SWEEP_INTERVAL"`
	MaxAssetSize    *int64         `yaml:"max_asset_size,omitempty" json:"max_asset_size,omitempty" envconfig:"MAX_ASSET_SIZE"`
	AssetDir        *string        `yaml:"asset_dir,omitempty" json:"asset_dir,omitempty" envconfig:"ASSET_DIR"`
	ImageExtensions *[]string      `yaml:"image_extensions,omitempty" json:"image_extensions,omitempty" envconfig:"IMAGE_EXTENSIONS"`
	IncludeHidden   *bool          `yaml:"include_hidden,omitempty" json:"include_hidden,omitempty" envconfig:"INCLUDE_HIDDEN"`
	LogLevel        *string        `yaml:"log_level,omitempty" json:"log_level,omitempty" envconfig:"LOG_LEVEL"`
}

// New creates a Config with defaults, then applies the override if one
// is provided.
func New(override *Override) *Config {
	cfg := &Config{
		UndoWindow:      DefaultUndoWindow,
		StaleOpTimeout:  DefaultStaleOpTimeout,
		SweepInterval:   DefaultSweepInterval,
		MaxAssetSize:    DefaultMaxAssetSize,
		AssetDir:        DefaultAssetDir,
		ImageExtensions: append([]string(nil), DefaultImageExtensions...),
		IncludeHidden:   DefaultIncludeHidden,
		LogLevel:        "info",
	}
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *Override) {
	if override.UndoWindow != nil {
		c.UndoWindow = *override.UndoWindow
	}
	if override.StaleOpTimeout != nil {
		c.StaleOpTimeout = *override.StaleOpTimeout
	}
	if override.SweepInterval != nil {
		c.SweepInterval = *override.SweepInterval
	}
	if override.MaxAssetSize != nil {
		c.MaxAssetSize = *override.MaxAssetSize
	}
	if override.AssetDir != nil {
		c.AssetDir = *override.AssetDir
	}
	if override.ImageExtensions != nil {
		c.ImageExtensions = append([]string(nil), (*override.ImageExtensions)...)
	}
	if override.IncludeHidden != nil {
		c.IncludeHidden = *override.IncludeHidden
	}
	if override.LogLevel != nil {
		c.LogLevel = *override.LogLevel
	}
}

// LoadOverrideFile loads configuration overrides from a file without
// merging. Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadOverrideFile(path string) (*Override, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override Override

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// LoadEnvOverride reads configuration overrides from ARBOR_* environment
// variables (e.g. ARBOR_UNDO_WINDOW=3s). Unset variables leave the
// corresponding fields nil.
func LoadEnvOverride() (*Override, error) {
	var override Override
	if err := envconfig.Process("arbor", &override); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	return &override, nil
}

// NewFromFile creates a Config by merging file overrides with defaults,
// then applying any ARBOR_* environment overrides on top.
func NewFromFile(path string) (*Config, error) {
	override, err := LoadOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg := New(override)
	env, err := LoadEnvOverride()
	if err != nil {
		return nil, err
	}
	cfg.Merge(env)
	return cfg, nil
}
