// Package config holds the tunables of a heapdb store and the shell.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultBlockSize is the block size of a new store
	DefaultBlockSize = 4096
	// MinBlockSize is the smallest supported block size
	MinBlockSize = 512
	// MaxBlockSize is the largest supported block size
	MaxBlockSize = 64 * 1024

	// CurrentConfigVersion is written by Save
	CurrentConfigVersion = 1
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("configuration not found")
)

var (
	validIndexKinds = map[string]bool{"none": true, "ordered": true, "hash": true}
	validCodecs     = map[string]bool{"none": true, "zstd": true, "snappy": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

type Config struct {
	Version int `json:"version"`

	// Store layout
	BlockSize int `json:"block_size"`

	// Indexes built automatically when a store is opened
	DefaultIndex  string   `json:"default_index"`
	IndexedFields []string `json:"indexed_fields"`

	// Backup
	SnapshotCodec string `json:"snapshot_codec"`

	// Shell
	LogLevel    string `json:"log_level"`
	HistoryFile string `json:"history_file"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	history := ""
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, ".heapdb_history")
	}

	return &Config{
		Version:       CurrentConfigVersion,
		BlockSize:     DefaultBlockSize,
		DefaultIndex:  "ordered",
		IndexedFields: nil,
		SnapshotCodec: "zstd",
		LogLevel:      "info",
		HistoryFile:   history,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

func (c *Config) validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.BlockSize < MinBlockSize || c.BlockSize > MaxBlockSize {
		return fmt.Errorf("%w: block size %d outside [%d, %d]",
			ErrInvalidConfig, c.BlockSize, MinBlockSize, MaxBlockSize)
	}

	if c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("%w: block size %d is not a power of two", ErrInvalidConfig, c.BlockSize)
	}

	if !validIndexKinds[c.DefaultIndex] {
		return fmt.Errorf("%w: unknown default index %q", ErrInvalidConfig, c.DefaultIndex)
	}

	if len(c.IndexedFields) > 0 && c.DefaultIndex == "none" {
		return fmt.Errorf("%w: indexed fields require a default index", ErrInvalidConfig)
	}

	if !validCodecs[c.SnapshotCodec] {
		return fmt.Errorf("%w: unknown snapshot codec %q", ErrInvalidConfig, c.SnapshotCodec)
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}

	return nil
}

// LoadConfig reads a JSON configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to path through a temporary file
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.validate(); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// LoadFromEnv overrides fields from HEAPDB_* environment variables.
// Unparseable values are ignored.
func (c *Config) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val := os.Getenv("HEAPDB_BLOCK_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.BlockSize = size
		}
	}

	if val := os.Getenv("HEAPDB_DEFAULT_INDEX"); val != "" {
		c.DefaultIndex = strings.ToLower(strings.TrimSpace(val))
	}

	if val := os.Getenv("HEAPDB_INDEXED_FIELDS"); val != "" {
		c.IndexedFields = strings.Split(val, ",")
		for i := range c.IndexedFields {
			c.IndexedFields[i] = strings.TrimSpace(c.IndexedFields[i])
		}
	}

	if val := os.Getenv("HEAPDB_SNAPSHOT_CODEC"); val != "" {
		c.SnapshotCodec = strings.ToLower(strings.TrimSpace(val))
	}

	if val := os.Getenv("HEAPDB_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}

	if val := os.Getenv("HEAPDB_HISTORY_FILE"); val != "" {
		c.HistoryFile = val
	}
}

// Indexed reports whether name is listed in IndexedFields
func (c *Config) Indexed(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.IndexedFields {
		if f == name {
			return true
		}
	}
	return false
}

// View calls fn with the configuration read-locked
func (c *Config) View(fn func(*Config)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c)
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
