package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dd0wney/burrowdb/pkg/tier"
)

const (
	// MaxKeySize is the longest accepted key in bytes
	MaxKeySize = 64 << 10
	// DefaultMaxValueSize caps a single document
	DefaultMaxValueSize = 32 << 20
)

// Config holds the settings the engine consumes directly
type Config struct {
	// LogPath is the write-ahead log file
	LogPath string
	// ColdDir is the root of the file-backed cold store; ignored when a
	// store is supplied with WithColdStore
	ColdDir      string
	ColdMmap     bool
	ColdCompress bool
	// CompressLog snappy-compresses put values in the log
	CompressLog bool
	Tier        tier.Config
	// HalfLife is the access score decay half-life
	HalfLife     time.Duration
	MaxValueSize int
}

// DefaultConfig lays out data under dir
func DefaultConfig(dir string) Config {
	return Config{
		LogPath:      filepath.Join(dir, "burrow.wal"),
		ColdDir:      filepath.Join(dir, "cold"),
		Tier:         tier.DefaultConfig(),
		HalfLife:     time.Minute,
		MaxValueSize: DefaultMaxValueSize,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.LogPath == "" {
		return errors.New("log path is required")
	}
	if c.MaxValueSize <= 0 {
		return errors.New("max value size must be positive")
	}
	if c.HalfLife <= 0 {
		return errors.New("half-life must be positive")
	}
	if err := c.Tier.Validate(); err != nil {
		return fmt.Errorf("tier: %w", err)
	}
	return nil
}
