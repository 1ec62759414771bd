// Package config loads server configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/tier"
	burrowtls "github.com/dd0wney/burrowdb/pkg/tls"
	"github.com/dd0wney/burrowdb/pkg/validation"
)

// Cold store backends
const (
	BackendFile   = "file"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Environment variables that override file settings
const (
	EnvDataDir   = "BURROW_DATA_DIR"
	EnvLogLevel  = "LOG_LEVEL"
	EnvJWTSecret = "BURROW_JWT_SECRET"
)

// MinJWTSecretLength is the shortest accepted HMAC secret
const MinJWTSecretLength = 32

// Config holds all configuration for a BurrowDB server.
type Config struct {
	DataDir  string        `yaml:"data_dir" validate:"required"`
	LogLevel string        `yaml:"log_level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Storage  StorageConfig `yaml:"storage"`
	Tier     TierConfig    `yaml:"tier"`
	Cold     ColdConfig    `yaml:"cold"`
	Server   ServerConfig  `yaml:"server"`
	Auth     AuthConfig    `yaml:"auth"`
	Audit    AuditConfig   `yaml:"audit"`
}

// StorageConfig covers the write-ahead log and document limits.
type StorageConfig struct {
	// LogPath defaults to <data_dir>/burrow.wal
	LogPath       string `yaml:"log_path"`
	CompressLog   bool   `yaml:"compress_log"`
	MaxValueBytes int    `yaml:"max_value_bytes" validate:"gt=0"`
}

// TierConfig bounds the hot tier and sets movement thresholds. Rates are
// accesses per second.
type TierConfig struct {
	HotDocuments  int           `yaml:"hot_documents" validate:"gte=0"`
	HotBytes      int64         `yaml:"hot_bytes" validate:"gte=0"`
	PromoteRate   float64       `yaml:"promote_rate" validate:"gte=0"`
	DemoteRate    float64       `yaml:"demote_rate" validate:"gte=0"`
	IdleWindow    time.Duration `yaml:"idle_window" validate:"gte=0"`
	HalfLife      time.Duration `yaml:"half_life" validate:"gt=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`
}

// ColdConfig selects and configures the cold store.
type ColdConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file s3 memory"`
	// Dir defaults to <data_dir>/cold
	Dir      string   `yaml:"dir"`
	Mmap     bool     `yaml:"mmap"`
	Compress bool     `yaml:"compress"`
	S3       S3Config `yaml:"s3"`
}

// S3Config addresses an S3-compatible bucket.
type S3Config struct {
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Timeout         time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ServerConfig covers the network listeners and command queue.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" validate:"omitempty,hostname_port"`
	NNGURL          string        `yaml:"nng_url"`
	QueueSize       int           `yaml:"queue_size" validate:"gt=0"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig serves the HTTP API over HTTPS when a certificate source is set.
type TLSConfig struct {
	CertFile   string        `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile    string        `yaml:"key_file" validate:"required_with=CertFile"`
	CAFile     string        `yaml:"ca_file"`
	SelfSigned bool          `yaml:"self_signed"`
	Hosts      []string      `yaml:"hosts"`
	ValidFor   time.Duration `yaml:"valid_for" validate:"gte=0"`
}

// Options converts the settings for the tls package
func (t TLSConfig) Options() burrowtls.Config {
	return burrowtls.Config{
		CertFile:   t.CertFile,
		KeyFile:    t.KeyFile,
		CAFile:     t.CAFile,
		SelfSigned: t.SelfSigned,
		Hosts:      t.Hosts,
		ValidFor:   t.ValidFor,
	}
}

// AuthConfig enables bearer token checks on the HTTP API when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"gte=0"`
}

// AuditConfig controls the record of mutating HTTP requests.
type AuditConfig struct {
	// RingSize is how many recent events GET /v1/admin/audit can return; 0 disables it
	RingSize int `yaml:"ring_size" validate:"gte=0"`
	// File appends every event to a hash-chained JSON-lines file
	File bool `yaml:"file"`
	// Path defaults to <data_dir>/audit.jsonl
	Path string `yaml:"path"`
}

// Enabled reports whether the HTTP API requires tokens
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		DataDir:  "./data",
		LogLevel: "info",
		Storage: StorageConfig{
			MaxValueBytes: engine.DefaultMaxValueSize,
		},
		Tier: TierConfig{
			HotDocuments:  tier.DefaultMaxDocuments,
			PromoteRate:   tier.DefaultPromoteRate,
			DemoteRate:    tier.DefaultDemoteRate,
			IdleWindow:    tier.DefaultIdleWindow,
			HalfLife:      time.Minute,
			SweepInterval: 30 * time.Second,
		},
		Cold: ColdConfig{
			Backend: BackendFile,
			Mmap:    true,
		},
		Server: ServerConfig{
			HTTPAddr:        "127.0.0.1:7070",
			NNGURL:          "tcp://127.0.0.1:7071",
			QueueSize:       engine.DefaultQueueSize,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Audit: AuditConfig{
			RingSize: 1000,
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
}

// Validate checks field constraints and the rules that span fields
func (c Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cv := validation.NewConfigValidator("Config")
	cv.Custom("Tier", func() error {
		if c.Tier.HotDocuments == 0 && c.Tier.HotBytes == 0 {
			return errors.New("hot_documents or hot_bytes must be set")
		}
		if c.Tier.DemoteRate > c.Tier.PromoteRate {
			return fmt.Errorf("demote_rate %g exceeds promote_rate %g", c.Tier.DemoteRate, c.Tier.PromoteRate)
		}
		return nil
	})
	cv.When(c.Cold.Backend == BackendS3, func(v *validation.ConfigValidator) {
		v.Required("Cold.S3.Bucket", c.Cold.S3.Bucket)
	})
	cv.When(c.Auth.Enabled(), func(v *validation.ConfigValidator) {
		v.Custom("Auth.JWTSecret", func() error {
			if len(c.Auth.JWTSecret) < MinJWTSecretLength {
				return fmt.Errorf("must be at least %d characters", MinJWTSecretLength)
			}
			return nil
		})
	})
	cv.When(c.Server.TLS.CAFile != "", func(v *validation.ConfigValidator) {
		v.Custom("Server.TLS.CAFile", func() error {
			if !c.Server.TLS.Options().Enabled() {
				return errors.New("client verification needs a server certificate")
			}
			return nil
		})
	})
	cv.When(c.Server.HTTPAddr == "" && c.Server.NNGURL == "", func(v *validation.ConfigValidator) {
		v.Custom("Server", func() error { return errors.New("at least one of http_addr or nng_url must be set") })
	})
	return cv.Validate()
}

// LogPath returns the resolved write-ahead log path
func (c Config) LogPath() string {
	if c.Storage.LogPath != "" {
		return c.Storage.LogPath
	}
	return filepath.Join(c.DataDir, "burrow.wal")
}

// ColdDir returns the resolved file cold store directory
func (c Config) ColdDir() string {
	if c.Cold.Dir != "" {
		return c.Cold.Dir
	}
	return filepath.Join(c.DataDir, "cold")
}

// AuditPath returns the resolved audit file path
func (c Config) AuditPath() string {
	if c.Audit.Path != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.DataDir, "audit.jsonl")
}

// EngineConfig maps the file settings onto the engine's
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		LogPath:      c.LogPath(),
		ColdDir:      c.ColdDir(),
		ColdMmap:     c.Cold.Mmap,
		ColdCompress: c.Cold.Compress,
		CompressLog:  c.Storage.CompressLog,
		Tier: tier.Config{
			MaxDocuments: c.Tier.HotDocuments,
			MaxBytes:     c.Tier.HotBytes,
			PromoteRate:  c.Tier.PromoteRate,
			DemoteRate:   c.Tier.DemoteRate,
			IdleWindow:   c.Tier.IdleWindow,
		},
		HalfLife:     c.Tier.HalfLife,
		MaxValueSize: c.Storage.MaxValueBytes,
	}
}

// LoopOptions returns the command queue settings
func (c Config) LoopOptions() engine.LoopOptions {
	return engine.LoopOptions{
		QueueSize:     c.Server.QueueSize,
		SweepInterval: c.Tier.SweepInterval,
	}
}

// Marshal renders c as YAML, for writing a starter config file
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
