package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/burrow
log_level: debug
tier:
  hot_documents: 2
  half_life: 30s
  idle_window: 2m
cold:
  backend: memory
server:
  http_addr: "0.0.0.0:8080"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/burrow", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Tier.HotDocuments)
	assert.Equal(t, 30*time.Second, cfg.Tier.HalfLife)
	assert.Equal(t, 2*time.Minute, cfg.Tier.IdleWindow)
	assert.Equal(t, BackendMemory, cfg.Cold.Backend)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	// untouched fields keep defaults
	assert.Equal(t, Default().Server.QueueSize, cfg.Server.QueueSize)
	assert.Equal(t, Default().Tier.PromoteRate, cfg.Tier.PromoteRate)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Tier, cfg.Tier)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "tier: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/from-env")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvJWTSecret, "0123456789abcdef0123456789abcdef")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env", cfg.DataDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.Auth.Enabled())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing data dir", func(c *Config) { c.DataDir = "" }, "DataDir"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"bad backend", func(c *Config) { c.Cold.Backend = "tape" }, "Backend"},
		{"zero half life", func(c *Config) { c.Tier.HalfLife = 0 }, "HalfLife"},
		{"negative hot bytes", func(c *Config) { c.Tier.HotBytes = -1 }, "HotBytes"},
		{"negative audit ring", func(c *Config) { c.Audit.RingSize = -1 }, "RingSize"},
		{"zero queue", func(c *Config) { c.Server.QueueSize = 0 }, "QueueSize"},
		{"bad http addr", func(c *Config) { c.Server.HTTPAddr = "nope" }, "HTTPAddr"},
		{"no hot limit", func(c *Config) { c.Tier.HotDocuments = 0; c.Tier.HotBytes = 0 }, "hot_documents or hot_bytes"},
		{"demote above promote", func(c *Config) { c.Tier.DemoteRate = 20 }, "exceeds promote_rate"},
		{"s3 without bucket", func(c *Config) { c.Cold.Backend = BackendS3 }, "Cold.S3.Bucket"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32"},
		{"no listener", func(c *Config) { c.Server.HTTPAddr = ""; c.Server.NNGURL = "" }, "http_addr or nng_url"},
		{"cert without key", func(c *Config) { c.Server.TLS.CertFile = "server.crt" }, "TLS.KeyFile"},
		{"key without cert", func(c *Config) { c.Server.TLS.KeyFile = "server.key" }, "TLS.CertFile"},
		{"ca without cert", func(c *Config) { c.Server.TLS.CAFile = "ca.pem" }, "needs a server certificate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolvedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "burrow.wal"), cfg.LogPath())
	assert.Equal(t, filepath.Join("/data", "cold"), cfg.ColdDir())
	assert.Equal(t, filepath.Join("/data", "audit.jsonl"), cfg.AuditPath())

	cfg.Storage.LogPath = "/logs/x.wal"
	cfg.Cold.Dir = "/cold"
	assert.Equal(t, "/logs/x.wal", cfg.LogPath())
	assert.Equal(t, "/cold", cfg.ColdDir())

	cfg.Audit.Path = "/var/log/burrow-audit.jsonl"
	assert.Equal(t, "/var/log/burrow-audit.jsonl", cfg.AuditPath())
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	cfg.Tier.HotDocuments = 3
	cfg.Tier.HotBytes = 4096
	cfg.Storage.CompressLog = true

	ec := cfg.EngineConfig()
	require.NoError(t, ec.Validate())
	assert.Equal(t, cfg.LogPath(), ec.LogPath)
	assert.Equal(t, cfg.ColdDir(), ec.ColdDir)
	assert.Equal(t, 3, ec.Tier.MaxDocuments)
	assert.Equal(t, int64(4096), ec.Tier.MaxBytes)
	assert.True(t, ec.CompressLog)
	assert.Equal(t, cfg.Tier.HalfLife, ec.HalfLife)

	lo := cfg.LoopOptions()
	assert.Equal(t, cfg.Server.QueueSize, lo.QueueSize)
	assert.Equal(t, cfg.Tier.SweepInterval, lo.SweepInterval)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Tier.HotDocuments = 7
	data, err := cfg.Marshal()
	require.NoError(t, err)

	cfg2, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg, cfg2)
}

func TestTLSOptions(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.Server.TLS.Options().Enabled())

	cfg.Server.TLS.SelfSigned = true
	cfg.Server.TLS.Hosts = []string{"db.internal"}
	require.NoError(t, cfg.Validate())

	opts := cfg.Server.TLS.Options()
	assert.True(t, opts.Enabled())
	assert.Equal(t, []string{"db.internal"}, opts.Hosts)
}
