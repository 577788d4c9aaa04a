package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.OutDir)
	assert.Equal(t, 50, cfg.MaxPages)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 350*time.Millisecond, cfg.Delay())
	assert.False(t, cfg.ListingHeadless)
	assert.False(t, cfg.LegacyHeadless)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, EngineChromedp, cfg.Browser.Engine)
	assert.Equal(t, 45*time.Second, cfg.Browser.PageLoadTimeout)
	assert.Equal(t, 6*time.Second, cfg.Browser.ConsentTimeout)
	assert.Equal(t, 15*time.Second, cfg.Listing.ReadyTimeout)
	assert.Equal(t, 20*time.Second, cfg.Detail.ReadyTimeout)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "publications", cfg.Postgres.Table)
	assert.Equal(t, int32(4), cfg.Postgres.MaxConns)
	assert.Equal(t, 30*time.Minute, cfg.Postgres.MaxConnLifetime)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Zero(t, cfg.RateLimit.RPS)
	assert.Equal(t, 1, cfg.RateLimit.Burst)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "harvester", cfg.Tracing.ServiceName)
	assert.InDelta(t, 1.0, cfg.Tracing.SampleRatio, 1e-9)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harvester.yaml")
	configYAML := `
outdir: out
max_pages: 3
workers: 2
delay: 1.5
listing_headless: true
base_url: https://research.example.edu/en/publications/
browser:
  engine: static
  user_agent: test-agent
  page_load_timeout: 10s
listing:
  ready_timeout: 2s
logging:
  development: false
  level: debug
gcs:
  bucket: harvest
  prefix: runs
postgres:
  max_conns: 12
  max_conn_lifetime: 5m
pubsub:
  project_id: proj
  topic: runs
tracing:
  enabled: true
  sample_ratio: 0.25
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "out", cfg.OutDir)
	assert.Equal(t, 3, cfg.MaxPages)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 1500*time.Millisecond, cfg.Delay())
	assert.True(t, cfg.ListingHeadless)
	assert.Equal(t, EngineStatic, cfg.Browser.Engine)
	assert.Equal(t, "test-agent", cfg.Browser.UserAgent)
	assert.Equal(t, 10*time.Second, cfg.Browser.PageLoadTimeout)
	assert.Equal(t, 2*time.Second, cfg.Listing.ReadyTimeout)
	assert.Equal(t, 20*time.Second, cfg.Detail.ReadyTimeout, "untouched keys keep defaults")
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "harvest", cfg.GCS.Bucket)
	assert.Equal(t, "runs", cfg.PubSub.Topic)
	assert.Equal(t, int32(12), cfg.Postgres.MaxConns)
	assert.Equal(t, 5*time.Minute, cfg.Postgres.MaxConnLifetime)
	assert.Equal(t, "publications", cfg.Postgres.Table)
	assert.True(t, cfg.Tracing.Enabled)
	assert.InDelta(t, 0.25, cfg.Tracing.SampleRatio, 1e-9)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_WORKERS", "3")
	t.Setenv("HARVESTER_BROWSER_ENGINE", "static")
	t.Setenv("HARVESTER_DETAIL_READY_TIMEOUT", "5s")
	t.Setenv("HARVESTER_POSTGRES_MAX_CONNS", "2")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, EngineStatic, cfg.Browser.Engine)
	assert.Equal(t, 5*time.Second, cfg.Detail.ReadyTimeout)
	assert.Equal(t, int32(2), cfg.Postgres.MaxConns)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load(NewViper(), "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"outdir", func(c *Config) { c.OutDir = " " }, "outdir must be set"},
		{"max pages", func(c *Config) { c.MaxPages = -1 }, "max_pages must be >= 0"},
		{"workers", func(c *Config) { c.Workers = 0 }, "workers must be > 0"},
		{"delay", func(c *Config) { c.DelaySeconds = -0.1 }, "delay must be >= 0"},
		{"base url", func(c *Config) { c.BaseURL = "/relative" }, "base_url must be an absolute http(s) URL"},
		{"engine", func(c *Config) { c.Browser.Engine = "firefox" }, "browser.engine must be"},
		{"page load", func(c *Config) { c.Browser.PageLoadTimeout = 0 }, "browser.page_load_timeout must be > 0"},
		{"consent", func(c *Config) { c.Browser.ConsentTimeout = 0 }, "browser.consent_timeout must be > 0"},
		{"listing ready", func(c *Config) { c.Listing.ReadyTimeout = 0 }, "listing.ready_timeout must be > 0"},
		{"detail ready", func(c *Config) { c.Detail.ReadyTimeout = 0 }, "detail.ready_timeout must be > 0"},
		{"max conns", func(c *Config) { c.Postgres.MaxConns = 0 }, "postgres.max_conns must be > 0"},
		{"conn lifetime", func(c *Config) { c.Postgres.MaxConnLifetime = 0 }, "postgres.max_conn_lifetime must be > 0"},
		{"pubsub", func(c *Config) { c.PubSub.Topic = "t" }, "pubsub.project_id must be set"},
		{"rps", func(c *Config) { c.RateLimit.RPS = -1 }, "rate_limit.rps must be >= 0"},
		{"burst", func(c *Config) { c.RateLimit.RPS, c.RateLimit.Burst = 2, 0 }, "rate_limit.burst must be > 0"},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "tracing.sample_ratio must be within"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	zero := base
	zero.MaxPages = 0
	zero.DelaySeconds = 0
	assert.NoError(t, zero.Validate())
}
