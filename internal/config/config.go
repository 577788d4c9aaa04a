// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Engines understood by browser.engine.
const (
	EngineChromedp = "chromedp"
	EngineStatic   = "static"
)

// DefaultBaseURL is the organisation publications listing harvested by default.
const DefaultBaseURL = "https://pureportal.coventry.ac.uk/en/organisations/" +
	"fbl-school-of-economics-finance-and-accounting/publications/"

// EnvPrefix prefixes every environment override, e.g. HARVESTER_MAX_PAGES.
const EnvPrefix = "HARVESTER"

// Config captures every knob of a harvest run.
type Config struct {
	OutDir          string          `mapstructure:"outdir"`
	MaxPages        int             `mapstructure:"max_pages"`
	Workers         int             `mapstructure:"workers"`
	DelaySeconds    float64         `mapstructure:"delay"`
	ListingHeadless bool            `mapstructure:"listing_headless"`
	LegacyHeadless  bool            `mapstructure:"legacy_headless"`
	BaseURL         string          `mapstructure:"base_url"`
	Browser         BrowserConfig   `mapstructure:"browser"`
	Listing         StageConfig     `mapstructure:"listing"`
	Detail          StageConfig     `mapstructure:"detail"`
	Logging         LoggingConfig   `mapstructure:"logging"`
	Metrics         MetricsConfig   `mapstructure:"metrics"`
	GCS             GCSConfig       `mapstructure:"gcs"`
	Postgres        PostgresConfig  `mapstructure:"postgres"`
	PubSub          PubSubConfig    `mapstructure:"pubsub"`
	Tracing         TracingConfig   `mapstructure:"tracing"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// BrowserConfig configures browser sessions.
type BrowserConfig struct {
	Engine          string        `mapstructure:"engine"`
	UserAgent       string        `mapstructure:"user_agent"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`
	ConsentTimeout  time.Duration `mapstructure:"consent_timeout"`
}

// StageConfig bounds the readiness wait of a stage.
type StageConfig struct {
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// GCSConfig enables the artifact mirror when Bucket is set.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresConfig enables the relational export when DSN is set.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig enables run notifications when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RateLimitConfig caps detail requests per host across all workers.
// RPS 0 leaves only the per-worker delay.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// TracingConfig enables OpenTelemetry spans for each run.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// NewViper returns a Viper instance with defaults and environment lookup
// wired. Callers may bind flags before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the optional config file at path into v and decodes it.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("outdir", "data")
	v.SetDefault("max_pages", 50)
	v.SetDefault("workers", 8)
	v.SetDefault("delay", 0.35)
	v.SetDefault("listing_headless", false)
	v.SetDefault("legacy_headless", false)
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.page_load_timeout", 45*time.Second)
	v.SetDefault("browser.consent_timeout", 6*time.Second)
	v.SetDefault("listing.ready_timeout", 15*time.Second)
	v.SetDefault("detail.ready_timeout", 20*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "publications")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("rate_limit.rps", 0.0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "harvester")
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.OutDir) == "" {
		return fmt.Errorf("outdir must be set")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.DelaySeconds < 0 {
		return fmt.Errorf("delay must be >= 0")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL")
	}
	switch c.Browser.Engine {
	case EngineChromedp, EngineStatic:
	default:
		return fmt.Errorf("browser.engine must be %q or %q", EngineChromedp, EngineStatic)
	}
	if c.Browser.PageLoadTimeout <= 0 {
		return fmt.Errorf("browser.page_load_timeout must be > 0")
	}
	if c.Browser.ConsentTimeout <= 0 {
		return fmt.Errorf("browser.consent_timeout must be > 0")
	}
	if c.Listing.ReadyTimeout <= 0 {
		return fmt.Errorf("listing.ready_timeout must be > 0")
	}
	if c.Detail.ReadyTimeout <= 0 {
		return fmt.Errorf("detail.ready_timeout must be > 0")
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("postgres.max_conns must be > 0")
	}
	if c.Postgres.MaxConnLifetime <= 0 {
		return fmt.Errorf("postgres.max_conn_lifetime must be > 0")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// Delay converts the politeness delay to a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(math.Round(c.DelaySeconds * float64(time.Second)))
}
