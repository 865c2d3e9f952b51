// Package config loads and validates engagement-tracker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/engagement-tracker/internal/engagement"
	"github.com/JakeFAU/engagement-tracker/internal/headless"
	"github.com/JakeFAU/engagement-tracker/internal/kv/postgres"
	"github.com/JakeFAU/engagement-tracker/internal/kv/redis"
	"github.com/JakeFAU/engagement-tracker/internal/logging"
	"github.com/JakeFAU/engagement-tracker/internal/storage"
	"github.com/JakeFAU/engagement-tracker/internal/telemetry"
)

// Record store backends.
const (
	RecordsMemory   = "memory"
	RecordsSQLite   = "sqlite"
	RecordsPostgres = "postgres"
	RecordsRedis    = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     logging.Config    `mapstructure:"logging"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Consent     ConsentConfig     `mapstructure:"consent"`
	Attribution AttributionConfig `mapstructure:"attribution"`
	Engagement  EngagementConfig  `mapstructure:"engagement"`
	Hub         HubConfig         `mapstructure:"hub"`
	Sinks       SinksConfig       `mapstructure:"sinks"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Tracing     telemetry.Config  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxTraceBytes     int64         `mapstructure:"max_trace_bytes"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StorageConfig selects the record store and the archive blob store.
type StorageConfig struct {
	Records RecordsConfig `mapstructure:"records"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// RecordsConfig selects where consent and attribution records persist.
type RecordsConfig struct {
	Backend    string          `mapstructure:"backend"`
	SQLitePath string          `mapstructure:"sqlite_path"`
	Postgres   postgres.Config `mapstructure:"postgres"`
	Redis      redis.Config    `mapstructure:"redis"`
}

// ArchiveConfig selects the blob store behind the archive sink.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// ConsentConfig tunes the consent store.
type ConsentConfig struct {
	MaxAge time.Duration `mapstructure:"max_age"`
}

// AttributionConfig tunes the attribution store.
type AttributionConfig struct {
	TTL   time.Duration `mapstructure:"ttl"`
	Param string        `mapstructure:"param"`
}

// EngagementConfig tunes the engagement tracker.
type EngagementConfig struct {
	ScrollThrottle     time.Duration `mapstructure:"scroll_throttle"`
	SampleInterval     time.Duration `mapstructure:"sample_interval"`
	ReportInterval     time.Duration `mapstructure:"report_interval"`
	InactivityTimeout  time.Duration `mapstructure:"inactivity_timeout"`
	StartThreshold     int           `mapstructure:"start_threshold"`
	CompleteThreshold  int           `mapstructure:"complete_threshold"`
	ReportAfterSeconds float64       `mapstructure:"report_after_seconds"`
	MinFinalSeconds    float64       `mapstructure:"min_final_seconds"`
	Thresholds         []int         `mapstructure:"thresholds"`
	ContentSelector    string        `mapstructure:"content_selector"`
}

// HubConfig controls fan-out buffering and batching.
type HubConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// SinksConfig toggles the fan-out sinks.
type SinksConfig struct {
	Log        bool         `mapstructure:"log"`
	Prometheus bool         `mapstructure:"prometheus"`
	Archive    bool         `mapstructure:"archive"`
	PubSub     PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds the topic tracking events are published to.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// HeadlessConfig configures the headless browser used by live-page replays.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	headless.Config `mapstructure:",squash"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENGAGEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_trace_bytes", 1<<20)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("storage.records.backend", RecordsMemory)
	v.SetDefault("storage.records.sqlite_path", "engagement.db")
	v.SetDefault("storage.records.postgres.table", postgres.DefaultTable)
	v.SetDefault("storage.records.redis.addr", "localhost:6379")
	v.SetDefault("storage.records.redis.prefix", "engagement:")
	v.SetDefault("storage.archive.backend", storage.BackendMemory)
	v.SetDefault("storage.archive.base_dir", "data/archive")
	v.SetDefault("storage.archive.prefix", "events")
	v.SetDefault("consent.max_age", "8760h")
	v.SetDefault("attribution.ttl", "720h")
	v.SetDefault("attribution.param", "src")
	v.SetDefault("engagement.scroll_throttle", engagement.DefaultScrollThrottle.String())
	v.SetDefault("engagement.sample_interval", engagement.DefaultSampleInterval.String())
	v.SetDefault("engagement.report_interval", engagement.DefaultReportInterval.String())
	v.SetDefault("engagement.inactivity_timeout", engagement.DefaultInactivityTimeout.String())
	v.SetDefault("engagement.start_threshold", engagement.DefaultStartThreshold)
	v.SetDefault("engagement.complete_threshold", engagement.DefaultCompleteThreshold)
	v.SetDefault("engagement.report_after_seconds", engagement.DefaultReportAfterSeconds)
	v.SetDefault("engagement.min_final_seconds", engagement.DefaultMinFinalSeconds)
	v.SetDefault("engagement.thresholds", engagement.DefaultThresholds)
	v.SetDefault("engagement.content_selector", engagement.DefaultContentSelector)
	v.SetDefault("hub.buffer_size", 4096)
	v.SetDefault("hub.max_batch_events", 500)
	v.SetDefault("hub.max_batch_wait", "1s")
	v.SetDefault("hub.sink_timeout", "10s")
	v.SetDefault("sinks.log", true)
	v.SetDefault("sinks.prometheus", true)
	v.SetDefault("sinks.archive", false)
	v.SetDefault("sinks.pubsub.enabled", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_pages", 2)
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("headless.eval_timeout", "5s")
	v.SetDefault("headless.host_rps", 1.0)
	v.SetDefault("headless.host_burst", 2)
	v.SetDefault("tracing.service_name", telemetry.ServiceName)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Records.Backend {
	case RecordsMemory:
	case RecordsSQLite:
		if c.Storage.Records.SQLitePath == "" {
			return fmt.Errorf("storage.records.sqlite_path is required for the sqlite backend")
		}
	case RecordsPostgres:
		if c.Storage.Records.Postgres.DSN == "" {
			return fmt.Errorf("storage.records.postgres.dsn is required for the postgres backend")
		}
	case RecordsRedis:
		if c.Storage.Records.Redis.Addr == "" {
			return fmt.Errorf("storage.records.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("storage.records.backend %q is not supported", c.Storage.Records.Backend)
	}
	if c.Sinks.Archive {
		switch c.Storage.Archive.Backend {
		case storage.BackendMemory:
		case storage.BackendLocal:
			if c.Storage.Archive.BaseDir == "" {
				return fmt.Errorf("storage.archive.base_dir is required for the local backend")
			}
		case storage.BackendGCS:
			if c.Storage.Archive.Bucket == "" {
				return fmt.Errorf("storage.archive.bucket is required for the gcs backend")
			}
		default:
			return fmt.Errorf("storage.archive.backend %q is not supported", c.Storage.Archive.Backend)
		}
	}
	if c.Sinks.PubSub.Enabled && (c.Sinks.PubSub.ProjectID == "" || c.Sinks.PubSub.Topic == "") {
		return fmt.Errorf("sinks.pubsub.project_id and sinks.pubsub.topic are required when pubsub is enabled")
	}
	e := c.Engagement
	if e.StartThreshold < 0 || e.StartThreshold > 100 {
		return fmt.Errorf("engagement.start_threshold must be within 0..100")
	}
	if e.CompleteThreshold < 0 || e.CompleteThreshold > 100 {
		return fmt.Errorf("engagement.complete_threshold must be within 0..100")
	}
	for _, th := range e.Thresholds {
		if th <= 0 || th > 100 {
			return fmt.Errorf("engagement.thresholds must be within 1..100, got %d", th)
		}
	}
	if c.Hub.BufferSize < 0 || c.Hub.MaxBatchEvents < 0 {
		return fmt.Errorf("hub.buffer_size and hub.max_batch_events must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxPages <= 0 {
		return fmt.Errorf("headless.max_pages must be > 0 when headless is enabled")
	}
	if c.Headless.HostRPS < 0 {
		return fmt.Errorf("headless.host_rps must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within 0..1")
	}
	return nil
}

// TrackerConfig converts the engagement section for the tracker.
func (c Config) TrackerConfig() engagement.Config {
	e := c.Engagement
	return engagement.Config{
		ScrollThrottle:     e.ScrollThrottle,
		SampleInterval:     e.SampleInterval,
		ReportInterval:     e.ReportInterval,
		InactivityTimeout:  e.InactivityTimeout,
		StartThreshold:     e.StartThreshold,
		CompleteThreshold:  e.CompleteThreshold,
		ReportAfterSeconds: e.ReportAfterSeconds,
		MinFinalSeconds:    e.MinFinalSeconds,
		Thresholds:         append([]int(nil), e.Thresholds...),
		ContentSelector:    e.ContentSelector,
	}
}
