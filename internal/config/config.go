// Package config loads and validates mirror configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names accepted by the storage, db, steps and queue sections.
const (
	ProviderMemory   = "memory"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
	ProviderPostgres = "postgres"
	ProviderSQLite   = "sqlite"
	ProviderPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Source    SourceConfig    `mapstructure:"source"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Steps     StepsConfig     `mapstructure:"steps"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig points at the upstream page API.
type SourceConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Project       string        `mapstructure:"project"`
	UserAgent     string        `mapstructure:"user_agent"`
	ListChunkSize int           `mapstructure:"list_chunk_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RPS           float64       `mapstructure:"rps"`
	Burst         int           `mapstructure:"burst"`
}

// Endpoint joins the base URL and project into the list endpoint.
func (s SourceConfig) Endpoint() string {
	base := strings.TrimSuffix(s.BaseURL, "/")
	if s.Project == "" {
		return base
	}
	return base + "/" + url.PathEscape(s.Project)
}

// SyncConfig tunes the sync workflow and its batches.
type SyncConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	StepSize     int           `mapstructure:"step_size"`
	Period       time.Duration `mapstructure:"period"`
	Slack        time.Duration `mapstructure:"slack"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// TemporalConfig tunes the on-this-day extractor.
type TemporalConfig struct {
	StepSize int `mapstructure:"step_size"`
}

// NotifyConfig configures the operator digest.
type NotifyConfig struct {
	MaxPages    int    `mapstructure:"max_pages"`
	ChunkBudget int    `mapstructure:"chunk_budget"`
	WebhookURL  string `mapstructure:"webhook_url"`
	Secret      string `mapstructure:"secret"`
	SiteURL     string `mapstructure:"site_url"`
}

// Enabled reports whether the digest can sign links.
func (n NotifyConfig) Enabled() bool {
	return n.Secret != "" && n.SiteURL != ""
}

// StorageConfig selects the object store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// StepsConfig selects the durable step log and its retry policy.
type StepsConfig struct {
	Provider       string        `mapstructure:"provider"`
	SQLitePath     string        `mapstructure:"sqlite_path"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// QueueConfig selects the batch transport.
type QueueConfig struct {
	Provider     string `mapstructure:"provider"`
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
	Depth        int    `mapstructure:"depth"`
	Workers      int    `mapstructure:"workers"`
}

// ScheduleConfig sets the serve-mode trigger intervals. Zero disables a job.
type ScheduleConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Sync     time.Duration `mapstructure:"sync"`
	Temporal time.Duration `mapstructure:"temporal"`
	Index    time.Duration `mapstructure:"index"`
	Notify   time.Duration `mapstructure:"notify"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig tunes trace sampling.
type TelemetryConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIRROR")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("source.base_url", "https://scrapbox.io/api/pages")
	v.SetDefault("source.project", "")
	v.SetDefault("source.user_agent", "wiki-mirror/0.1")
	v.SetDefault("source.list_chunk_size", 1000)
	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.rps", 5.0)
	v.SetDefault("source.burst", 5)
	v.SetDefault("sync.batch_size", 300)
	v.SetDefault("sync.step_size", 100)
	v.SetDefault("sync.period", 24*time.Hour)
	v.SetDefault("sync.slack", time.Hour)
	v.SetDefault("sync.batch_timeout", 30*time.Minute)
	v.SetDefault("temporal.step_size", 10)
	v.SetDefault("notify.max_pages", 20)
	v.SetDefault("notify.chunk_budget", 2000)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.secret", "")
	v.SetDefault("notify.site_url", "")
	v.SetDefault("storage.provider", ProviderMemory)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.base_dir", "./data/objects")
	v.SetDefault("db.provider", ProviderMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)
	v.SetDefault("steps.provider", ProviderMemory)
	v.SetDefault("steps.sqlite_path", "./data/steps.db")
	v.SetDefault("steps.max_attempts", 3)
	v.SetDefault("steps.backoff_initial", 250*time.Millisecond)
	v.SetDefault("steps.backoff_max", 5*time.Second)
	v.SetDefault("queue.provider", ProviderMemory)
	v.SetDefault("queue.project_id", "")
	v.SetDefault("queue.topic", "")
	v.SetDefault("queue.subscription", "")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.sync", 24*time.Hour)
	v.SetDefault("schedule.temporal", 24*time.Hour)
	v.SetDefault("schedule.index", 24*time.Hour)
	v.SetDefault("schedule.notify", 24*time.Hour)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.ListChunkSize <= 0 {
		return fmt.Errorf("source.list_chunk_size must be > 0")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be > 0")
	}
	if c.Sync.BatchSize <= 0 || c.Sync.StepSize <= 0 {
		return fmt.Errorf("sync.batch_size and sync.step_size must be > 0")
	}
	if c.Sync.Period <= 0 || c.Sync.Slack < 0 {
		return fmt.Errorf("sync.period must be > 0 and sync.slack >= 0")
	}
	if c.Temporal.StepSize <= 0 {
		return fmt.Errorf("temporal.step_size must be > 0")
	}
	if c.Notify.MaxPages <= 0 || c.Notify.ChunkBudget <= 0 {
		return fmt.Errorf("notify.max_pages and notify.chunk_budget must be > 0")
	}
	switch c.Storage.Provider {
	case ProviderMemory:
	case ProviderLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local provider")
		}
	case ProviderGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.DB.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	switch c.Steps.Provider {
	case ProviderMemory:
	case ProviderSQLite:
		if c.Steps.SQLitePath == "" {
			return fmt.Errorf("steps.sqlite_path is required for the sqlite provider")
		}
	case ProviderPostgres:
		if c.DB.Provider != ProviderPostgres {
			return fmt.Errorf("steps.provider postgres requires db.provider postgres")
		}
	default:
		return fmt.Errorf("unknown steps.provider %q", c.Steps.Provider)
	}
	if c.Steps.MaxAttempts <= 0 {
		return fmt.Errorf("steps.max_attempts must be > 0")
	}
	switch c.Queue.Provider {
	case ProviderMemory:
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be > 0")
		}
	case ProviderPubSub:
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" {
			return fmt.Errorf("queue.project_id and queue.topic are required for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	return nil
}
