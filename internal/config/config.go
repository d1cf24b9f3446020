// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/bangumi-scanner/internal/resolver"
)

// Config captures all scanner configuration knobs loaded via Viper.
type Config struct {
	Scan     ScanConfig     `mapstructure:"scan"`
	Output   OutputConfig   `mapstructure:"output"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	DB       DBConfig       `mapstructure:"db"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ScanConfig holds the identifier range and scheduling knobs.
type ScanConfig struct {
	RangeBegin       int64 `mapstructure:"range_begin"`
	RangeEnd         int64 `mapstructure:"range_end"`
	ChunkSize        int64 `mapstructure:"chunk_size"`
	ThrottleStep     int64 `mapstructure:"throttle_step"`
	MaxConcurrency   int   `mapstructure:"max_concurrency"`
	CleanupOnFailure bool  `mapstructure:"cleanup_on_failure"`
}

// OutputConfig sets the final artifact and cache locations.
type OutputConfig struct {
	Path      string `mapstructure:"path"`
	Delimiter string `mapstructure:"delimiter"`
	CacheDir  string `mapstructure:"cache_dir"`
}

// ResolverConfig selects and tunes the resolver backend.
type ResolverConfig struct {
	Mode                 string  `mapstructure:"mode"`
	APIEndpoint          string  `mapstructure:"api_endpoint"`
	URLTemplate          string  `mapstructure:"url_template"`
	UserAgent            string  `mapstructure:"user_agent"`
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	MaxRPS               float64 `mapstructure:"max_rps"`
	Burst                int     `mapstructure:"burst"`
	RetryCooldownSeconds int     `mapstructure:"retry_cooldown_seconds"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// MetricsConfig controls the optional metrics endpoint and progress reports.
type MetricsConfig struct {
	Addr                  string `mapstructure:"addr"`
	ReportIntervalSeconds int    `mapstructure:"report_interval_seconds"`
}

// DBConfig controls the optional Postgres export.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// GCSConfig controls the optional object storage upload.
type GCSConfig struct {
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	Endpoint    string `mapstructure:"endpoint"`
}

// PubSubConfig holds metadata for run-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// FlagKeys maps CLI flag names onto configuration keys.
var FlagKeys = map[string]string{
	"output-name":   "output.path",
	"delimiter":     "output.delimiter",
	"sleep-step":    "scan.throttle_step",
	"cache-step":    "scan.chunk_size",
	"thread-number": "scan.max_concurrency",
	"cache-dir":     "output.cache_dir",
	"metrics-addr":  "metrics.addr",
}

// Option adjusts the Viper instance before unmarshaling.
type Option func(*viper.Viper)

// WithOverride sets key to value with the highest precedence.
func WithOverride(key string, value any) Option {
	return func(v *viper.Viper) {
		v.Set(key, value)
	}
}

// Load builds a Config from defaults, an optional file, BANGUMI_* environment
// variables and the changed flags of flags, in increasing precedence.
func Load(path string, flags *pflag.FlagSet, opts ...Option) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BANGUMI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	for _, opt := range opts {
		opt(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	delim, err := UnescapeDelimiter(cfg.Output.Delimiter)
	if err != nil {
		return Config{}, err
	}
	cfg.Output.Delimiter = delim

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scan.range_begin", 0)
	v.SetDefault("scan.range_end", 0)
	v.SetDefault("scan.chunk_size", 1500)
	v.SetDefault("scan.throttle_step", 200)
	v.SetDefault("scan.max_concurrency", 10)
	v.SetDefault("scan.cleanup_on_failure", false)
	v.SetDefault("output.path", "bangumi_titles.txt")
	v.SetDefault("output.delimiter", "\t")
	v.SetDefault("output.cache_dir", ".")
	v.SetDefault("resolver.mode", string(resolver.ModeAPI))
	v.SetDefault("resolver.api_endpoint", "")
	v.SetDefault("resolver.url_template", "")
	v.SetDefault("resolver.user_agent", "")
	v.SetDefault("resolver.timeout_seconds", 15)
	v.SetDefault("resolver.max_rps", 0)
	v.SetDefault("resolver.burst", 1)
	v.SetDefault("resolver.retry_cooldown_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.report_interval_seconds", 10)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "bangumi_titles")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "bangumi")
	v.SetDefault("gcs.content_type", "text/plain; charset=utf-8")
	v.SetDefault("gcs.endpoint", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scan.RangeEnd < c.Scan.RangeBegin {
		return fmt.Errorf("scan.range_end %d must be >= scan.range_begin %d", c.Scan.RangeEnd, c.Scan.RangeBegin)
	}
	if c.Scan.RangeBegin < 0 {
		return fmt.Errorf("scan.range_begin must be >= 0")
	}
	if c.Scan.ChunkSize <= 0 {
		return fmt.Errorf("scan.chunk_size must be > 0")
	}
	if c.Scan.ThrottleStep <= 0 {
		return fmt.Errorf("scan.throttle_step must be > 0")
	}
	if c.Scan.MaxConcurrency <= 0 {
		return fmt.Errorf("scan.max_concurrency must be > 0")
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output.path must be set")
	}
	if c.Output.Delimiter == "" {
		return fmt.Errorf("output.delimiter must be set")
	}
	if strings.ContainsAny(c.Output.Delimiter, "\r\n") {
		return fmt.Errorf("output.delimiter must not contain line breaks")
	}
	if !resolver.Mode(c.Resolver.Mode).Valid() {
		return fmt.Errorf("resolver.mode %q must be %q or %q", c.Resolver.Mode, resolver.ModeAPI, resolver.ModePage)
	}
	if c.Resolver.TimeoutSeconds <= 0 {
		return fmt.Errorf("resolver.timeout_seconds must be > 0")
	}
	if c.Resolver.MaxRPS < 0 {
		return fmt.Errorf("resolver.max_rps must be >= 0")
	}
	if c.Resolver.RetryCooldownSeconds < 0 {
		return fmt.Errorf("resolver.retry_cooldown_seconds must be >= 0")
	}
	if c.DB.DSN != "" && !tableName.MatchString(c.DB.Table) {
		return fmt.Errorf("db.table %q is not a valid identifier", c.DB.Table)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout returns the per-request HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Resolver.TimeoutSeconds) * time.Second
}

// RetryCooldown returns the pause before retrying a transient failure.
func (c Config) RetryCooldown() time.Duration {
	return time.Duration(c.Resolver.RetryCooldownSeconds) * time.Second
}

// ReportInterval returns the progress report period.
func (c Config) ReportInterval() time.Duration {
	return time.Duration(c.Metrics.ReportIntervalSeconds) * time.Second
}

// UnescapeDelimiter interprets Go escape sequences such as `\t` typed
// literally on the command line.
func UnescapeDelimiter(raw string) (string, error) {
	if !strings.Contains(raw, `\`) {
		return raw, nil
	}
	out, err := strconv.Unquote(`"` + strings.ReplaceAll(raw, `"`, `\"`) + `"`)
	if err != nil {
		return "", fmt.Errorf("output.delimiter %q: %w", raw, err)
	}
	return out, nil
}
