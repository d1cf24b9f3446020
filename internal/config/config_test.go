package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil, WithOverride("scan.range_begin", 1), WithOverride("scan.range_end", 5))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scan.ChunkSize != 1500 || cfg.Scan.ThrottleStep != 200 || cfg.Scan.MaxConcurrency != 10 {
		t.Fatalf("unexpected scan defaults: %+v", cfg.Scan)
	}
	if cfg.Output.Path != "bangumi_titles.txt" || cfg.Output.Delimiter != "\t" || cfg.Output.CacheDir != "." {
		t.Fatalf("unexpected output defaults: %+v", cfg.Output)
	}
	if cfg.Resolver.Mode != "api" || cfg.Scan.CleanupOnFailure {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if got := cfg.RetryCooldown(); got != 10*time.Second {
		t.Fatalf("expected 10s retry cooldown, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
scan:
  range_begin: 28000
  range_end: 29000
  chunk_size: 250
  throttle_step: 50
  max_concurrency: 4
  cleanup_on_failure: true
output:
  path: out/titles.csv
  delimiter: ","
resolver:
  mode: page
  timeout_seconds: 30
  max_rps: 5
logging:
  development: false
  file: main.log
db:
  dsn: postgres://localhost/bangumi
  table: catalog.titles
pubsub:
  project_id: proj
  topic_name: scans
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scan.RangeBegin != 28000 || cfg.Scan.RangeEnd != 29000 || cfg.Scan.ChunkSize != 250 {
		t.Fatalf("expected scan overrides to apply: %+v", cfg.Scan)
	}
	if !cfg.Scan.CleanupOnFailure {
		t.Fatal("expected cleanup_on_failure to be set")
	}
	if cfg.Output.Delimiter != "," || cfg.Resolver.Mode != "page" {
		t.Fatalf("unexpected output/resolver: %+v %+v", cfg.Output, cfg.Resolver)
	}
	if got := cfg.RequestTimeout(); got != 30*time.Second {
		t.Fatalf("expected request timeout 30s, got %v", got)
	}
	if cfg.Logging.File != "main.log" || cfg.DB.Table != "catalog.titles" {
		t.Fatalf("unexpected logging/db: %+v %+v", cfg.Logging, cfg.DB)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("scan:\n  chunk_size: 250\n  max_concurrency: 4\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	flags := pflag.NewFlagSet("scan", pflag.ContinueOnError)
	flags.Int64P("cache-step", "C", 1500, "")
	flags.IntP("thread-number", "T", 10, "")
	flags.StringP("delimiter", "D", "\t", "")
	if err := flags.Parse([]string{"-C", "100", "-D", `\t|`}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags, WithOverride("scan.range_end", 10))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scan.ChunkSize != 100 {
		t.Fatalf("expected changed flag to win, got %d", cfg.Scan.ChunkSize)
	}
	if cfg.Scan.MaxConcurrency != 4 {
		t.Fatalf("expected unchanged flag to defer to file, got %d", cfg.Scan.MaxConcurrency)
	}
	if cfg.Output.Delimiter != "\t|" {
		t.Fatalf("expected escaped delimiter to be interpreted, got %q", cfg.Output.Delimiter)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Scan:     ScanConfig{RangeBegin: 1, RangeEnd: 5, ChunkSize: 2, ThrottleStep: 200, MaxConcurrency: 2},
		Output:   OutputConfig{Path: "out.txt", Delimiter: "\t"},
		Resolver: ResolverConfig{Mode: "api", TimeoutSeconds: 15},
		DB:       DBConfig{Table: "bangumi_titles"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "reversed range", mutate: func(c *Config) { c.Scan.RangeEnd = 0 }, want: "scan.range_end"},
		{name: "negative begin", mutate: func(c *Config) { c.Scan.RangeBegin = -1 }, want: "scan.range_begin"},
		{name: "zero chunk", mutate: func(c *Config) { c.Scan.ChunkSize = 0 }, want: "scan.chunk_size"},
		{name: "zero throttle", mutate: func(c *Config) { c.Scan.ThrottleStep = 0 }, want: "scan.throttle_step"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Scan.MaxConcurrency = 0 }, want: "scan.max_concurrency"},
		{name: "empty output", mutate: func(c *Config) { c.Output.Path = "" }, want: "output.path"},
		{name: "empty delimiter", mutate: func(c *Config) { c.Output.Delimiter = "" }, want: "output.delimiter"},
		{name: "newline delimiter", mutate: func(c *Config) { c.Output.Delimiter = "\n" }, want: "line breaks"},
		{name: "unknown mode", mutate: func(c *Config) { c.Resolver.Mode = "rss" }, want: "resolver.mode"},
		{name: "zero timeout", mutate: func(c *Config) { c.Resolver.TimeoutSeconds = 0 }, want: "resolver.timeout_seconds"},
		{name: "negative rps", mutate: func(c *Config) { c.Resolver.MaxRPS = -1 }, want: "resolver.max_rps"},
		{
			name: "bad table",
			mutate: func(c *Config) {
				c.DB.DSN = "postgres://x"
				c.DB.Table = "titles; drop table x"
			},
			want: "db.table",
		},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "t" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestUnescapeDelimiter(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"\t":   "\t",
		`\t`:   "\t",
		",":    ",",
		` \| `: "",
	}
	for in, want := range cases {
		got, err := UnescapeDelimiter(in)
		if want == "" {
			if err == nil {
				t.Fatalf("expected error for %q", in)
			}
			continue
		}
		if err != nil || got != want {
			t.Fatalf("UnescapeDelimiter(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}
