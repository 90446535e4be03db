package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Compaction CompactionConfig `yaml:"compaction"`
	Status     StatusConfig     `yaml:"status"`
	Schema     string           `yaml:"schema"`
	LogLevel   string           `yaml:"log_level"`
}

// StorageConfig represents the S3-compatible segment store
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Bucket    string `yaml:"bucket"`
}

// CompactionConfig represents compaction-specific configuration
type CompactionConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	PartSize       int64         `yaml:"part_size"`
	MinSegments    int           `yaml:"min_segments"`
	Retries        int           `yaml:"retries"`
	RetryBackoffMs int           `yaml:"retry_backoff_ms"`
	LoadInterval   time.Duration `yaml:"load_interval"`
	ShowProgress   bool          `yaml:"show_progress"`
}

// StatusConfig represents the status/metrics HTTP server
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Schema:   "./schema.db",
		Compaction: CompactionConfig{
			Concurrency:    4,
			PartSize:       67108864, // 64MB
			MinSegments:    2,
			Retries:        5,
			RetryBackoffMs: 500,
			LoadInterval:   30 * time.Second,
			ShowProgress:   true,
		},
		Status: StatusConfig{
			Addr: ":8080",
		},
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// RegisterFlags adds the daemon flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String("endpoint", "", "Segment store endpoint")
	fs.String("access-key", "", "Segment store access key")
	fs.String("secret-key", "", "Segment store secret key")
	fs.Bool("secure", false, "Use HTTPS for the segment store")
	fs.String("bucket", "", "Bucket holding the segments (required)")

	fs.String("schema", d.Schema, "Schema registry database file")
	fs.Int("concurrency", d.Compaction.Concurrency, "Number of concurrent compactions")
	fs.Int64("part-size", d.Compaction.PartSize, "Multipart part size in bytes")
	fs.Int("min-segments", d.Compaction.MinSegments, "Minimum number of segments for a table to be compacted")
	fs.Int("retries", d.Compaction.Retries, "Maximum attempts per table")
	fs.Int("retry-backoff-ms", d.Compaction.RetryBackoffMs, "Initial retry backoff in milliseconds")
	fs.Duration("load-interval", d.Compaction.LoadInterval, "Interval between node load measurements")
	fs.Bool("show-progress", d.Compaction.ShowProgress, "Show progress display")
	fs.String("status-addr", d.Status.Addr, "Status and metrics listen address")
	fs.String("log-level", d.LogLevel, "Log level (debug/info/warn/error)")
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("endpoint", func() (e error) { cfg.Storage.Endpoint, e = flags.GetString("endpoint"); return })
	set("access-key", func() (e error) { cfg.Storage.AccessKey, e = flags.GetString("access-key"); return })
	set("secret-key", func() (e error) { cfg.Storage.SecretKey, e = flags.GetString("secret-key"); return })
	set("secure", func() (e error) { cfg.Storage.Secure, e = flags.GetBool("secure"); return })
	set("bucket", func() (e error) { cfg.Storage.Bucket, e = flags.GetString("bucket"); return })

	set("schema", func() (e error) { cfg.Schema, e = flags.GetString("schema"); return })
	set("concurrency", func() (e error) { cfg.Compaction.Concurrency, e = flags.GetInt("concurrency"); return })
	set("part-size", func() (e error) { cfg.Compaction.PartSize, e = flags.GetInt64("part-size"); return })
	set("min-segments", func() (e error) { cfg.Compaction.MinSegments, e = flags.GetInt("min-segments"); return })
	set("retries", func() (e error) { cfg.Compaction.Retries, e = flags.GetInt("retries"); return })
	set("retry-backoff-ms", func() (e error) { cfg.Compaction.RetryBackoffMs, e = flags.GetInt("retry-backoff-ms"); return })
	set("load-interval", func() (e error) { cfg.Compaction.LoadInterval, e = flags.GetDuration("load-interval"); return })
	set("show-progress", func() (e error) { cfg.Compaction.ShowProgress, e = flags.GetBool("show-progress"); return })
	set("status-addr", func() (e error) { cfg.Status.Addr, e = flags.GetString("status-addr"); return })
	set("log-level", func() (e error) { cfg.LogLevel, e = flags.GetString("log-level"); return })

	return err
}

func (c *Config) validate() error {
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}
	if c.Storage.AccessKey == "" {
		return fmt.Errorf("storage access key is required")
	}
	if c.Storage.SecretKey == "" {
		return fmt.Errorf("storage secret key is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Schema == "" {
		return fmt.Errorf("schema database is required")
	}

	if c.Compaction.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Compaction.PartSize < 5*1024*1024 { // 5MB minimum for S3
		return fmt.Errorf("part size must be at least 5MB")
	}
	if c.Compaction.MinSegments < 2 {
		return fmt.Errorf("min segments must be at least 2")
	}
	if c.Compaction.Retries <= 0 {
		return fmt.Errorf("retries must be positive")
	}
	if c.Compaction.LoadInterval <= 0 {
		return fmt.Errorf("load interval must be positive")
	}

	return nil
}
