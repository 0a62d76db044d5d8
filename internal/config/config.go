package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" decode.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	MySQLDSN  string `yaml:"mysql_dsn"`
	RedisAddr string `yaml:"redis_addr"`

	Ledger struct {
		LogUntrackedCommits bool `yaml:"log_untracked_commits"`
	} `yaml:"ledger"`

	Reservation struct {
		TTL            Duration `yaml:"ttl"`
		SweepInterval  Duration `yaml:"sweep_interval"`
		SweepBatchSize int      `yaml:"sweep_batch_size"`
	} `yaml:"reservation"`

	Retry struct {
		MaxAttempts int      `yaml:"max_attempts"`
		BaseDelay   Duration `yaml:"base_delay"`
		MaxDelay    Duration `yaml:"max_delay"`
	} `yaml:"retry"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides, and validates the result. Environment variables win
// over file values.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.MySQLDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}

	if cfg.MySQLDSN == "" {
		return nil, fmt.Errorf("mysql_dsn is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis_addr is required")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry.max_attempts must be at least 1")
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{
		HTTPAddr:  ":8080",
		MySQLDSN:  "root:root@tcp(localhost:3306)/inventory?parseTime=true",
		RedisAddr: "localhost:6379",
	}
	cfg.Reservation.TTL = Duration(30 * time.Minute)
	cfg.Reservation.SweepInterval = Duration(time.Minute)
	cfg.Reservation.SweepBatchSize = 100
	cfg.Retry.MaxAttempts = 4
	cfg.Retry.BaseDelay = Duration(25 * time.Millisecond)
	cfg.Retry.MaxDelay = Duration(500 * time.Millisecond)
	return cfg
}
