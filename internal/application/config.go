package application

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tickwatch/tickwatch/internal/detect"
	"github.com/tickwatch/tickwatch/internal/evidence"
	"github.com/tickwatch/tickwatch/internal/linkcheck"
	"github.com/tickwatch/tickwatch/internal/notify"
)

// Config is the full runtime configuration. Every section has working
// defaults so an empty file yields a usable in-memory deployment; Redis
// and Postgres are enabled by supplying their connection settings.
type Config struct {
	Detector  *detect.DetectorConfig      `yaml:"detector"`
	Dedup     DedupConfig                 `yaml:"dedup"`
	Evidence  *evidence.QualityGateConfig `yaml:"evidence"`
	LinkCheck LinkCheckConfig             `yaml:"link_check"`
	Policy    notify.PolicyConfig         `yaml:"policy"`
	Sources   SourcesConfig               `yaml:"sources"`
	Webhook   WebhookConfig               `yaml:"webhook"`
	Redis     RedisConfig                 `yaml:"redis"`
	Postgres  PostgresConfig              `yaml:"postgres"`
	HTTP      HTTPConfig                  `yaml:"http"`
}

// LinkCheckConfig is the YAML shape of the link checker settings; seconds
// here, durations at the checker.
type LinkCheckConfig struct {
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	UserAgent         string  `yaml:"user_agent"`
}

// Checker converts to the link checker's own config type.
func (c LinkCheckConfig) Checker() linkcheck.Config {
	cfg := linkcheck.DefaultConfig()
	if c.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	}
	if c.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = c.RequestsPerSecond
	}
	if c.UserAgent != "" {
		cfg.UserAgent = c.UserAgent
	}
	return cfg
}

type SourcesConfig struct {
	EvidenceFile string `yaml:"evidence_file"` // JSON fixture feed; empty disables
}

type WebhookConfig struct {
	URL            string `yaml:"url"` // empty means log-only, no delivery
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type DedupConfig struct {
	MergeToleranceSeconds int `yaml:"merge_tolerance_seconds"`
}

func (c DedupConfig) Tolerance() time.Duration {
	return time.Duration(c.MergeToleranceSeconds) * time.Second
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // empty means in-memory debounce cache
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN            string `yaml:"dsn"` // empty means in-memory repositories
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c PostgresConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig composes the per-component defaults.
func DefaultConfig() *Config {
	return &Config{
		Detector:  detect.DefaultDetectorConfig(),
		Dedup:     DedupConfig{MergeToleranceSeconds: 300},
		Evidence:  evidence.DefaultQualityGateConfig(),
		LinkCheck: LinkCheckConfig{TimeoutSeconds: 5, RequestsPerSecond: 4.0},
		Policy:    notify.DefaultPolicyConfig(),
		Webhook:   WebhookConfig{TimeoutSeconds: 10},
		Postgres:  PostgresConfig{TimeoutSeconds: 5},
		HTTP:      HTTPConfig{Addr: ":8087"},
	}
}

// LoadConfig reads a YAML file over the defaults. A missing path returns
// the defaults untouched.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate rejects settings the pipeline cannot run with. The policy
// section is deliberately not validated here: a broken policy is
// handled at decision time by suppressing sends, not at startup.
func (c *Config) Validate() error {
	if c.Detector == nil || len(c.Detector.Thresholds) == 0 {
		return fmt.Errorf("detector: at least one window threshold required")
	}
	for window, pct := range c.Detector.Thresholds {
		if window <= 0 {
			return fmt.Errorf("detector: window %d must be positive", window)
		}
		if pct <= 0 {
			return fmt.Errorf("detector: threshold for window %d must be positive", window)
		}
	}
	if c.Dedup.MergeToleranceSeconds < 0 {
		return fmt.Errorf("dedup: merge_tolerance_seconds must not be negative")
	}
	if c.Postgres.TimeoutSeconds <= 0 {
		c.Postgres.TimeoutSeconds = 5
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8087"
	}
	return nil
}
