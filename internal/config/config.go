// Package config provides YAML configuration loading with validation,
// non-fatal warnings, and environment variable overrides for the metrics
// exporter. The environment names match the original deployment contract
// (METRICS_ENDPOINT, MAX_RETRY_ATTEMPTS, RETRY_DELAY, GRACE_PERIOD_SECONDS,
// PORT), so the sidecar can run with no config file at all.
package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML as either a Go
// duration string ("30s", "12h") or a bare number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Config is the top-level exporter configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Upstream       UpstreamConfig       `yaml:"upstream"`
	Fetch          FetchConfig          `yaml:"fetch"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Drain          DrainConfig          `yaml:"drain"`
	Logging        LoggingConfig        `yaml:"logging"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Admin          AdminConfig          `yaml:"admin"`

	// Warnings holds non-fatal issues detected during loading. Stored on
	// the Config itself so Load is safe to call concurrently from the
	// hot-reload goroutine.
	Warnings []string `yaml:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig identifies the agent endpoint bridged by the exporter.
type UpstreamConfig struct {
	Endpoint       string   `yaml:"endpoint"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// FetchConfig holds the retry budget and cache freshness window. The drain
// values apply once a termination signal has been received.
type FetchConfig struct {
	MaxAttempts      int      `yaml:"max_attempts"`
	RetryDelay       Duration `yaml:"retry_delay"`
	DrainMaxAttempts int      `yaml:"drain_max_attempts"`
	DrainRetryDelay  Duration `yaml:"drain_retry_delay"`
	CacheTTL         Duration `yaml:"cache_ttl"`
}

// CircuitBreakerConfig holds the breaker thresholds for upstream calls.
type CircuitBreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
}

// DrainConfig holds the graceful-termination settings.
type DrainConfig struct {
	GracePeriod  Duration `yaml:"grace_period"`
	PollInterval Duration `yaml:"poll_interval"`
	PollTimeout  Duration `yaml:"poll_timeout"`
}

// LoggingConfig holds log output and level settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`        // "debug", "info", "warn", "error"; default "info"
	Output     string `yaml:"output"`       // "stdout", "stderr", or file path; default "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb"`  // rotation threshold for file output; default 100
	MaxBackups int    `yaml:"max_backups"`  // rotated files to keep; default 3
	MaxAgeDays int    `yaml:"max_age_days"` // max days to retain rotated files; default 30
}

// TelemetryConfig holds the self-instrumentation endpoint settings.
// Enabled defaults to true; set to false to disable.
type TelemetryConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IsEnabled returns whether self-telemetry is enabled (defaults to true).
func (t TelemetryConfig) IsEnabled() bool {
	if t.Enabled == nil {
		return true
	}
	return *t.Enabled
}

// AdminConfig holds the runtime inspection endpoint settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled"`      // default: false
	IPAllowlist []string `yaml:"ip_allowlist"` // CIDR notation
}

// Default returns the stock configuration matching the deployed sidecar.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(3 * time.Minute), // a full non-drain retry budget can take minutes
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Upstream: UpstreamConfig{
			Endpoint:       "http://localhost:8080/actuator/info",
			RequestTimeout: Duration(10 * time.Second),
		},
		Fetch: FetchConfig{
			MaxAttempts:      30,
			RetryDelay:       Duration(5 * time.Second),
			DrainMaxAttempts: 3,
			DrainRetryDelay:  Duration(time.Second),
			CacheTTL:         Duration(30 * time.Second),
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  Duration(30 * time.Second),
		},
		Drain: DrainConfig{
			GracePeriod:  Duration(12 * time.Hour),
			PollInterval: Duration(time.Second),
			PollTimeout:  Duration(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
		Telemetry: TelemetryConfig{
			Path: "/telemetry",
		},
	}
}

// envOverrides maps the original deployment's environment variables onto the
// config. RETRY_DELAY and GRACE_PERIOD_SECONDS are plain integers (seconds)
// for compatibility with existing manifests.
type envOverrides struct {
	MetricsEndpoint    string `env:"METRICS_ENDPOINT"`
	MaxRetryAttempts   *int   `env:"MAX_RETRY_ATTEMPTS"`
	RetryDelaySeconds  *int   `env:"RETRY_DELAY"`
	GracePeriodSeconds *int   `env:"GRACE_PERIOD_SECONDS"`
	Port               *int   `env:"PORT"`
}

// Load builds the configuration: defaults, then the YAML file (when path is
// non-empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	var env envOverrides
	if err := envconfig.Process(context.Background(), &env); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.applyEnv(env)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(env envOverrides) {
	if env.MetricsEndpoint != "" {
		c.Upstream.Endpoint = env.MetricsEndpoint
	}
	if env.MaxRetryAttempts != nil {
		c.Fetch.MaxAttempts = *env.MaxRetryAttempts
	}
	if env.RetryDelaySeconds != nil {
		c.Fetch.RetryDelay = Duration(time.Duration(*env.RetryDelaySeconds) * time.Second)
	}
	if env.GracePeriodSeconds != nil {
		c.Drain.GracePeriod = Duration(time.Duration(*env.GracePeriodSeconds) * time.Second)
	}
	if env.Port != nil {
		c.Server.Port = *env.Port
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	u, err := url.Parse(c.Upstream.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("upstream.endpoint %q is not a valid http(s) URL", c.Upstream.Endpoint)
	}

	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch.max_attempts must be at least 1, got %d", c.Fetch.MaxAttempts)
	}
	if c.Fetch.DrainMaxAttempts < 1 {
		return fmt.Errorf("fetch.drain_max_attempts must be at least 1, got %d", c.Fetch.DrainMaxAttempts)
	}
	if c.Fetch.RetryDelay < 0 || c.Fetch.DrainRetryDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1, got %d", c.CircuitBreaker.FailureThreshold)
	}
	if c.Drain.GracePeriod <= 0 {
		return fmt.Errorf("drain.grace_period must be positive, got %v", c.Drain.GracePeriod.Std())
	}

	if !validLogLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Admin.Enabled && len(c.Admin.IPAllowlist) == 0 {
		c.Warnings = append(c.Warnings, "admin endpoint enabled without an ip_allowlist; it will reject all requests")
	}
	if c.Fetch.CacheTTL == 0 {
		c.Warnings = append(c.Warnings, "fetch.cache_ttl is 0; every scrape will hit the upstream")
	}
	if c.Drain.GracePeriod.Std() > 24*time.Hour {
		c.Warnings = append(c.Warnings, fmt.Sprintf("drain.grace_period %v is unusually long", c.Drain.GracePeriod.Std()))
	}
	if c.Fetch.RetryDelay.Std()*time.Duration(c.Fetch.MaxAttempts) > c.Server.WriteTimeout.Std() {
		c.Warnings = append(c.Warnings, "full retry budget exceeds server.write_timeout; scrapes may be cut off mid-retry")
	}

	return nil
}

func validLogLevel(level string) bool {
	switch level {
	case "", "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
