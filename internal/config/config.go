// Package config loads the service configuration from YAML, .env and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/cognitive-trace/internal/codec"
	"github.com/danielpatrickdp/cognitive-trace/internal/eval"
	"github.com/danielpatrickdp/cognitive-trace/internal/invoker"
	"github.com/danielpatrickdp/cognitive-trace/internal/orchestrator"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/signals"
	"github.com/danielpatrickdp/cognitive-trace/internal/trace"
)

// #region types

// Config is the top-level service configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Provider     ProviderConfig     `yaml:"provider"`
	Invoker      InvokerConfig      `yaml:"invoker"`
	Risk         RiskConfig         `yaml:"risk"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Spool        SpoolConfig        `yaml:"spool"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Mode            string        `yaml:"mode"` // gin mode: debug | release | test
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig selects the generative model backend.
type ProviderConfig struct {
	Kind       string  `yaml:"kind"` // openai | anthropic | grpc | static
	Model      string  `yaml:"model"`
	BaseURL    string  `yaml:"base_url"`
	APIKey     string  `yaml:"api_key"`
	GRPCAddr   string  `yaml:"grpc_addr"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
	MaxTokens  int     `yaml:"max_tokens"`
}

// InvokerConfig holds deadlines, retry and breaker settings.
type InvokerConfig struct {
	Deadline         time.Duration `yaml:"deadline"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	BackoffFactor    float64       `yaml:"backoff_factor"`
	Jitter           float64       `yaml:"jitter"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// RiskConfig tunes feature windows and the scoring table.
type RiskConfig struct {
	Window       int           `yaml:"window"`
	AcceptWindow time.Duration `yaml:"accept_window"`
	Weights      risk.Weights  `yaml:"weights"`
}

// MetricsConfig holds the rolling index window and policy table.
type MetricsConfig struct {
	Window  int          `yaml:"window"`
	Weights eval.Weights `yaml:"weights"`
}

// SpoolConfig selects where failed trace writes wait for a retry.
type SpoolConfig struct {
	Kind          string        `yaml:"kind"` // memory | redis
	RedisAddr     string        `yaml:"redis_addr"`
	Stream        string        `yaml:"stream"`
	Group         string        `yaml:"group"`
	Consumer      string        `yaml:"consumer"`
	Capacity      int           `yaml:"capacity"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// OrchestratorConfig tunes the per-session actors.
type OrchestratorConfig struct {
	MailboxSize int           `yaml:"mailbox_size"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// LogConfig sets the level and formatter of every component logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// #endregion types

// #region load

// Load reads .env (when present), then the YAML file at path, applies
// defaults and environment overrides and validates the result. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied and no
// environment overrides.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults fills in unset values.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "cognitive_trace.db"
	}
	if c.Provider.Kind == "" {
		c.Provider.Kind = "static"
	}
	if c.Provider.Burst == 0 {
		c.Provider.Burst = 1
	}
	if c.Provider.MaxTokens == 0 {
		c.Provider.MaxTokens = 1024
	}

	inv := invoker.DefaultConfig()
	retry := invoker.DefaultRetryConfig()
	breaker := invoker.DefaultBreakerConfig()
	if c.Invoker.Deadline == 0 {
		c.Invoker.Deadline = inv.Deadline
	}
	if c.Invoker.AttemptTimeout == 0 {
		c.Invoker.AttemptTimeout = inv.AttemptTimeout
	}
	if c.Invoker.MaxAttempts == 0 {
		c.Invoker.MaxAttempts = retry.MaxAttempts
	}
	if c.Invoker.InitialBackoff == 0 {
		c.Invoker.InitialBackoff = retry.InitialBackoff
	}
	if c.Invoker.MaxBackoff == 0 {
		c.Invoker.MaxBackoff = retry.MaxBackoff
	}
	if c.Invoker.BackoffFactor == 0 {
		c.Invoker.BackoffFactor = retry.BackoffFactor
	}
	if c.Invoker.Jitter == 0 {
		c.Invoker.Jitter = retry.JitterFactor
	}
	if c.Invoker.BreakerThreshold == 0 {
		c.Invoker.BreakerThreshold = breaker.FailureThreshold
	}
	if c.Invoker.BreakerCooldown == 0 {
		c.Invoker.BreakerCooldown = breaker.Cooldown
	}

	producer := signals.DefaultProducerConfig()
	if c.Risk.Window == 0 {
		c.Risk.Window = producer.Window
	}
	if c.Risk.AcceptWindow == 0 {
		c.Risk.AcceptWindow = producer.AcceptWindow
	}
	if c.Risk.Weights == (risk.Weights{}) {
		c.Risk.Weights = risk.DefaultWeights()
	}

	orch := orchestrator.DefaultConfig()
	if c.Metrics.Window == 0 {
		c.Metrics.Window = orch.MetricsWindow
	}
	if c.Metrics.Weights == (eval.Weights{}) {
		c.Metrics.Weights = eval.DefaultWeights()
	}

	spool := trace.DefaultSpoolConfig()
	if c.Spool.Kind == "" {
		c.Spool.Kind = "memory"
	}
	if c.Spool.Stream == "" {
		c.Spool.Stream = "cognitive_trace:spool"
	}
	if c.Spool.Group == "" {
		c.Spool.Group = "trace-recorder"
	}
	if c.Spool.Consumer == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Spool.Consumer = host
		} else {
			c.Spool.Consumer = "controller"
		}
	}
	if c.Spool.Capacity == 0 {
		c.Spool.Capacity = spool.Capacity
	}
	if c.Spool.RetryInterval == 0 {
		c.Spool.RetryInterval = spool.RetryInterval
	}
	if c.Spool.MaxAttempts == 0 {
		c.Spool.MaxAttempts = spool.MaxAttempts
	}

	if c.Orchestrator.MailboxSize == 0 {
		c.Orchestrator.MailboxSize = orch.MailboxSize
	}
	if c.Orchestrator.IdleTimeout == 0 {
		c.Orchestrator.IdleTimeout = orch.IdleTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("TRACE_DB", &c.Database.Path)
	str("TRACE_HTTP_ADDR", &c.Server.Addr)
	str("TRACE_PROVIDER", &c.Provider.Kind)
	str("TRACE_MODEL", &c.Provider.Model)
	str("TRACE_LOG_LEVEL", &c.Log.Level)
	str("TRACE_LOG_FORMAT", &c.Log.Format)
	str("TRACE_GRPC_ADDR", &c.Provider.GRPCAddr)

	// provider keys only apply to their provider
	switch strings.ToLower(c.Provider.Kind) {
	case "openai":
		str("OPENAI_API_KEY", &c.Provider.APIKey)
		str("OPENAI_BASE_URL", &c.Provider.BaseURL)
	case "anthropic":
		str("ANTHROPIC_API_KEY", &c.Provider.APIKey)
	}

	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Spool.RedisAddr = v
		c.Spool.Kind = "redis"
	}
	if v, ok := lookup("TRACE_RATE_PER_SEC"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: TRACE_RATE_PER_SEC: %w", err)
		}
		c.Provider.RatePerSec = f
	}
	return nil
}

// validate checks that all values are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch strings.ToLower(c.Provider.Kind) {
	case "openai", "anthropic":
		if c.Provider.APIKey == "" {
			errs = append(errs, fmt.Sprintf("provider.api_key is required for %s", c.Provider.Kind))
		}
	case "grpc":
		if c.Provider.GRPCAddr == "" {
			errs = append(errs, "provider.grpc_addr is required for grpc")
		}
	case "static":
	default:
		errs = append(errs, fmt.Sprintf("provider.kind %q is not one of openai, anthropic, grpc, static", c.Provider.Kind))
	}
	if c.Provider.RatePerSec < 0 {
		errs = append(errs, "provider.rate_per_sec must not be negative")
	}
	if c.Invoker.AttemptTimeout > c.Invoker.Deadline {
		errs = append(errs, "invoker.attempt_timeout must not exceed invoker.deadline")
	}
	if c.Invoker.MaxAttempts < 1 {
		errs = append(errs, "invoker.max_attempts must be at least 1")
	}
	if c.Invoker.Jitter < 0 || c.Invoker.Jitter >= 1 {
		errs = append(errs, "invoker.jitter must be in [0,1)")
	}
	if c.Invoker.BreakerThreshold < 1 {
		errs = append(errs, "invoker.breaker_threshold must be at least 1")
	}
	if c.Metrics.Window < 1 {
		errs = append(errs, "metrics.window must be at least 1")
	}
	switch c.Spool.Kind {
	case "memory":
	case "redis":
		if c.Spool.RedisAddr == "" {
			errs = append(errs, "spool.redis_addr is required for the redis spool")
		}
	default:
		errs = append(errs, fmt.Sprintf("spool.kind %q is not one of memory, redis", c.Spool.Kind))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// #endregion load

// #region conversions

// CodecConfig returns the provider client settings.
func (c *Config) CodecConfig() codec.Config {
	return codec.Config{
		Kind:      c.Provider.Kind,
		Model:     c.Provider.Model,
		APIKey:    c.Provider.APIKey,
		BaseURL:   c.Provider.BaseURL,
		GRPCAddr:  c.Provider.GRPCAddr,
		MaxTokens: c.Provider.MaxTokens,
	}
}

// InvokerConfig returns the invoker settings.
func (c *Config) InvokerConfig() invoker.Config {
	cfg := invoker.DefaultConfig()
	cfg.Deadline = c.Invoker.Deadline
	cfg.AttemptTimeout = c.Invoker.AttemptTimeout
	cfg.RatePerSec = c.Provider.RatePerSec
	cfg.Burst = c.Provider.Burst
	cfg.MaxTokens = c.Provider.MaxTokens
	cfg.Retry = invoker.RetryConfig{
		MaxAttempts:    c.Invoker.MaxAttempts,
		InitialBackoff: c.Invoker.InitialBackoff,
		MaxBackoff:     c.Invoker.MaxBackoff,
		BackoffFactor:  c.Invoker.BackoffFactor,
		JitterFactor:   c.Invoker.Jitter,
	}
	return cfg
}

// BreakerConfig returns the circuit breaker settings.
func (c *Config) BreakerConfig() invoker.BreakerConfig {
	return invoker.BreakerConfig{
		FailureThreshold: c.Invoker.BreakerThreshold,
		Cooldown:         c.Invoker.BreakerCooldown,
	}
}

// ProducerConfig returns the feature extraction windows.
func (c *Config) ProducerConfig() signals.ProducerConfig {
	p := signals.DefaultProducerConfig()
	p.Window = c.Risk.Window
	p.AcceptWindow = c.Risk.AcceptWindow
	return p
}

// OrchestratorConfig returns the actor settings.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MailboxSize:    c.Orchestrator.MailboxSize,
		IdleTimeout:    c.Orchestrator.IdleTimeout,
		InvokeDeadline: c.Invoker.Deadline,
		MetricsWindow:  c.Metrics.Window,
	}
}

// MemorySpoolConfig returns the in-process spool settings.
func (c *Config) MemorySpoolConfig() trace.SpoolConfig {
	return trace.SpoolConfig{
		Capacity:      c.Spool.Capacity,
		RetryInterval: c.Spool.RetryInterval,
		MaxAttempts:   c.Spool.MaxAttempts,
	}
}

// RedisSpoolConfig returns the Redis stream spool settings.
func (c *Config) RedisSpoolConfig() trace.RedisSpoolConfig {
	return trace.RedisSpoolConfig{
		Stream:        c.Spool.Stream,
		Group:         c.Spool.Group,
		Consumer:      c.Spool.Consumer,
		RetryInterval: c.Spool.RetryInterval,
		MaxAttempts:   c.Spool.MaxAttempts,
	}
}

// #endregion conversions
