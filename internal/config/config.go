// Package config handles configuration parsing from CLI flags and YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the proxy.
//
// The command-line argument parser, the JSON-schema validator for the
// on-disk config file, and the "init" scaffolding subcommand are external
// collaborators (spec §1); Config is the validated object the core
// receives and range-checks, not a full reimplementation of those tools.
type Config struct {
	// Command is the shell command used to start the target dev server.
	Command string `yaml:"command"`
	// ProxyPort is the proxy listening port.
	ProxyPort int `yaml:"proxyPort"`
	// TargetPort is the port of the target application server.
	TargetPort int `yaml:"targetPort"`
	// Env holds extra environment variables passed to a spawned target process.
	Env map[string]string `yaml:"env"`
	// Version is the semver string carried through from the config file.
	Version string `yaml:"version"`
	// ConfigFile is the optional config file path.
	ConfigFile string `yaml:"-"`

	// LogLevel is the logging level (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// LogFormat is the log format (json, text).
	LogFormat string `yaml:"log_format"`

	// BodyMaxBytes caps the buffered body of a queued mutating request.
	BodyMaxBytes int64 `yaml:"body_max_bytes"`
	// ContextBodyMaxBytes caps the body accepted by /_chopin/report-context.
	ContextBodyMaxBytes int64 `yaml:"context_body_max_bytes"`

	// MetricsPort is the metrics/health server port.
	MetricsPort int `yaml:"metrics_port"`

	// HealthCheckEnabled enables active health checking of the target.
	HealthCheckEnabled bool `yaml:"health_check_enabled"`
	// HealthCheckType is "tcp" or "http".
	HealthCheckType string `yaml:"health_check_type"`
	// HealthCheckInterval is the interval between health checks.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	// HealthCheckTimeout is the timeout for each health check.
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
	// HealthCheckPath is the HTTP path used when HealthCheckType is "http".
	HealthCheckPath string `yaml:"health_check_path"`
	// HealthCheckFailureThreshold is the number of failures before marking the target unhealthy.
	HealthCheckFailureThreshold int `yaml:"health_check_failure_threshold"`
	// HealthCheckSuccessThreshold is the number of successes before marking the target healthy again.
	HealthCheckSuccessThreshold int `yaml:"health_check_success_threshold"`

	// CircuitBreakerEnabled enables the circuit breaker around forwarding to the target.
	CircuitBreakerEnabled bool `yaml:"circuit_breaker_enabled"`
	// CBFailureThreshold is the number of consecutive forwarding failures before opening the circuit.
	CBFailureThreshold int `yaml:"cb_failure_threshold"`
	// CBSuccessThreshold is the number of half-open successes before closing the circuit.
	CBSuccessThreshold int `yaml:"cb_success_threshold"`
	// CBTimeout is how long the circuit stays open before moving to half-open.
	CBTimeout time.Duration `yaml:"cb_timeout"`

	// ForwardTimeout is the dial timeout for connections to the target,
	// used for every forwarded request (queued, pass-through, WebSocket).
	// It does not bound the wait for the target's response.
	ForwardTimeout time.Duration `yaml:"forward_timeout"`
	// IdleTimeout bounds idle time on WebSocket tunnels and kept-alive connections.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Command:             "npm run dev",
		ProxyPort:           4000,
		TargetPort:          3000,
		Env:                 map[string]string{},
		LogLevel:            "info",
		LogFormat:           "json",
		BodyMaxBytes:        2 << 20, // 2 MiB
		ContextBodyMaxBytes: 1 << 20, // 1 MiB
		MetricsPort:         4001,

		HealthCheckEnabled:          false,
		HealthCheckType:             "tcp",
		HealthCheckInterval:         10 * time.Second,
		HealthCheckTimeout:          2 * time.Second,
		HealthCheckPath:             "/",
		HealthCheckFailureThreshold: 3,
		HealthCheckSuccessThreshold: 2,

		CircuitBreakerEnabled: false,
		CBFailureThreshold:    5,
		CBSuccessThreshold:    2,
		CBTimeout:             30 * time.Second,

		ForwardTimeout: 30 * time.Second,
		IdleTimeout:    60 * time.Second,
	}
}

// Args holds the parsed positional CLI arguments (spec §6).
type Args struct {
	// Subcommand is set when the first positional token is non-numeric and
	// not flag-like (e.g. "init"). Empty when absent.
	Subcommand string
	// ProxyPort overrides Config.ProxyPort when non-zero.
	ProxyPort int
	// TargetPort overrides Config.TargetPort when non-zero.
	TargetPort int
}

// ParsePositional inspects the leading positional arguments per spec §6:
// "[proxyPort] [targetPort]" override config; a first token that is
// non-numeric and not flag-like is treated as a subcommand.
func ParsePositional(positional []string) (Args, error) {
	var args Args
	if len(positional) == 0 {
		return args, nil
	}

	first := positional[0]
	if n, err := strconv.Atoi(first); err == nil {
		args.ProxyPort = n
	} else if !strings.HasPrefix(first, "-") {
		args.Subcommand = first
		return args, nil
	} else {
		return args, fmt.Errorf("invalid first argument: %s", first)
	}

	if len(positional) > 1 {
		n, err := strconv.Atoi(positional[1])
		if err != nil {
			return args, fmt.Errorf("invalid target port: %s", positional[1])
		}
		args.TargetPort = n
	}

	return args, nil
}

// ParseFlags parses command line flags and returns a Config.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	pflag.StringVar(&cfg.Command, "command", cfg.Command, "Command used to start the target dev server")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	pflag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, text)")
	pflag.Int64Var(&cfg.BodyMaxBytes, "body-max-bytes", cfg.BodyMaxBytes, "Max buffered body size for queued requests")
	pflag.Int64Var(&cfg.ContextBodyMaxBytes, "context-body-max-bytes", cfg.ContextBodyMaxBytes, "Max body size for report-context calls")
	pflag.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Metrics/health server port")
	pflag.StringVar(&cfg.ConfigFile, "config", "", "Config file path (YAML)")

	pflag.BoolVar(&cfg.HealthCheckEnabled, "health-check-enabled", cfg.HealthCheckEnabled, "Enable active health checks of the target")
	pflag.StringVar(&cfg.HealthCheckType, "health-check-type", cfg.HealthCheckType, "Health check type: tcp or http")
	pflag.DurationVar(&cfg.HealthCheckInterval, "health-check-interval", cfg.HealthCheckInterval, "Health check interval")
	pflag.DurationVar(&cfg.HealthCheckTimeout, "health-check-timeout", cfg.HealthCheckTimeout, "Health check timeout")
	pflag.StringVar(&cfg.HealthCheckPath, "health-check-path", cfg.HealthCheckPath, "HTTP health check path")

	pflag.BoolVar(&cfg.CircuitBreakerEnabled, "circuit-breaker-enabled", cfg.CircuitBreakerEnabled, "Enable circuit breaker around target forwarding")
	pflag.DurationVar(&cfg.CBTimeout, "cb-timeout", cfg.CBTimeout, "Circuit breaker open timeout")

	pflag.DurationVar(&cfg.ForwardTimeout, "forward-timeout", cfg.ForwardTimeout, "Dial timeout for connections to the target")
	pflag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Idle timeout for WebSocket tunnels")

	pflag.Parse()

	positionalArgs, err := ParsePositional(pflag.Args())
	if err != nil {
		return nil, err
	}

	loadFromEnv(cfg)

	if cfg.ConfigFile != "" {
		fileCfg, err := LoadFromFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		fileCfg.ConfigFile = cfg.ConfigFile
		cfg = fileCfg
	}

	if positionalArgs.Subcommand != "" {
		return nil, fmt.Errorf("unknown subcommand: %s", positionalArgs.Subcommand)
	}
	if positionalArgs.ProxyPort != 0 {
		cfg.ProxyPort = positionalArgs.ProxyPort
	}
	if positionalArgs.TargetPort != 0 {
		cfg.TargetPort = positionalArgs.TargetPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file, starting from defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable. The full JSON-schema
// validation described in spec §1 is performed by an external loader;
// this is the range/shape check the core itself relies on.
func (c *Config) Validate() error {
	if c.ProxyPort < 1 || c.ProxyPort > 65535 {
		return fmt.Errorf("invalid proxyPort: %d", c.ProxyPort)
	}
	if c.TargetPort < 1 || c.TargetPort > 65535 {
		return fmt.Errorf("invalid targetPort: %d", c.TargetPort)
	}
	if c.ProxyPort == c.TargetPort {
		return fmt.Errorf("proxyPort and targetPort must be different")
	}
	if c.MetricsPort != 0 {
		if c.MetricsPort < 1 || c.MetricsPort > 65535 {
			return fmt.Errorf("invalid metricsPort: %d", c.MetricsPort)
		}
		if c.MetricsPort == c.ProxyPort {
			return fmt.Errorf("metricsPort and proxyPort must be different")
		}
	}
	if c.BodyMaxBytes <= 0 {
		return fmt.Errorf("body-max-bytes must be positive")
	}
	if c.ContextBodyMaxBytes <= 0 {
		return fmt.Errorf("context-body-max-bytes must be positive")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", c.LogLevel)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	validHealthTypes := map[string]bool{"tcp": true, "http": true}
	if c.HealthCheckEnabled && !validHealthTypes[c.HealthCheckType] {
		return fmt.Errorf("invalid health-check-type: %s (must be tcp or http)", c.HealthCheckType)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables with a
// DEVPROXY_ prefix. Environment variables take precedence over defaults
// but CLI flags (already parsed when this runs) take precedence over env
// vars: applyIfNotSet skips a variable whose flag was set explicitly.
func loadFromEnv(cfg *Config) {
	getEnvString := func(key string) (string, bool) {
		v := os.Getenv("DEVPROXY_" + key)
		return v, v != ""
	}
	getEnvInt := func(key string) (int, bool) {
		if v, ok := getEnvString(key); ok {
			if i, err := strconv.Atoi(v); err == nil {
				return i, true
			}
		}
		return 0, false
	}
	getEnvBool := func(key string) (bool, bool) {
		if v, ok := getEnvString(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				return b, true
			}
		}
		return false, false
	}

	applyIfNotSet := func(flagName string, apply func()) {
		flagSet := false
		pflag.Visit(func(f *pflag.Flag) {
			if f.Name == flagName {
				flagSet = true
			}
		})
		if !flagSet {
			apply()
		}
	}

	if v, ok := getEnvString("COMMAND"); ok {
		applyIfNotSet("command", func() { cfg.Command = v })
	}
	if v, ok := getEnvInt("PROXY_PORT"); ok {
		cfg.ProxyPort = v
	}
	if v, ok := getEnvInt("TARGET_PORT"); ok {
		cfg.TargetPort = v
	}
	if v, ok := getEnvString("LOG_LEVEL"); ok {
		applyIfNotSet("log-level", func() { cfg.LogLevel = v })
	}
	if v, ok := getEnvString("LOG_FORMAT"); ok {
		applyIfNotSet("log-format", func() { cfg.LogFormat = v })
	}
	if v, ok := getEnvBool("HEALTH_CHECK_ENABLED"); ok {
		applyIfNotSet("health-check-enabled", func() { cfg.HealthCheckEnabled = v })
	}
	if v, ok := getEnvBool("CIRCUIT_BREAKER_ENABLED"); ok {
		applyIfNotSet("circuit-breaker-enabled", func() { cfg.CircuitBreakerEnabled = v })
	}
}
