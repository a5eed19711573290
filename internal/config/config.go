package config

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// globalConfig stores the configuration loaded with command-line overrides.
// This allows other packages to access the same configuration that was
// loaded by a cmd/ binary.
var (
	globalConfig *Config
	configMutex  sync.Mutex
)

// Config holds the application configuration.
type Config struct {
	LRDP    LRDPConfig    `json:"lrdp"`
	SRDP    SRDPConfig    `json:"srdp"`
	Logging LoggingConfig `json:"logging"`
}

// LoadOptions holds command-line override options.
type LoadOptions struct {
	LRDPBindAddr string
	SRDPBindAddr string
	LogLevel     string
}

// LRDPConfig holds LRDP-specific configuration.
type LRDPConfig struct {
	BindAddr        string        `json:"bindAddr" env:"LRDP_BIND_ADDR" default:"0.0.0.0:9100"`
	RetransmitTick  time.Duration `json:"retransmitTick" env:"LRDP_RETRANSMIT_TICK" default:"10ms"`
	ResendThreshold time.Duration `json:"resendThreshold" env:"LRDP_RESEND_THRESHOLD" default:"300ms"`
}

// SRDPConfig holds SRDP-specific configuration.
type SRDPConfig struct {
	BindAddr    string        `json:"bindAddr" env:"SRDP_BIND_ADDR" default:"0.0.0.0:9200"`
	FlusherTick time.Duration `json:"flusherTick" env:"SRDP_FLUSHER_TICK" default:"10ms"`
	SeedRTT     time.Duration `json:"seedRTT" env:"SRDP_SEED_RTT" default:"100ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"text"`
	File   string `json:"file" env:"LOG_FILE" default:""`
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration with command-line overrides.
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	config := &Config{}

	config.LRDP.BindAddr = getOverrideOrEnv(opts.LRDPBindAddr, "LRDP_BIND_ADDR", "0.0.0.0:9100")
	config.LRDP.RetransmitTick = getDurationWithDefault("LRDP_RETRANSMIT_TICK", 10*time.Millisecond)
	config.LRDP.ResendThreshold = getDurationWithDefault("LRDP_RESEND_THRESHOLD", 300*time.Millisecond)

	config.SRDP.BindAddr = getOverrideOrEnv(opts.SRDPBindAddr, "SRDP_BIND_ADDR", "0.0.0.0:9200")
	config.SRDP.FlusherTick = getDurationWithDefault("SRDP_FLUSHER_TICK", 10*time.Millisecond)
	config.SRDP.SeedRTT = getDurationWithDefault("SRDP_SEED_RTT", 100*time.Millisecond)

	config.Logging.Level = getOverrideOrEnv(opts.LogLevel, "LOG_LEVEL", "info")
	config.Logging.Format = getEnvWithDefault("LOG_FORMAT", "text")
	config.Logging.File = getEnvWithDefault("LOG_FILE", "")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	configMutex.Lock()
	globalConfig = config
	configMutex.Unlock()

	return config, nil
}

// GetGlobalConfig returns the globally stored configuration. This should
// be used by packages that need access to the configuration loaded by a
// cmd/ binary with command-line overrides.
func GetGlobalConfig() *Config {
	configMutex.Lock()
	defer configMutex.Unlock()
	return globalConfig
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LRDP.BindAddr == "" {
		return fmt.Errorf("lrdp bind address cannot be empty")
	}
	if c.LRDP.RetransmitTick <= 0 {
		return fmt.Errorf("lrdp retransmit tick must be positive")
	}
	if c.LRDP.ResendThreshold <= 0 {
		return fmt.Errorf("lrdp resend threshold must be positive")
	}

	if c.SRDP.BindAddr == "" {
		return fmt.Errorf("srdp bind address cannot be empty")
	}
	if c.SRDP.FlusherTick <= 0 {
		return fmt.Errorf("srdp flusher tick must be positive")
	}
	if c.SRDP.SeedRTT <= 0 {
		return fmt.Errorf("srdp seed rtt must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// Helper functions for environment variable parsing.

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getOverrideOrEnv returns the command-line override value, env value, or default.
func getOverrideOrEnv(override, envKey, defaultValue string) string {
	if override != "" {
		return override
	}
	return getEnvWithDefault(envKey, defaultValue)
}
