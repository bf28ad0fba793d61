// Package config provides environment-aware configuration management for the
// lcengined and lcenginesim binaries. The engine's own Open contract stays
// argv-shaped; this package only configures the hosting processes.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ParseEnvironment maps a string onto a known Environment.
func ParseEnvironment(s string) (Environment, bool) {
	switch Environment(strings.ToLower(strings.TrimSpace(s))) {
	case Development:
		return Development, true
	case Testing:
		return Testing, true
	case Production:
		return Production, true
	}
	return "", false
}

// DriverSpec is one life-cycle handler registration: the life-cycle name and
// the shell command that consumes its fired events.
type DriverSpec struct {
	Name    string
	Command string
}

// String renders the spec back into the name=command form the engine's Open
// entry point takes.
func (d DriverSpec) String() string {
	return d.Name + "=" + d.Command
}

// Config holds all application configuration
type Config struct {
	// Environment
	Env Environment

	// Engine
	EnvName string
	Drivers []DriverSpec

	// Admin surface
	AdminAddr            string
	HealthSampleInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string

	// Feed simulator (lcenginesim)
	SimSchedule  string
	SimLifecycle string
	SimBatchSize int
	SimSinkPath  string
}

// Load loads configuration based on the LCENGINE_ENV environment variable,
// with an optional config/<env>.env dotenv file layered underneath the
// process environment.
func Load() (*Config, error) {
	envStr := os.Getenv("LCENGINE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env, ok := ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid LCENGINE_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		// Config file is optional; only warn on non-"file not found" errors
		// (e.g. parse errors) to avoid noisy logs during tests and CI runs.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() error {
	c.EnvName = getEnv("LCENGINE_ENV_NAME", "main")

	drivers, err := parseDriverSpecs(getEnv("LCENGINE_DRIVERS", ""))
	if err != nil {
		return err
	}
	c.Drivers = drivers

	c.AdminAddr = getEnv("LCENGINE_ADMIN_ADDR", ":8080")
	c.HealthSampleInterval, err = getDurationEnv("LCENGINE_HEALTH_SAMPLE_INTERVAL", 30*time.Second)
	if err != nil {
		return err
	}

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "text")
	c.LogOutput = getEnv("LOG_OUTPUT", "stdout")

	c.SimSchedule = getEnv("LCENGINE_SIM_SCHEDULE", "@every 10s")
	c.SimLifecycle = getEnv("LCENGINE_SIM_LIFECYCLE", "renew")
	c.SimBatchSize = getIntEnv("LCENGINE_SIM_BATCH_SIZE", 2)
	c.SimSinkPath = getEnv("LCENGINE_SIM_SINK", "/dev/null")

	return nil
}

// parseDriverSpecs splits a comma-separated list of name=command entries.
// An empty input yields no drivers; callers decide whether that is fatal.
func parseDriverSpecs(raw string) ([]DriverSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	specs := make([]DriverSpec, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, command, found := strings.Cut(part, "=")
		if !found || name == "" || command == "" {
			return nil, fmt.Errorf("invalid LCENGINE_DRIVERS entry %q (must be name=command)", part)
		}
		specs = append(specs, DriverSpec{Name: name, Command: command})
	}
	return specs, nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Env == Development
}

// IsTesting returns true if running in testing environment
func (c *Config) IsTesting() bool {
	return c.Env == Testing
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Env == Production
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.EnvName == "" {
		return fmt.Errorf("LCENGINE_ENV_NAME must not be empty")
	}
	if _, port, err := net.SplitHostPort(c.AdminAddr); err != nil {
		return fmt.Errorf("invalid LCENGINE_ADMIN_ADDR %q: %w", c.AdminAddr, err)
	} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid LCENGINE_ADMIN_ADDR port %q", port)
	}
	if c.HealthSampleInterval <= 0 {
		return fmt.Errorf("LCENGINE_HEALTH_SAMPLE_INTERVAL must be positive")
	}
	if c.SimBatchSize < 1 {
		return fmt.Errorf("LCENGINE_SIM_BATCH_SIZE must be at least 1")
	}
	if c.IsProduction() {
		// Production-specific validations
		if c.LogFormat != "json" {
			return fmt.Errorf("LOG_FORMAT must be json in production")
		}
		if len(c.Drivers) == 0 {
			return fmt.Errorf("LCENGINE_DRIVERS must be configured in production")
		}
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
