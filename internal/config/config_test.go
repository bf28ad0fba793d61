package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LCENGINE_ENV", "development")
	t.Setenv("LCENGINE_DRIVERS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != Development {
		t.Fatalf("Env = %q, want development", cfg.Env)
	}
	if cfg.EnvName != "main" {
		t.Fatalf("EnvName = %q, want main", cfg.EnvName)
	}
	if cfg.AdminAddr != ":8080" {
		t.Fatalf("AdminAddr = %q", cfg.AdminAddr)
	}
	if cfg.HealthSampleInterval != 30*time.Second {
		t.Fatalf("HealthSampleInterval = %v", cfg.HealthSampleInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("LCENGINE_ENV", "staging")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown LCENGINE_ENV")
	}
}

func TestParseDriverSpecs(t *testing.T) {
	t.Setenv("LCENGINE_ENV", "development")
	t.Setenv("LCENGINE_DRIVERS", "x=/usr/bin/handle-x --flag, y=cat > /tmp/y.out")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Drivers) != 2 {
		t.Fatalf("Drivers = %+v, want 2 entries", cfg.Drivers)
	}
	if cfg.Drivers[0].Name != "x" || cfg.Drivers[0].Command != "/usr/bin/handle-x --flag" {
		t.Fatalf("first driver = %+v", cfg.Drivers[0])
	}
	if got := cfg.Drivers[1].String(); got != "y=cat > /tmp/y.out" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseDriverSpecsRejectsMalformed(t *testing.T) {
	t.Setenv("LCENGINE_ENV", "development")
	t.Setenv("LCENGINE_DRIVERS", "no-separator")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed driver spec")
	}
}

func TestValidateProductionRequirements(t *testing.T) {
	cfg := &Config{
		Env:                  Production,
		EnvName:              "main",
		AdminAddr:            ":8080",
		HealthSampleInterval: time.Second,
		SimBatchSize:         1,
		LogFormat:            "text",
		Drivers:              []DriverSpec{{Name: "x", Command: "cmd"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected text log format to fail production validation")
	}
	cfg.LogFormat = "json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	cfg.Drivers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing drivers to fail production validation")
	}
}

func TestValidateAdminAddr(t *testing.T) {
	cfg := &Config{
		Env:                  Development,
		EnvName:              "main",
		AdminAddr:            "not-an-addr",
		HealthSampleInterval: time.Second,
		SimBatchSize:         1,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid admin addr to fail validation")
	}
}
