package config

import (
	"strings"
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	if err := validate(DefaultConfig()); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.Server.LogLevel = "loud" }, "server.log_level"},
		{"empty data dir", func(c *Config) { c.Server.DataDir = "" }, "server.data_dir"},
		{"empty db file", func(c *Config) { c.Store.DBFile = "" }, "store.db_file"},
		{"empty resource url", func(c *Config) { c.Pool.DefaultResourceURL = "" }, "pool.default_resource_url"},
		{"negative margin", func(c *Config) { c.Pool.ExpiryMarginSeconds = -1 }, "pool.expiry_margin_seconds"},
		{"negative ttl", func(c *Config) { c.Policy.CacheTTLSeconds = -1 }, "policy.cache_ttl_seconds"},
		{"bad key source", func(c *Config) { c.Vault.KeySource = "vaulted" }, "vault.key_source"},
		{"bad exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, "tracing.exporter"},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "tracing.sample_rate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Store.DBFile = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "server.log_level") || !strings.Contains(err.Error(), "store.db_file") {
		t.Errorf("combined error missing a check: %q", err)
	}
}

func TestValidate_ExporterIgnoredWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracing.Enabled = false
	cfg.Tracing.Exporter = "anything"
	if err := validate(cfg); err != nil {
		t.Errorf("disabled tracing should not validate exporter: %v", err)
	}
}
