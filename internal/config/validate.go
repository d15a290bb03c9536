package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}

	// Store validation
	if cfg.Store.DBFile == "" {
		errs = append(errs, "store.db_file must not be empty")
	}

	// Pool validation
	if cfg.Pool.DefaultResourceURL == "" {
		errs = append(errs, "pool.default_resource_url must not be empty")
	}
	if cfg.Pool.ExpiryMarginSeconds < 0 {
		errs = append(errs, fmt.Sprintf("pool.expiry_margin_seconds must be non-negative, got %d", cfg.Pool.ExpiryMarginSeconds))
	}

	// Policy validation
	if cfg.Policy.CacheTTLSeconds < 0 {
		errs = append(errs, fmt.Sprintf("policy.cache_ttl_seconds must be non-negative, got %d", cfg.Policy.CacheTTLSeconds))
	}

	// Vault validation
	if !isValidEnum(cfg.Vault.KeySource, ValidVaultKeySources) {
		errs = append(errs, fmt.Sprintf("vault.key_source must be one of %v, got %q", ValidVaultKeySources, cfg.Vault.KeySource))
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
