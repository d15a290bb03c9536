package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for credbroker.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"  toml:"server"`
	Store   StoreConfig   `mapstructure:"store"   toml:"store"`
	Pool    PoolConfig    `mapstructure:"pool"    toml:"pool"`
	Policy  PolicyConfig  `mapstructure:"policy"  toml:"policy"`
	Vault   VaultConfig   `mapstructure:"vault"   toml:"vault"`
	Tracing TracingConfig `mapstructure:"tracing" toml:"tracing"`
}

// ServerConfig holds the process-wide settings.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" toml:"log_level"`
	DataDir  string `mapstructure:"data_dir"  toml:"data_dir"`
}

// StoreConfig holds the database settings.
type StoreConfig struct {
	DBFile string `mapstructure:"db_file" toml:"db_file"`
}

// DBPath resolves the database file against the data directory. Absolute
// db_file values win.
func (c *Config) DBPath() string {
	if filepath.IsAbs(c.Store.DBFile) {
		return c.Store.DBFile
	}
	return filepath.Join(c.Server.DataDir, c.Store.DBFile)
}

// PoolConfig holds the credential pool settings.
type PoolConfig struct {
	DefaultResourceURL  string `mapstructure:"default_resource_url"  toml:"default_resource_url"`
	ExpiryMarginSeconds int    `mapstructure:"expiry_margin_seconds" toml:"expiry_margin_seconds"`
}

// ExpiryMargin returns the pool expiry margin as a time.Duration.
func (p PoolConfig) ExpiryMargin() time.Duration {
	if p.ExpiryMarginSeconds <= 0 {
		return time.Duration(DefaultExpiryMarginSeconds) * time.Second
	}
	return time.Duration(p.ExpiryMarginSeconds) * time.Second
}

// PolicyConfig holds the access-policy engine settings.
type PolicyConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
}

// CacheTTL returns the policy cache TTL as a time.Duration.
func (p PolicyConfig) CacheTTL() time.Duration {
	if p.CacheTTLSeconds <= 0 {
		return time.Duration(DefaultPolicyCacheTTLSeconds) * time.Second
	}
	return time.Duration(p.CacheTTLSeconds) * time.Second
}

// VaultConfig controls how the token-encryption key is sourced.
type VaultConfig struct {
	KeySource string `mapstructure:"key_source" toml:"key_source"` // "keyring", "env", "none"
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "credbroker"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (CREDBROKER_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.credbroker/credbroker.toml
//  4. ./credbroker.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: CREDBROKER_SERVER_LOG_LEVEL etc.
	v.SetEnvPrefix("CREDBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".credbroker"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("credbroker")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in data_dir.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.credbroker/credbroker.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".credbroker")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)

	// Store
	v.SetDefault("store.db_file", d.Store.DBFile)

	// Pool
	v.SetDefault("pool.default_resource_url", d.Pool.DefaultResourceURL)
	v.SetDefault("pool.expiry_margin_seconds", d.Pool.ExpiryMarginSeconds)

	// Policy
	v.SetDefault("policy.cache_ttl_seconds", d.Policy.CacheTTLSeconds)

	// Vault
	v.SetDefault("vault.key_source", d.Vault.KeySource)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
