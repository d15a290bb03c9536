package config

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.credbroker"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "credbroker.toml"

// DefaultDBFile is the default database filename, relative to data_dir.
const DefaultDBFile = "credbroker.db"

// DefaultResourceURL is the portal recorded on accounts imported without one.
const DefaultResourceURL = "portal.qwen.ai"

// DefaultExpiryMarginSeconds is the safety margin subtracted from token
// expiry when judging whether a credential needs a refresh (5 minutes).
const DefaultExpiryMarginSeconds = 300

// DefaultPolicyCacheTTLSeconds bounds the staleness of cached access rules.
const DefaultPolicyCacheTTLSeconds = 60

// DefaultVaultKeySource selects where the token-encryption key comes from.
const DefaultVaultKeySource = "keyring"

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "credbroker"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidVaultKeySources lists the allowed vault key source values.
var ValidVaultKeySources = []string{"keyring", "env", "none"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: DefaultLogLevel,
			DataDir:  DefaultDataDir,
		},
		Store: StoreConfig{
			DBFile: DefaultDBFile,
		},
		Pool: PoolConfig{
			DefaultResourceURL:  DefaultResourceURL,
			ExpiryMarginSeconds: DefaultExpiryMarginSeconds,
		},
		Policy: PolicyConfig{
			CacheTTLSeconds: DefaultPolicyCacheTTLSeconds,
		},
		Vault: VaultConfig{
			KeySource: DefaultVaultKeySource,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
	}
}
