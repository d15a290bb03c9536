package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/antihubdev/credbroker/internal/config"
	"github.com/antihubdev/credbroker/internal/store"
	"github.com/antihubdev/credbroker/internal/tracing"
	"github.com/antihubdev/credbroker/internal/vault"
	"github.com/antihubdev/credbroker/internal/version"
)

// openEnv loads config, opens the store (running migrations), builds the
// shared logger and, when enabled, registers the tracer provider. Every
// data-touching command goes through here; the returned cleanup flushes
// pending spans and must be deferred.
func openEnv() (*config.Config, *store.Store, zerolog.Logger, func()) {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	cleanup := func() {}
	if cfg.Tracing.Enabled {
		tc := cfg.Tracing
		shutdown, err := tracing.Init(context.Background(),
			tc.ServiceName, version.Version, tc.Exporter, tc.Endpoint,
			tc.SampleRate, tc.Insecure)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error initialising tracing: %v\n", err)
			os.Exit(1)
		}
		cleanup = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("tracer shutdown failed")
			}
		}
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening store: %v\n", err)
		os.Exit(1)
	}
	return cfg, st, logger, cleanup
}

// openCipher builds the token cipher according to vault.key_source.
// A "none" source disables encryption at rest.
func openCipher(cfg *config.Config) *vault.Cipher {
	if cfg.Vault.KeySource == "none" {
		return nil
	}
	c, err := vault.New().OpenCipher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening token cipher: %v\n", err)
		fmt.Fprintln(os.Stderr, "run 'credbroker key generate' first, or set vault.key_source = \"none\"")
		os.Exit(1)
	}
	return c
}

func cmdMigrate() {
	cfg, st, _, cleanup := openEnv()
	defer cleanup()
	defer st.Close()
	fmt.Printf("Database ready at %s\n", cfg.DBPath())
}
