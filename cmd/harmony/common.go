package main

import (
	"context"
	"fmt"

	"github.com/olcf/harmony/pkg/config"
	"github.com/olcf/harmony/pkg/lsf"
	"github.com/olcf/harmony/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// loadConfig loads the --config files, applies credential flags and the
// configured log settings, and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides := make(map[string]any, 4)

	if dbUser != "" {
		overrides["database.postgres.user"] = dbUser
		overrides["database.mysql.user"] = dbUser
	}

	if dbPassword != "" {
		overrides["database.postgres.password"] = dbPassword
		overrides["database.mysql.password"] = dbPassword
	}

	cfg, err := config.LoadWithOverrides(overrides, cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// An explicit --log-level wins over the file.
	if !cmd.Flags().Changed("log-level") && cfg.Global.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid global.log_level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	if cfg.Global.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return cfg, nil
}

// openStore connects to the configured database and migrates the schema.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	return st, nil
}

// newGateway builds the configured scheduler gateway.
func newGateway(cfg *config.Config) lsf.Gateway {
	if cfg.Scheduler.Driver == "none" {
		log.Warn("No scheduler configured, runs with a job id will stay open")

		return lsf.NewNoneGateway()
	}

	return lsf.NewBjobsGateway(log, lsf.BjobsOptions{
		Path:    cfg.Scheduler.LSF.BjobsPath,
		Timeout: cfg.Scheduler.LSF.Timeout,
	})
}

func stopStore(st store.Store) {
	if err := st.Stop(); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}
