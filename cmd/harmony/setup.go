package main

import (
	"context"
	"fmt"

	"github.com/olcf/harmony/pkg/reconciler"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Migrate the schema and seed the catalogs",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("validating database config: %w", err)
	}

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopStore(st)

	if err := reconciler.Setup(ctx, st, &cfg.Reconciler); err != nil {
		return err
	}

	sum, err := st.Summary(ctx)
	if err != nil {
		return err
	}

	log.WithField("event_types", sum.EventTypes).
		WithField("check_codes", sum.CheckCodes).
		WithField("runs", sum.Runs).
		Info("Database ready")

	return nil
}
