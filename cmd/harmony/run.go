package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/olcf/harmony/pkg/api"
	"github.com/olcf/harmony/pkg/reconciler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runOnce bool
	runAPI  bool
)

var runCmd = &cobra.Command{
	Use:   "run [declaration-file...]",
	Short: "Reconcile declared tests into the database",
	Long: `Seed the catalogs, then reconcile every declaration file on a fixed
interval until interrupted. Declaration files given as arguments replace
reconciler.inputs from the config.`,
	RunE: runReconciler,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single pass and exit")
	runCmd.Flags().BoolVar(&runAPI, "api", false, "Also serve the query API")
}

func runReconciler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		cfg.Reconciler.Inputs = args
	}

	if len(cfg.Reconciler.Inputs) == 0 {
		return fmt.Errorf("no declaration files given (pass them as arguments or set reconciler.inputs)")
	}

	if runAPI {
		cfg.API.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopStore(st)

	if err := reconciler.Setup(ctx, st, &cfg.Reconciler); err != nil {
		return err
	}

	rec := reconciler.New(log, &cfg.Reconciler, st, newGateway(cfg))

	if runOnce {
		stats := rec.RunPass(ctx)
		if stats.Errors > 0 {
			return fmt.Errorf("pass finished with %d errors", stats.Errors)
		}

		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := rec.Start(gctx); err != nil {
			return fmt.Errorf("starting reconciler: %w", err)
		}

		<-gctx.Done()

		return rec.Stop()
	})

	if cfg.API.Enabled {
		srv := api.NewServer(log, &cfg.API, st)

		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("starting api server: %w", err)
			}

			<-gctx.Done()

			return srv.Stop()
		})
	}

	return g.Wait()
}
