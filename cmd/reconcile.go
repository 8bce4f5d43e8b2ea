package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	reconcileInterval time.Duration
	reconcileMaxAge   time.Duration
	reconcileOnce     bool
)

// reconcileCmd sweeps mobile money payments that are stuck in processing
// because their callback never arrived, querying the provider for the final
// outcome.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run the stuck payment reconciliation worker",
	Long:  `Periodically query the mobile money provider for payments whose callback never arrived and settle them.`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

func init() {
	reconcileCmd.Flags().DurationVar(&reconcileInterval, "interval", 2*time.Minute, "Sweep interval")
	reconcileCmd.Flags().DurationVar(&reconcileMaxAge, "max-age", 5*time.Minute, "Minimum age before a processing payment is considered stuck")
	reconcileCmd.Flags().BoolVar(&reconcileOnce, "once", false, "Run a single sweep and exit")
}

func startReconcileWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	log := deps.Logger

	sweep := func(ctx context.Context) {
		settled, err := deps.Payments.ReconcileStuck(ctx, reconcileMaxAge)
		if err != nil {
			log.Error("reconciliation sweep failed", "error", err)
			return
		}
		if settled > 0 {
			log.Info("reconciliation sweep settled payments", "count", settled)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reconcileOnce {
		sweep(ctx)
		return
	}

	log.Info("reconciliation worker started",
		"interval", reconcileInterval.String(),
		"max_age", reconcileMaxAge.String())

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			sweep(ctx)
		case sig := <-sigChan:
			log.Info("received signal, shutting down reconciliation worker", "signal", sig)
			if err := deps.DB.Close(); err != nil {
				log.Error("database close error", "error", err)
			}
			return
		}
	}
}
