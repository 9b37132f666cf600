package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/energy-sync-worker/internal/service"
)

var runFirst bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single sync and exit",
	Long: `Runs one sync over the recurring window (or the first-run window with --first)
and exits. The exit code is non-zero only when the storage write fails or
another run holds the lock; provider failures are reported in the logs.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().BoolVar(&runFirst, "first", false, "Use the first-run lookback window")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	var (
		svc    *service.SyncService
		logger *zap.Logger
	)
	app := fx.New(
		syncModule,
		fx.NopLogger,
		fx.Populate(&svc, &logger),
	)

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("starting application: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
		defer stopCancel()
		if err := app.Stop(stopCtx); err != nil {
			logger.Error("failed to stop application", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := svc.Run(ctx, runFirst)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %s, %d points written, %d rejected, %d failed accounts\n",
		report.RunID, report.Window, report.PointsWritten, report.PointsRejected, len(report.FailedAccounts()))
	return nil
}
