package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/realdoomsman/BTC500/internal/orchestrator"
	"github.com/realdoomsman/BTC500/internal/server"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rewards daemon",
	Long: `Run starts the conversion and distribution loop together with the
observability HTTP server. With --once a single cycle is executed and
the process exits.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		orch := orchestrator.New(
			a.cfg.Treasury,
			a.cfg.Scheduler.Interval,
			a.chain,
			a.swap,
			a.snap,
			a.engine,
			a.store,
			statusCache(a),
			a.pub,
			a.log,
		)

		if runOnce {
			outcome, distributionID, err := orch.RunCycle(ctx)
			if err != nil {
				return err
			}
			a.log.Info("cycle finished", "outcome", outcome, "distribution_id", distributionID)
			return nil
		}

		srv := server.New(a.cfg.Server, server.NewHandler(a.store, statusReader(a), a.log), a.log)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		orchDone := make(chan struct{})
		go func() {
			defer close(orchDone)
			_ = orch.Run(ctx)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		a.log.Info("shutting down")
		<-orchDone

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.WriteTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Error("server shutdown failed", "error", err)
		}

		return nil
	},
}

// statusCache adapts the optional cache to the orchestrator without
// handing it a typed nil.
func statusCache(a *app) orchestrator.StatusCache {
	if a.status == nil {
		return nil
	}
	return a.status
}

func statusReader(a *app) server.StatusReader {
	if a.status == nil {
		return nil
	}
	return a.status
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "execute a single cycle and exit")
	rootCmd.AddCommand(runCmd)
}
