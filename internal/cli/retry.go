package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <distribution-id>",
	Short: "Retry the pending allocations of a distribution",
	Long: `Retry loads the unpaid allocations of the given distribution and
executes them under a fresh distribution id. Already-paid allocations
are never re-sent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.engine.RetryPending(ctx, args[0])
		if err != nil {
			return err
		}
		if result.Planned == 0 {
			fmt.Println("nothing pending to retry")
			return nil
		}

		fmt.Printf("retried as %s: %d paid, %d failed\n",
			result.DistributionID, result.Successful, result.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
