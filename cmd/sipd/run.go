package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "run JOB",
		Short:     "Run one job once and exit",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{jobSIPExecution, jobWalletMonitor, jobRetention},
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.setup.Run(ctx, false); err != nil {
				return err
			}
			runner, err := a.newRunner(ctx, false)
			if err != nil {
				return err
			}
			ran, err := runner.Trigger(ctx, args[0])
			if err != nil {
				return err
			}
			if !ran {
				return fmt.Errorf("job %s is already running elsewhere", args[0])
			}
			a.logger.Info("job finished", zap.String("job", args[0]))
			return nil
		},
	}
}
