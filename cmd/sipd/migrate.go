package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var (
		seed  bool
		force bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the schema and run one-time setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			if cmd.Flags().Changed("seed") {
				a.setup.SeedDemoFunds = seed
			}
			res, err := a.setup.Run(cmd.Context(), force)
			if err != nil {
				return err
			}
			a.logger.Info("migrate done",
				zap.Bool("setup_skipped", res.Skipped),
				zap.Int("seeded_funds", res.Status.SeededFunds),
				zap.Int("version", res.Status.Version),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "seed the demo funds")
	cmd.Flags().BoolVar(&force, "force", false, "rerun setup even if it already completed")
	return cmd
}
