package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	envOnly    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sipd",
		Short: "Copy fund scheduler: SIP execution, trader wallet replication, ledger retention",
		Long: `sipd runs the background jobs of the copy fund platform.

  serve      run the cron scheduler and the ops HTTP API
  run JOB    run one job once and exit (sip_execution, wallet_monitor, retention)
  migrate    migrate the schema and run one-time setup`,
		SilenceUsage: true,
	}

	defaultPath := os.Getenv("CF_CONFIG")
	if defaultPath == "" {
		defaultPath = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("CF_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultPath, "config file (yaml)")
	cmd.PersistentFlags().BoolVar(&opts.envOnly, "env-only", envOnly, "read configuration from CF_* environment variables only")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}
