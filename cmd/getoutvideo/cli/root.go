package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "getoutvideo",
		Short: "API gateway for the GetOutVideo processing service",
		Long: `GetOutVideo gateway: authenticates frontend callers with API keys,
validates video processing requests and relays them to the processing backend.

Configuration is read from ./config.yaml (or --config) and GOV_* environment
variables, e.g. GOV_DATABASE_DSN and GOV_UPSTREAM_TARGETS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newServeCmd(version))
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}
