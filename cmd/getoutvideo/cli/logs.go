package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Manage the persisted request log",
	}

	cmd.AddCommand(newLogsPruneCmd())

	return cmd
}

func newLogsPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete request logs older than the retention window",
		Example: `  getoutvideo logs prune --older-than 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			deleted, err := st.usageService().Prune(context.Background(), olderThan)
			if err != nil {
				return fmt.Errorf("prune request logs: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d request log entries older than %s.\n", deleted, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Retention window")

	return cmd
}
