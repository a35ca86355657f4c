package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var startCmd = &cobra.Command{
	Use:          "start [account_id]",
	Short:        "Start the worker for an account",
	Long:         `Launch the dispatch worker for one marketplace account. Fails if a worker for the account is already running here or in another process holding its lock. Exits non-zero on failure so scripts can detect a held lock.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID := args[0]
		client := NewControlClient(viper.GetString("url"))

		if err := client.StartAccount(accountID); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		cmd.Printf("Worker for account %s started\n", accountID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
