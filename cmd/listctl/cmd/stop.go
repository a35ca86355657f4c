package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var stopCmd = &cobra.Command{
	Use:   "stop [account_id]",
	Short: "Stop the worker for an account",
	Long:  `Drain and stop the dispatch worker for one marketplace account. In-flight uploads finish; undispatched queue entries stay pending for the next start.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		accountID := args[0]
		client := NewControlClient(viper.GetString("url"))

		if err := client.StopAccount(accountID); err != nil {
			cmd.Printf("Failed to stop worker: %v\n", err)
			return
		}
		cmd.Printf("Worker for account %s stopped\n", accountID)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
