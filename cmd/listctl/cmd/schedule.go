package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"listsync/pkg/api"
)

var (
	scheduleAccount  string
	scheduleItems    []string
	schedulePriority int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule items for upload to an account",
	Long: `Spread upload slots for the given items over the account's daily
publishing window, honouring its daily cap. Items that already have a pending
entry are skipped; items beyond today's remaining cap roll over to following
days.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if scheduleAccount == "" || len(scheduleItems) == 0 {
			cmd.Println("Both --account and --items are required")
			return
		}

		client := NewControlClient(viper.GetString("url"))

		resp, err := client.Schedule(api.ScheduleRequest{
			AccountID: scheduleAccount,
			ItemIDs:   scheduleItems,
			Priority:  schedulePriority,
		})
		if err != nil {
			cmd.Printf("Failed to schedule: %v\n", err)
			return
		}

		cmd.Printf("Scheduled %d item(s) over %d day(s)\n", resp.Scheduled, resp.DaysUsed)
		if resp.Skipped > 0 {
			cmd.Printf("Skipped %d already queued\n", resp.Skipped)
		}
		if resp.Deferred > 0 {
			cmd.Printf("Deferred %d beyond the scheduling horizon\n", resp.Deferred)
		}
	},
}

func init() {
	scheduleCmd.Flags().StringVarP(&scheduleAccount, "account", "a", "", "account ID to schedule for")
	scheduleCmd.Flags().StringSliceVarP(&scheduleItems, "items", "i", nil, "comma-separated item IDs")
	scheduleCmd.Flags().IntVarP(&schedulePriority, "priority", "p", 0, "queue priority (higher dispatches first)")

	rootCmd.AddCommand(scheduleCmd)
}
