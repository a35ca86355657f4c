package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"listsync/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List managed account workers",
	Long:  `Show every worker the supervisor manages: account, state (running, restarting, stopped), restart count, and uptime.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewControlClient(viper.GetString("url"))

		resp, err := client.Status()
		if err != nil {
			cmd.Printf("Failed to fetch status: %v\n", err)
			return
		}

		printStatus(cmd, resp.Workers)
	},
}

func printStatus(cmd *cobra.Command, workers []api.WorkerStatus) {
	if len(workers) == 0 {
		cmd.Println("No workers managed")
		return
	}

	cmd.Printf("%sAccount Workers%s\n", colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	for _, w := range workers {
		cmd.Printf("%s %s%-20s%s %s  %srestarts:%s %d  %sup:%s %s\n",
			stateIcon(w.State),
			colorBold, w.AccountID, colorReset,
			colorizeState(w.State),
			colorDim, colorReset, w.Restarts,
			colorDim, colorReset, formatUptime(w.StartedAt))
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func stateIcon(state string) string {
	switch state {
	case "running":
		return colorGreen + "✓" + colorReset
	case "restarting":
		return colorYellow + "⟳" + colorReset
	case "stopped":
		return colorRed + "✗" + colorReset
	default:
		return "•"
	}
}

func colorizeState(state string) string {
	switch state {
	case "running":
		return colorGreen + state + colorReset
	case "restarting":
		return colorYellow + state + colorReset
	case "stopped":
		return colorRed + state + colorReset
	default:
		return state
	}
}

func formatUptime(startedAt time.Time) string {
	if startedAt.IsZero() {
		return "-"
	}
	d := time.Since(startedAt)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
