package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "listctl",
	Short: "Listctl is a command line tool for operating the listsync daemons",
	Long: `listctl is the command-line interface for the listsync marketplace
listing platform.

listsync keeps catalog items listed across marketplace accounts: a scheduler
spreads uploads over a daily publishing window, one worker per account drains
the queue at the account's rate limit, and a sync daemon keeps prices and
stock flags fresh.

Common workflows:

  Inspect running workers:
    listctl status

  Start or stop one account's worker:
    listctl start <account-id>
    listctl stop <account-id>

  Schedule items for upload:
    listctl schedule --account <account-id> --items ITEM1,ITEM2 --priority 5

Configuration:
  Set the control endpoint via environment variables or a config file:
    LISTSYNC_URL    Control API endpoint (default: http://127.0.0.1:7171)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".listctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".listctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "LISTSYNC_VARNAME"
	viper.SetEnvPrefix("LISTSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.listctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://127.0.0.1:7171", "Control API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
