package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	configViper := viper.New()

	rootCmd := &cobra.Command{
		Use:   "kvsync",
		Short: "Inspect and reconcile kvsync embedded key-value stores",
	}

	setupGlobalFlags(rootCmd, configViper)

	rootCmd.AddCommand(
		newStatsCommand(configViper),
		newListCommand(configViper),
		newGetCommand(configViper),
		newSearchCommand(configViper),
		newMergeCommand(configViper),
		newEraseVersionHistoryCommand(configViper),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
