package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newEraseVersionHistoryCommand(configViper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "erase-version-history <file>",
		Short: "Collapse causal history onto the local author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(configViper, args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.EraseVersionHistory(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Success")
			return nil
		},
	}
}
