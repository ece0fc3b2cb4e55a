package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatsCommand(configViper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file>",
		Short: "Print entry, author and tombstone counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(configViper, args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Statistics()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "entries:     %d\n", stats.EntryCount)
			fmt.Fprintf(cmd.OutOrStdout(), "authors:     %d\n", stats.AuthorCount)
			fmt.Fprintf(cmd.OutOrStdout(), "tombstones:  %d\n", stats.TombstoneCount)
			fmt.Fprintf(cmd.OutOrStdout(), "application: %s %d.%d\n", stats.ApplicationID, stats.Major, stats.Minor)
			if !stats.Consistent {
				fmt.Fprintln(cmd.OutOrStdout(), "warning: author table is inconsistent with entries")
			}
			return nil
		},
	}
}
