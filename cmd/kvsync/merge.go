package main

import (
	"fmt"

	"github.com/kvsync/kvsync/internal/kvstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMergeCommand(configViper *viper.Viper) *cobra.Command {
	var source, dest string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "merge --source A --dest B [--dry-run]",
		Short: "Merge everything dest needs from source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == "" || dest == "" {
				return fmt.Errorf("--source and --dest are required")
			}

			sourceStore, err := openStore(configViper, source)
			if err != nil {
				return err
			}
			defer sourceStore.Close()

			destStore, err := openStore(configViper, dest)
			if err != nil {
				return err
			}
			defer destStore.Close()

			changed, err := destStore.Merge(cmd.Context(), sourceStore, kvstore.MergeOptions{DryRun: dryRun})
			if err != nil {
				return err
			}
			for _, ref := range changed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ref.Scope, ref.Key)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source database path (required)")
	cmd.Flags().StringVar(&dest, "dest", "", "Destination database path (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute the change set without applying it")
	return cmd
}
