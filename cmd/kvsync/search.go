package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSearchCommand(configViper *viper.Viper) *cobra.Command {
	var searchText string

	cmd := &cobra.Command{
		Use:   "search <file> --search-text T",
		Short: "Full-text search over stored text values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if searchText == "" {
				return fmt.Errorf("--search-text is required")
			}
			store, err := openStore(configViper, args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			refs, err := store.SearchText(searchText)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ref.Scope, ref.Key)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&searchText, "search-text", "", "Full-text query (required)")
	return cmd
}
