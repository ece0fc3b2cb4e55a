package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListCommand(configViper *viper.Viper) *cobra.Command {
	var scope, key string

	cmd := &cobra.Command{
		Use:   "list <file>",
		Short: "List (scope, key) pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(configViper, args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			var scopeFilter, keyFilter *string
			if scope != "" {
				scopeFilter = &scope
			}
			if key != "" {
				keyFilter = &key
			}

			refs, err := store.Keys(scopeFilter, keyFilter)
			if err != nil {
				return err
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "SCOPE\tKEY")
			for _, ref := range refs {
				fmt.Fprintf(writer, "%s\t%s\n", ref.Scope, ref.Key)
			}
			return writer.Flush()
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Restrict to a scope")
	cmd.Flags().StringVar(&key, "key", "", "Restrict to a key")
	return cmd
}
