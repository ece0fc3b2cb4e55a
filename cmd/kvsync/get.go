package main

import (
	"encoding/json"
	"fmt"

	"github.com/kvsync/kvsync/internal/kvstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newGetCommand(configViper *viper.Viper) *cobra.Command {
	var scope, key string

	cmd := &cobra.Command{
		Use:   "get <file> --key K [--scope S]",
		Short: "Print every version at (scope, key)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			store, err := openStore(configViper, args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			versions, err := store.Read(cmd.Context(), kvstore.Scope(scope), kvstore.Key(key))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, version := range versions {
				fmt.Fprintf(out, "author: %s  time: %s\n", version.AuthorID, version.Timestamp.Format("2006-01-02T15:04:05Z"))
				switch version.Value.Type() {
				case kvstore.TypeNull:
					fmt.Fprintln(out, "  DELETED")
				case kvstore.TypeText:
					fmt.Fprintf(out, "  %s\n", version.Value.Text())
				case kvstore.TypeJSON:
					pretty, err := prettyJSON(version.Value.JSONText())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "  %s\n", pretty)
				case kvstore.TypeBlob:
					fmt.Fprintf(out, "  <%s, %d bytes>\n", version.Value.BlobMIME(), len(version.Value.Blob()))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Key to read (required)")
	cmd.Flags().StringVar(&scope, "scope", "", "Scope to read from")
	return cmd
}

func prettyJSON(raw string) (string, error) {
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return "", fmt.Errorf("re-parsing stored json: %w", err)
	}
	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("pretty printing json: %w", err)
	}
	return string(pretty), nil
}
