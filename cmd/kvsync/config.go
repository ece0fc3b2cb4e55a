package main

import (
	"github.com/kvsync/kvsync/internal/cliconfig"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func setupGlobalFlags(cmd *cobra.Command, configViper *viper.Viper) {
	cliconfig.ApplyDefaults(configViper)
	cliconfig.BindGlobalFlags(cmd, configViper)
}
