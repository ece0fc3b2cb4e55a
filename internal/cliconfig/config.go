// Package cliconfig binds the kvsync CLI's global flags through viper.
package cliconfig

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "KVSYNC"

	defaultLogLevel = "info"
	defaultAppID    = "kvsync-cli"
	defaultAppMajor = 1
	defaultAppMinor = 0
)

// Config is the CLI's resolved global configuration: the logger level and
// the expected application identifier the version gate compares against
// on every open. The defaults describe the kvsync CLI itself, so opening
// a bare file created by kvsync round-trips without extra flags.
type Config struct {
	LogLevel string
	AppID    string
	AppMajor int64
	AppMinor int64
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("app.id", defaultAppID)
	configViper.SetDefault("app.major", defaultAppMajor)
	configViper.SetDefault("app.minor", defaultAppMinor)
}

// BindGlobalFlags registers the CLI's global flags on cmd and binds them
// through configViper, an explicit instance rather than a package-level
// global.
func BindGlobalFlags(cmd *cobra.Command, configViper *viper.Viper) {
	defaults := viper.New()
	ApplyDefaults(defaults)

	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("app-id", defaults.GetString("app.id"), "Expected application identifier")
	cmd.PersistentFlags().Int64("app-major", defaults.GetInt64("app.major"), "Expected application major version")
	cmd.PersistentFlags().Int64("app-minor", defaults.GetInt64("app.minor"), "Expected application minor version")

	bindFlag(configViper, cmd, "log.level", "log-level")
	bindFlag(configViper, cmd, "app.id", "app-id")
	bindFlag(configViper, cmd, "app.major", "app-major")
	bindFlag(configViper, cmd, "app.minor", "app-minor")
}

func bindFlag(configViper *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := configViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// Load reads the resolved Config out of configViper.
func Load(configViper *viper.Viper) Config {
	return Config{
		LogLevel: configViper.GetString("log.level"),
		AppID:    configViper.GetString("app.id"),
		AppMajor: configViper.GetInt64("app.major"),
		AppMinor: configViper.GetInt64("app.minor"),
	}
}
