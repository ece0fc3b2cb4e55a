package cliconfig

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestLoadDefaults(testContext *testing.T) {
	cmd := &cobra.Command{Use: "kvsync"}
	configViper := viper.New()
	BindGlobalFlags(cmd, configViper)
	ApplyDefaults(configViper)

	cfg := Load(configViper)
	if cfg.AppID != defaultAppID {
		testContext.Fatalf("expected default app id %q, got %q", defaultAppID, cfg.AppID)
	}
	if cfg.AppMajor != defaultAppMajor || cfg.AppMinor != defaultAppMinor {
		testContext.Fatalf("expected default version %d.%d, got %d.%d", defaultAppMajor, defaultAppMinor, cfg.AppMajor, cfg.AppMinor)
	}
	if cfg.LogLevel != defaultLogLevel {
		testContext.Fatalf("expected default log level %q, got %q", defaultLogLevel, cfg.LogLevel)
	}
}

func TestLoadReflectsFlagOverride(testContext *testing.T) {
	cmd := &cobra.Command{Use: "kvsync"}
	configViper := viper.New()
	BindGlobalFlags(cmd, configViper)
	ApplyDefaults(configViper)

	if err := cmd.PersistentFlags().Set("app-id", "myapp"); err != nil {
		testContext.Fatalf("setting flag: %v", err)
	}

	cfg := Load(configViper)
	if cfg.AppID != "myapp" {
		testContext.Fatalf("expected overridden app id, got %q", cfg.AppID)
	}
}
