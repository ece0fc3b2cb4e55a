package main

import (
	"fmt"

	"github.com/kvsync/kvsync/internal/cliconfig"
	"github.com/kvsync/kvsync/internal/kvstore"
	"github.com/kvsync/kvsync/internal/obslog"
	"github.com/spf13/viper"
)

func openStore(configViper *viper.Viper, path string) (*kvstore.Store, error) {
	cfg := cliconfig.Load(configViper)

	logger, err := obslog.New(obslog.Config{Level: cfg.LogLevel, Component: "cli"})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	store, err := kvstore.Open(path, kvstore.OpenOptions{
		ExpectedAppID: cfg.AppID,
		ExpectedMajor: cfg.AppMajor,
		ExpectedMinor: cfg.AppMinor,
		AuthorName:    "kvsync-cli",
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}
