// Package config resolves server settings from flags, environment and an
// optional per-datadir config file, in that precedence order.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "ACTIOND"
	configFileName = "server.yaml"
)

// Settings are the resolved server-wide options.
type Settings struct {
	// Datadir is the server data directory: catalog database, derived
	// dependency files and the optional config file live under it.
	Datadir string

	// Sealed rejects action packages without a package.yaml instead of
	// importing them unmanaged.
	Sealed bool

	// RCCBinary is the environment provisioner executable.
	RCCBinary string
}

// Load resolves settings. datadirFlag, when non-empty, wins over the
// ACTIOND_DATADIR environment variable and the default. The config file
// <datadir>/server.yaml is optional and ranks below flags and environment.
func Load(datadirFlag string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault("datadir", defaultDatadir())
	v.SetDefault("sealed", false)
	v.SetDefault("rcc_binary", "rcc")

	if datadirFlag != "" {
		v.Set("datadir", datadirFlag)
	}

	datadir, err := filepath.Abs(v.GetString("datadir"))
	if err != nil {
		return nil, fmt.Errorf("resolving datadir: %w", err)
	}

	v.SetConfigFile(filepath.Join(datadir, configFileName))
	v.SetConfigType("yaml")
	// The config file is optional; explicit settings outrank it anyway.
	_ = v.ReadInConfig()

	return &Settings{
		Datadir:   datadir,
		Sealed:    v.GetBool("sealed"),
		RCCBinary: v.GetString("rcc_binary"),
	}, nil
}

func defaultDatadir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".actiond"
	}
	return filepath.Join(home, ".actiond")
}
