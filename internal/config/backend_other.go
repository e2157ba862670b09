//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

// xdgDir returns $<env>/cadence, or ~/<rel>/cadence when the variable is unset.
func xdgDir(env, rel string) string {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "cadence-data"
		}
		base = filepath.Join(home, rel)
	}
	return filepath.Join(base, "cadence")
}

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.yaml")
}

func apiKeyHint() string {
	return " or store it with `cadence config set-key`"
}
