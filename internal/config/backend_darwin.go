//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

func appSupportDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "cadence")
	}
	return "cadence-data"
}

func defaultDataDir() string {
	return appSupportDir()
}

func configFilePath() string {
	return filepath.Join(appSupportDir(), "config.yaml")
}

func apiKeyHint() string {
	return " or macOS Keychain (service: cadence, account: smartlead_api_key)"
}
