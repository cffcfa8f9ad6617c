// ABOUTME: XDG-style locations for the config file and persistent data
// ABOUTME: Honors RECORDER_GATEWAY_CONFIG, XDG_CONFIG_HOME and XDG_DATA_HOME

package config

import (
	"os"
	"path/filepath"
)

// EnvConfigPath names the environment variable that overrides the config location.
const EnvConfigPath = "RECORDER_GATEWAY_CONFIG"

// ConfigPath returns the config file path, checking in order:
// the flag value, RECORDER_GATEWAY_CONFIG, then the XDG config directory.
func ConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), AppDirName, "gateway.yaml")
}

// DataDir returns the directory holding the registry, audit database and
// tsnet state.
func DataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), AppDirName)
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}
