package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appName = "chatterbox"

// SystemConfigPath is used when the per-user config file does not exist.
// Appliance images ship their config here and run the daemon without a HOME.
var SystemConfigPath = filepath.Join("/etc", appName, "config.jsonc")

// ResolvePath picks the config file: explicit, then the per-user file under
// XDG_CONFIG_HOME or ~/.config, then SystemConfigPath if present. When none
// exist the per-user path is returned so Load can report it missing.
func ResolvePath(explicit string) (string, error) {
	if path := strings.TrimSpace(explicit); path != "" {
		return path, nil
	}

	dir, err := userDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		if fileExists(SystemConfigPath) {
			return SystemConfigPath, nil
		}
		return "", fmt.Errorf("resolve config path: %w", err)
	}

	path := filepath.Join(dir, "config.jsonc")
	if !fileExists(path) && fileExists(SystemConfigPath) {
		return SystemConfigPath, nil
	}
	return path, nil
}

// ResolveStateDir returns explicit when set, otherwise name under the
// chatterbox state directory (XDG_STATE_HOME or ~/.local/state).
func ResolveStateDir(explicit, name string) (string, error) {
	if dir := strings.TrimSpace(explicit); dir != "" {
		return dir, nil
	}
	base, err := userDir("XDG_STATE_HOME", ".local", "state")
	if err != nil {
		return "", fmt.Errorf("resolve state dir: %w", err)
	}
	return filepath.Join(base, name), nil
}

func userDir(env string, homeRel ...string) (string, error) {
	if xdg := strings.TrimSpace(os.Getenv(env)); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", errors.New("no " + env + " and no user home")
	}
	parts := append([]string{home}, homeRel...)
	return filepath.Join(append(parts, appName)...), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
