package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DotEnvFile is read from the working directory before environment overrides apply.
const DotEnvFile = ".env"

// Loaded is the outcome of Load. Exists is false when defaults stood in for
// a missing file.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves the config file, applies it over Default, then applies
// CHATTERBOX_* overrides and validation. A missing file is a warning.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}
	loaded := Loaded{Path: path, Exists: true}
	loaded.Warnings = loadDotEnv(DotEnvFile)

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		loaded.Exists = false
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", path),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, warnings, err := Parse(string(content), Default())
	if err != nil {
		if !loaded.Exists {
			return Loaded{}, fmt.Errorf("apply defaults: %w", err)
		}
		return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	loaded.Config = cfg
	loaded.Warnings = append(loaded.Warnings, warnings...)
	return loaded, nil
}

// loadDotEnv exports variables from path without overriding the environment.
func loadDotEnv(path string) []Warning {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return []Warning{{Message: fmt.Sprintf("ignoring %s: %v", path, err)}}
}
