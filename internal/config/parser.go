package config

import (
	"fmt"
	"os"
	"strings"
)

// Parse reads JSONC configuration content over base, applies environment
// overrides, and validates the result.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg := base
	if strings.TrimSpace(content) != "" {
		parsed, err := parseJSONC(content, base)
		if err != nil {
			return Config{}, nil, err
		}
		cfg = parsed
	}

	warnings := applyEnv(&cfg, os.LookupEnv)

	validated, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validated...), nil
}

// envOverrides maps CHATTERBOX_* variables onto config keys.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"CHATTERBOX_SERIAL_PORT", func(c *Config) *string { return &c.Serial.Port }},
	{"CHATTERBOX_CLOUD_URL", func(c *Config) *string { return &c.Cloud.URL }},
	{"CHATTERBOX_SPEECH_GRPC", func(c *Config) *string { return &c.Speech.GRPC }},
	{"CHATTERBOX_PRODUCTION_ID", func(c *Config) *string { return &c.Cloud.ProductionID }},
	{"CHATTERBOX_DEVICE_ID", func(c *Config) *string { return &c.Cloud.DeviceID }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) []Warning {
	var warnings []Warning
	for _, o := range envOverrides {
		v, ok := lookup(o.name)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("%s is set but empty; ignoring", o.name)})
			continue
		}
		*o.field(cfg) = v
	}
	return warnings
}
