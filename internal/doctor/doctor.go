// Package doctor runs runtime readiness diagnostics for config, the chip link,
// audio playback, the speech gateway, and the cloud endpoint.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/chatterbox/internal/audio"
	"github.com/rbright/chatterbox/internal/codec/opus"
	"github.com/rbright/chatterbox/internal/config"
	"github.com/rbright/chatterbox/internal/device"
	"github.com/rbright/chatterbox/internal/speech"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	ctx := context.Background()
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	}}

	checks = append(checks, checkSerialPort(cfg.Config.Serial.Port))
	if cfg.Config.Audio.Route == "host" {
		checks = append(checks, checkAudioSink(ctx, cfg.Config.Audio.Output))
		if cfg.Config.Frontend.SpeakerFormat == "opus" {
			checks = append(checks, checkOpus())
		}
	}
	checks = append(checks, checkSpeech(ctx, cfg.Config.Speech))
	checks = append(checks, checkCloud(ctx, cfg.Config.Cloud.URL))
	checks = append(checks, checkStateDir("notify.dir", cfg.Config.Notify.Dir, "notify"))
	checks = append(checks, checkStateDir("device.settings_dir", cfg.Config.Device.SettingsDir, "settings"))

	return Report{Checks: checks}
}

// checkSerialPort validates that the configured port is a character device.
func checkSerialPort(port string) Check {
	info, err := os.Stat(port)
	if err != nil {
		return Check{Name: "serial.port", Pass: false, Message: err.Error()}
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return Check{Name: "serial.port", Pass: false, Message: fmt.Sprintf("%s is not a character device", port)}
	}
	return Check{Name: "serial.port", Pass: true, Message: fmt.Sprintf("found %s", port)}
}

// checkAudioSink runs live sink selection to surface selection/fallback issues.
func checkAudioSink(ctx context.Context, preferred string) Check {
	selection, err := audio.SelectSink(ctx, preferred)
	if err != nil {
		return Check{Name: "audio.output", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.output", Pass: true, Message: message}
}

func checkOpus() Check {
	if _, err := opus.New(16000, 1); err != nil {
		return Check{Name: "codec.opus", Pass: false, Message: err.Error()}
	}
	return Check{Name: "codec.opus", Pass: true, Message: "libopus decoder available"}
}

// checkSpeech dials the gateway and runs its health check.
func checkSpeech(ctx context.Context, cfg config.SpeechConfig) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client, err := speech.Dial(ctx, speech.Config{
		Address:     cfg.GRPC,
		DialTimeout: min(time.Duration(cfg.DialTimeoutMS)*time.Millisecond, probeTimeout),
	}, nil)
	if err != nil {
		return Check{Name: "speech.health", Pass: false, Message: err.Error()}
	}
	defer func() { _ = client.Close() }()

	if err := client.Health(ctx); err != nil {
		return Check{Name: "speech.health", Pass: false, Message: err.Error()}
	}
	return Check{Name: "speech.health", Pass: true, Message: fmt.Sprintf("serving at %s", cfg.GRPC)}
}

// checkCloud opens a TCP connection to the dialogue endpoint host.
func checkCloud(ctx context.Context, rawURL string) Check {
	addr, err := cloudAddress(rawURL)
	if err != nil {
		return Check{Name: "cloud.reachable", Pass: false, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := device.DialProbe(addr)(ctx); err != nil {
		return Check{Name: "cloud.reachable", Pass: false, Message: fmt.Sprintf("dial %s: %v", addr, err)}
	}
	return Check{Name: "cloud.reachable", Pass: true, Message: fmt.Sprintf("reached %s", addr)}
}

func cloudAddress(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse cloud url: %w", err)
	}
	if u.Hostname() == "" {
		return "", errors.New("cloud url has no host")
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "ws" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// checkStateDir validates that a state directory exists or can be created, and is writable.
func checkStateDir(name, explicit, fallback string) Check {
	dir, err := config.ResolveStateDir(explicit, fallback)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("not writable: %v", err)}
	}
	_ = f.Close()
	_ = os.Remove(filepath.Clean(f.Name()))
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("writable %s", dir)}
}
