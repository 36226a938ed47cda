package config

import (
	"fmt"
	"net/url"
	"strings"
)

var formats = map[string]bool{"pcm": true, "speex": true, "opus": true, "mp3": true}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Serial.Port) == "" {
		return nil, fmt.Errorf("serial.port must not be empty")
	}
	if cfg.Serial.Baud <= 0 {
		return nil, fmt.Errorf("serial.baud must be > 0")
	}
	if cfg.Serial.StartupTimeoutMS <= 0 {
		return nil, fmt.Errorf("serial.startup_timeout_ms must be > 0")
	}

	fe := cfg.Frontend
	if !formats[fe.MicFormat] {
		return nil, fmt.Errorf("frontend.mic_format must be one of: pcm, speex, opus, mp3")
	}
	if !formats[fe.SpeakerFormat] {
		return nil, fmt.Errorf("frontend.speaker_format must be one of: pcm, speex, opus, mp3")
	}
	if fe.MicSampleRate <= 0 {
		return nil, fmt.Errorf("frontend.mic_sample_rate must be > 0")
	}
	if fe.VADSensitivity < 0 || fe.VADSensitivity > 100 {
		return nil, fmt.Errorf("frontend.vad_sensitivity must be within 0..100")
	}
	if (fe.Denoise < 0 || fe.Denoise > 3) && fe.Denoise != 255 {
		return nil, fmt.Errorf("frontend.denoise must be within 0..3, or 255 to disable")
	}
	if fe.MicGain < 0 || fe.MicGain > 32 {
		return nil, fmt.Errorf("frontend.mic_gain must be within 0..32")
	}
	if fe.MicGainDuringPlay < 0 || fe.MicGainDuringPlay > 32 {
		return nil, fmt.Errorf("frontend.mic_gain_during_play must be within 0..32")
	}
	if fe.SleepTimeoutMS < 1000 {
		return nil, fmt.Errorf("frontend.sleep_timeout_ms must be >= 1000")
	}
	if fe.MaxPickupMS <= 0 {
		return nil, fmt.Errorf("frontend.max_pickup_ms must be > 0")
	}

	rawURL := strings.TrimSpace(cfg.Cloud.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("cloud.url must not be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("cloud.url must be a ws:// or wss:// URL")
	}
	if u.Scheme == "ws" {
		warnings = append(warnings, Warning{Message: "cloud.url uses unencrypted ws://"})
	}
	if strings.TrimSpace(cfg.Cloud.DeviceID) == "" {
		warnings = append(warnings, Warning{Message: "cloud.device_id is empty; the cloud may reject the connection"})
	}
	if cfg.Cloud.PingIntervalMS <= 0 {
		return nil, fmt.Errorf("cloud.ping_interval_ms must be > 0")
	}
	if cfg.Cloud.ReconnectBaseMS <= 0 || cfg.Cloud.ReconnectMaxMS < cfg.Cloud.ReconnectBaseMS {
		return nil, fmt.Errorf("cloud.reconnect_base_ms must be > 0 and <= cloud.reconnect_max_ms")
	}

	if strings.TrimSpace(cfg.Speech.GRPC) == "" {
		return nil, fmt.Errorf("speech.grpc must not be empty")
	}
	if cfg.Speech.DialTimeoutMS <= 0 || cfg.Speech.RequestTimeoutMS <= 0 {
		return nil, fmt.Errorf("speech timeouts must be > 0")
	}
	if cfg.Speech.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("speech.requests_per_second must be >= 0")
	}

	switch cfg.Audio.Route {
	case "host":
	case "chip":
		if cfg.Frontend.SpeakerFormat == "speex" {
			return nil, fmt.Errorf("audio.route=chip cannot play speex downloads")
		}
	default:
		return nil, fmt.Errorf("audio.route must be one of: host, chip")
	}
	if cfg.Audio.Volume < 0 || cfg.Audio.Volume > 100 {
		return nil, fmt.Errorf("audio.volume must be within 0..100")
	}

	if cfg.Decoder.RingBytes <= 0 {
		return nil, fmt.Errorf("decoder.ring_bytes must be > 0")
	}
	if cfg.Decoder.BufferPackets < 0 {
		return nil, fmt.Errorf("decoder.buffer_packets must be >= 0")
	}
	if cfg.Decoder.Gain < 0 {
		return nil, fmt.Errorf("decoder.gain must be >= 0")
	}

	if cfg.Session.WakeTailSuppressMS < 0 {
		return nil, fmt.Errorf("session.wake_tail_suppress_ms must be >= 0")
	}
	if cfg.Session.RunningWaitMS <= 0 || cfg.Session.CallTimeoutMS <= 0 {
		return nil, fmt.Errorf("session timeouts must be > 0")
	}

	if cfg.Notify.PollMS <= 0 || cfg.Notify.BackoffMS <= 0 {
		return nil, fmt.Errorf("notify.poll_ms and notify.backoff_ms must be > 0")
	}
	if cfg.Device.LinkPollMS <= 0 {
		return nil, fmt.Errorf("device.link_poll_ms must be > 0")
	}

	if cfg.Logging.MaxSizeMB <= 0 {
		return nil, fmt.Errorf("logging.max_size_mb must be > 0")
	}
	if cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		return nil, fmt.Errorf("logging.max_backups and logging.max_age_days must be >= 0")
	}

	return warnings, nil
}
