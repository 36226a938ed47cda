package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Serial   *jsoncSerial   `json:"serial"`
	Frontend *jsoncFrontend `json:"frontend"`
	Cloud    *jsoncCloud    `json:"cloud"`
	Speech   *jsoncSpeech   `json:"speech"`
	Audio    *jsoncAudio    `json:"audio"`
	Decoder  *jsoncDecoder  `json:"decoder"`
	Session  *jsoncSession  `json:"session"`
	Notify   *jsoncNotify   `json:"notify"`
	Device   *jsoncDevice   `json:"device"`
	Logging  *jsoncLogging  `json:"logging"`
	Debug    *jsoncDebug    `json:"debug"`
}

type jsoncSerial struct {
	Port             *string `json:"port"`
	Baud             *int    `json:"baud"`
	UseCTS           *bool   `json:"use_cts"`
	StartupTimeoutMS *int    `json:"startup_timeout_ms"`
}

type jsoncFrontend struct {
	MicFormat         *string `json:"mic_format"`
	MicSampleRate     *int    `json:"mic_sample_rate"`
	SpeakerFormat     *string `json:"speaker_format"`
	VADSensitivity    *int    `json:"vad_sensitivity"`
	Denoise           *int    `json:"denoise"`
	MicGain           *int    `json:"mic_gain"`
	MicGainDuringPlay *int    `json:"mic_gain_during_play"`
	SleepTimeoutMS    *int    `json:"sleep_timeout_ms"`
	MaxPickupMS       *int    `json:"max_pickup_ms"`
}

type jsoncCloud struct {
	URL             *string `json:"url"`
	ProductionID    *string `json:"production_id"`
	DeviceID        *string `json:"device_id"`
	PingIntervalMS  *int    `json:"ping_interval_ms"`
	ReconnectBaseMS *int    `json:"reconnect_base_ms"`
	ReconnectMaxMS  *int    `json:"reconnect_max_ms"`
}

type jsoncSpeech struct {
	GRPC              *string  `json:"grpc"`
	Voice             *string  `json:"voice"`
	DialTimeoutMS     *int     `json:"dial_timeout_ms"`
	RequestTimeoutMS  *int     `json:"request_timeout_ms"`
	RequestsPerSecond *float64 `json:"requests_per_second"`
}

type jsoncAudio struct {
	Route  *string `json:"route"`
	Output *string `json:"output"`
	Volume *int    `json:"volume"`
}

type jsoncDecoder struct {
	RingBytes     *int `json:"ring_bytes"`
	BufferPackets *int `json:"buffer_packets"`
	Gain          *int `json:"gain"`
}

type jsoncSession struct {
	WakeTailSuppressMS *int `json:"wake_tail_suppress_ms"`
	RunningWaitMS      *int `json:"running_wait_ms"`
	CallTimeoutMS      *int `json:"call_timeout_ms"`
}

type jsoncNotify struct {
	Dir       *string `json:"dir"`
	PollMS    *int    `json:"poll_ms"`
	BackoffMS *int    `json:"backoff_ms"`
}

type jsoncDevice struct {
	SettingsDir *string `json:"settings_dir"`
	OTAStatus   *string `json:"ota_status"`
	LinkProbe   *string `json:"link_probe"`
	LinkPollMS  *int    `json:"link_poll_ms"`
}

type jsoncLogging struct {
	Dir        *string `json:"dir"`
	MaxSizeMB  *int    `json:"max_size_mb"`
	MaxBackups *int    `json:"max_backups"`
	MaxAgeDays *int    `json:"max_age_days"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
	Verbose   *bool `json:"verbose"`
}

func parseJSONC(content string, base Config) (Config, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, locate(normalized, err)
	}
	end := decoder.InputOffset()
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		line, col := position(normalized, end+1)
		return Config{}, fmt.Errorf("line %d column %d: unexpected content after the config object", line, col)
	}

	cfg := base
	payload.applyTo(&cfg)
	return cfg, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) {
	if p := payload.Serial; p != nil {
		setString(&cfg.Serial.Port, p.Port)
		setInt(&cfg.Serial.Baud, p.Baud)
		setBool(&cfg.Serial.UseCTS, p.UseCTS)
		setInt(&cfg.Serial.StartupTimeoutMS, p.StartupTimeoutMS)
	}

	if p := payload.Frontend; p != nil {
		setString(&cfg.Frontend.MicFormat, p.MicFormat)
		setInt(&cfg.Frontend.MicSampleRate, p.MicSampleRate)
		setString(&cfg.Frontend.SpeakerFormat, p.SpeakerFormat)
		setInt(&cfg.Frontend.VADSensitivity, p.VADSensitivity)
		setInt(&cfg.Frontend.Denoise, p.Denoise)
		setInt(&cfg.Frontend.MicGain, p.MicGain)
		setInt(&cfg.Frontend.MicGainDuringPlay, p.MicGainDuringPlay)
		setInt(&cfg.Frontend.SleepTimeoutMS, p.SleepTimeoutMS)
		setInt(&cfg.Frontend.MaxPickupMS, p.MaxPickupMS)
	}

	if p := payload.Cloud; p != nil {
		setString(&cfg.Cloud.URL, p.URL)
		setString(&cfg.Cloud.ProductionID, p.ProductionID)
		setString(&cfg.Cloud.DeviceID, p.DeviceID)
		setInt(&cfg.Cloud.PingIntervalMS, p.PingIntervalMS)
		setInt(&cfg.Cloud.ReconnectBaseMS, p.ReconnectBaseMS)
		setInt(&cfg.Cloud.ReconnectMaxMS, p.ReconnectMaxMS)
	}

	if p := payload.Speech; p != nil {
		setString(&cfg.Speech.GRPC, p.GRPC)
		setString(&cfg.Speech.Voice, p.Voice)
		setInt(&cfg.Speech.DialTimeoutMS, p.DialTimeoutMS)
		setInt(&cfg.Speech.RequestTimeoutMS, p.RequestTimeoutMS)
		if p.RequestsPerSecond != nil {
			cfg.Speech.RequestsPerSecond = *p.RequestsPerSecond
		}
	}

	if p := payload.Audio; p != nil {
		setString(&cfg.Audio.Route, p.Route)
		setString(&cfg.Audio.Output, p.Output)
		setInt(&cfg.Audio.Volume, p.Volume)
	}

	if p := payload.Decoder; p != nil {
		setInt(&cfg.Decoder.RingBytes, p.RingBytes)
		setInt(&cfg.Decoder.BufferPackets, p.BufferPackets)
		setInt(&cfg.Decoder.Gain, p.Gain)
	}

	if p := payload.Session; p != nil {
		setInt(&cfg.Session.WakeTailSuppressMS, p.WakeTailSuppressMS)
		setInt(&cfg.Session.RunningWaitMS, p.RunningWaitMS)
		setInt(&cfg.Session.CallTimeoutMS, p.CallTimeoutMS)
	}

	if p := payload.Notify; p != nil {
		setString(&cfg.Notify.Dir, p.Dir)
		setInt(&cfg.Notify.PollMS, p.PollMS)
		setInt(&cfg.Notify.BackoffMS, p.BackoffMS)
	}

	if p := payload.Device; p != nil {
		setString(&cfg.Device.SettingsDir, p.SettingsDir)
		setString(&cfg.Device.OTAStatus, p.OTAStatus)
		setString(&cfg.Device.LinkProbe, p.LinkProbe)
		setInt(&cfg.Device.LinkPollMS, p.LinkPollMS)
	}

	if p := payload.Logging; p != nil {
		setString(&cfg.Logging.Dir, p.Dir)
		setInt(&cfg.Logging.MaxSizeMB, p.MaxSizeMB)
		setInt(&cfg.Logging.MaxBackups, p.MaxBackups)
		setInt(&cfg.Logging.MaxAgeDays, p.MaxAgeDays)
	}

	if p := payload.Debug; p != nil {
		setBool(&cfg.Debug.EnableAudioDump, p.AudioDump)
		setBool(&cfg.Debug.Verbose, p.Verbose)
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
