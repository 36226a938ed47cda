// Package config resolves, parses, validates, and defaults chatterbox configuration.
package config

// Config is the fully materialized runtime configuration used by chatterbox.
type Config struct {
	Serial   SerialConfig
	Frontend FrontendConfig
	Cloud    CloudConfig
	Speech   SpeechConfig
	Audio    AudioConfig
	Decoder  DecoderConfig
	Session  SessionConfig
	Notify   NotifyConfig
	Device   DeviceConfig
	Logging  LoggingConfig
	Debug    DebugConfig
}

// SerialConfig selects the UART the front-end chip is attached to.
type SerialConfig struct {
	Port             string
	Baud             int
	UseCTS           bool
	StartupTimeoutMS int
}

// FrontendConfig is pushed to the chip at boot.
type FrontendConfig struct {
	MicFormat         string
	MicSampleRate     int
	SpeakerFormat     string
	VADSensitivity    int
	Denoise           int
	MicGain           int
	MicGainDuringPlay int
	SleepTimeoutMS    int
	MaxPickupMS       int
}

// CloudConfig controls the dialogue websocket channel.
type CloudConfig struct {
	URL             string
	ProductionID    string
	DeviceID        string
	PingIntervalMS  int
	ReconnectBaseMS int
	ReconnectMaxMS  int
}

// SpeechConfig controls the synthesis gateway client.
type SpeechConfig struct {
	GRPC              string
	Voice             string
	DialTimeoutMS     int
	RequestTimeoutMS  int
	RequestsPerSecond float64
}

// AudioConfig controls where synthesized audio plays.
type AudioConfig struct {
	// Route is "host" for PulseAudio playback or "chip" for the chip speaker.
	Route  string
	Output string
	Volume int
}

// DecoderConfig sizes the buffered decoder.
type DecoderConfig struct {
	RingBytes     int
	BufferPackets int
	Gain          int
}

// SessionConfig tunes the session engine.
type SessionConfig struct {
	WakeTailSuppressMS int
	RunningWaitMS      int
	CallTimeoutMS      int
}

// NotifyConfig controls the prompt cache.
type NotifyConfig struct {
	Dir       string
	PollMS    int
	BackoffMS int
}

// DeviceConfig points at host-side device state.
type DeviceConfig struct {
	SettingsDir string
	OTAStatus   string
	// LinkProbe is an address to dial, or empty to check interfaces.
	LinkProbe  string
	LinkPollMS int
}

// LoggingConfig controls log file rotation.
type LoggingConfig struct {
	// Dir overrides the state directory holding log.jsonl.
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
	Verbose         bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
