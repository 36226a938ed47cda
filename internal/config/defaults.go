package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Serial: SerialConfig{
			Port:             "/dev/ttyS1",
			Baud:             921600,
			UseCTS:           true,
			StartupTimeoutMS: 5000,
		},
		Frontend: FrontendConfig{
			MicFormat:         "opus",
			MicSampleRate:     16000,
			SpeakerFormat:     "mp3",
			VADSensitivity:    45,
			Denoise:           2,
			MicGain:           26,
			MicGainDuringPlay: 20,
			SleepTimeoutMS:    30000,
			MaxPickupMS:       15000,
		},
		Cloud: CloudConfig{
			URL:             "wss://dialog.chatterbox.local/v1/ws",
			PingIntervalMS:  20000,
			ReconnectBaseMS: 500,
			ReconnectMaxMS:  30000,
		},
		Speech: SpeechConfig{
			GRPC:              "127.0.0.1:50061",
			DialTimeoutMS:     3000,
			RequestTimeoutMS:  15000,
			RequestsPerSecond: 2,
		},
		Audio: AudioConfig{
			Route:  "host",
			Output: "default",
			Volume: 60,
		},
		Decoder: DecoderConfig{
			RingBytes:     64 * 1024,
			BufferPackets: 10,
			Gain:          100,
		},
		Session: SessionConfig{
			WakeTailSuppressMS: 500,
			RunningWaitMS:      2000,
			CallTimeoutMS:      3000,
		},
		Notify: NotifyConfig{
			PollMS:    1000,
			BackoffMS: 5000,
		},
		Device: DeviceConfig{
			LinkPollMS: 2000,
		},
		Logging: LoggingConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}
