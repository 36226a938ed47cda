package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEmptyContentReturnsDefaults(t *testing.T) {
	cfg, warnings, err := Parse("   \n", Default())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.NotEmpty(t, warnings)
	require.Contains(t, warnings[0].Message, "device_id")
}

func TestParseValidatesResult(t *testing.T) {
	_, _, err := Parse(`{"audio": {"volume": 101}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "audio.volume")
}

func TestParseEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("CHATTERBOX_CLOUD_URL", "wss://override.example/ws")
	t.Setenv("CHATTERBOX_DEVICE_ID", "dev-env")
	t.Setenv("CHATTERBOX_SERIAL_PORT", " /dev/ttyACM0 ")

	cfg, warnings, err := Parse(`{"cloud": {"url": "wss://file.example/ws", "device_id": "dev-file"}}`, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "wss://override.example/ws", cfg.Cloud.URL)
	require.Equal(t, "dev-env", cfg.Cloud.DeviceID)
	require.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
}

func TestApplyEnvIgnoresEmptyValues(t *testing.T) {
	env := map[string]string{"CHATTERBOX_SPEECH_GRPC": "  "}
	cfg := Default()

	warnings := applyEnv(&cfg, func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	})
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "CHATTERBOX_SPEECH_GRPC")
	require.Equal(t, Default().Speech.GRPC, cfg.Speech.GRPC)
}
