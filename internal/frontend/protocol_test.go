package frontend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeFrameLayout(t *testing.T) {
	frame, err := EncodeFrame(CmdAudioEvent, []byte{0x01, 0xAB})
	require.NoError(t, err)
	require.Equal(t, []byte{0x55, 0xAA, 0x00, 0x92, 0x00, 0x03, 0x05, 0x01, 0xAB}, frame[:9])

	var sum byte
	for _, b := range frame[:len(frame)-1] {
		sum += b
	}
	require.Equal(t, sum, frame[len(frame)-1])
	require.Len(t, frame, frameMinLen+2)
}

func TestEncodeFrameRejectsOversizedPayload(t *testing.T) {
	_, err := EncodeFrame(CmdAudioData, make([]byte, MaxPayload+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestFrameDecoderRoundTripAcrossChunks(t *testing.T) {
	a, err := EncodeFrame(CmdAudioEvent, []byte{byte(EventWakeup)})
	require.NoError(t, err)
	b, err := EncodeFrame(CmdAudioEvent, append([]byte{byte(EventRunning)}, []byte("pcm")...))
	require.NoError(t, err)

	stream := append(append([]byte{}, a...), b...)

	var dec FrameDecoder
	var frames []Frame
	for i := 0; i < len(stream); i += 3 {
		end := min(i+3, len(stream))
		frames = append(frames, dec.Feed(stream[i:end]).Frames...)
	}

	require.Len(t, frames, 2)
	require.Equal(t, CmdAudioEvent, frames[0].Cmd)
	require.Equal(t, []byte{byte(EventWakeup)}, frames[0].Payload)
	require.Equal(t, append([]byte{byte(EventRunning)}, []byte("pcm")...), frames[1].Payload)
	require.Zero(t, dec.Buffered())
}

func TestFrameDecoderResyncsOnGarbage(t *testing.T) {
	good, err := EncodeFrame(CmdStartup, nil)
	require.NoError(t, err)

	var dec FrameDecoder
	result := dec.Feed(append([]byte{0x00, 0x13, 0x55, 0x37}, good...))
	require.Len(t, result.Frames, 1)
	require.Equal(t, CmdStartup, result.Frames[0].Cmd)
	require.Equal(t, 4, result.Skipped)
	require.Zero(t, result.Dropped)
}

func TestFrameDecoderDropsBadChecksum(t *testing.T) {
	bad, err := EncodeFrame(CmdAudioEvent, []byte{byte(EventStart)})
	require.NoError(t, err)
	bad[len(bad)-1]++

	good, err := EncodeFrame(CmdAudioEvent, []byte{byte(EventEnd)})
	require.NoError(t, err)

	var dec FrameDecoder
	result := dec.Feed(append(bad, good...))
	require.Equal(t, 1, result.Dropped)
	require.Len(t, result.Frames, 1)
	require.Equal(t, []byte{byte(EventEnd)}, result.Frames[0].Payload)
}

func TestFrameDecoderDropsZeroLength(t *testing.T) {
	var dec FrameDecoder
	result := dec.Feed([]byte{0x55, 0xAA, 0x00, 0x92, 0x00, 0x00, 0x05, 0x00})
	require.Empty(t, result.Frames)
	require.Equal(t, 1, result.Dropped)
}

func TestDecodeEvent(t *testing.T) {
	event, err := DecodeEvent(Frame{Cmd: CmdAudioEvent, Payload: []byte{0x01, 0x10, 0x20}})
	require.NoError(t, err)
	require.Equal(t, EventRunning, event.Kind)
	require.Equal(t, []byte{0x10, 0x20}, event.Data)
	require.Equal(t, 2, event.Len())

	_, err = DecodeEvent(Frame{Cmd: CmdAudioEvent})
	require.Error(t, err)

	_, err = DecodeEvent(Frame{Cmd: CmdAudioEvent, Payload: []byte{0x09}})
	require.Error(t, err)

	_, err = DecodeEvent(Frame{Cmd: CmdVersion, Payload: []byte{0x00}})
	require.Error(t, err)
}

func TestStreamConfigEncode(t *testing.T) {
	mic := StreamConfig{SampleRate: 16000, BitDepth: 16, Channels: 1, Gain: 20, Format: FormatOpus, MaxChunk: 512}
	payload, err := mic.encode(DirectionMic)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x3E, 0x80, 16, 1, 20, byte(FormatOpus), 0x00, 0x00, 0x02, 0x00}, payload)

	spk := StreamConfig{SampleRate: 24000, BitDepth: 16, Gain: 60, Format: FormatMP3, MaxChunk: 1024}
	payload, err = spk.encode(DirectionSpeaker)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x5D, 0xC0, 16, 60, byte(FormatMP3), 0x00, 0x00, 0x04, 0x00}, payload)

	_, err = StreamConfig{SampleRate: 16000, BitDepth: 16, Channels: 1, Gain: 40, Format: FormatOpus, MaxChunk: 1}.encode(DirectionMic)
	require.Error(t, err)

	_, err = StreamConfig{SampleRate: 16000, BitDepth: 16, Channels: 1, Gain: 1, Format: FormatMP3, MaxChunk: 1}.encode(DirectionMic)
	require.Error(t, err)
}

func TestOfflineValidationAndEncoding(t *testing.T) {
	tests := []struct {
		name    string
		key     OfflineKey
		value   uint32
		wantErr bool
	}{
		{name: "sensitivity default", key: OfflineVADSensitivity, value: VADSensitivityDefault},
		{name: "sensitivity too high", key: OfflineVADSensitivity, value: 101, wantErr: true},
		{name: "denoise off", key: OfflineDenoiseLevel, value: DenoiseOff},
		{name: "denoise invalid", key: OfflineDenoiseLevel, value: 4, wantErr: true},
		{name: "mic gain max", key: OfflineMicGainDuringPlay, value: MicGainMax},
		{name: "mic gain over", key: OfflineMicGainDuringPlay, value: 33, wantErr: true},
		{name: "silence zero", key: OfflineSilenceTimeout, value: 0, wantErr: true},
		{name: "switch two", key: OfflineMicSwitch, value: 2, wantErr: true},
		{name: "unknown key", key: OfflineKey(99), value: 1, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateOffline(tc.key, tc.value)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}

	require.Equal(t, []byte{byte(OfflineSilenceTimeout), 30}, encodeOffline(OfflineSilenceTimeout, 30))
	require.Equal(t, []byte{byte(OfflineMaxPickupTime), 0x00, 0x00, 0x01, 0x2C}, encodeOffline(OfflineMaxPickupTime, 300))
}
