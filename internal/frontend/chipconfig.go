package frontend

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// VADFrame is the duration of one chip VAD frame.
	VADFrame = 40 * time.Millisecond

	VADSensitivityMax     = 100
	VADSensitivityDefault = 45
	MicGainMax            = 32
	MicGainDuringPlay     = 20

	DenoiseOff = 0xFF
	DenoiseMax = 3
)

// Format is the chip's audio transport format.
type Format byte

const (
	FormatPCM   Format = 0
	FormatSpeex Format = 1
	FormatOpus  Format = 2
	FormatMP3   Format = 3
)

func (f Format) String() string {
	switch f {
	case FormatPCM:
		return "pcm"
	case FormatSpeex:
		return "speex"
	case FormatOpus:
		return "opus"
	case FormatMP3:
		return "mp3"
	default:
		return fmt.Sprintf("format(%d)", byte(f))
	}
}

// ParseFormat maps a config name to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "pcm":
		return FormatPCM, nil
	case "speex":
		return FormatSpeex, nil
	case "opus":
		return FormatOpus, nil
	case "mp3":
		return FormatMP3, nil
	default:
		return 0, fmt.Errorf("unknown audio format %q", name)
	}
}

// Direction selects the microphone or speaker path.
type Direction int

const (
	DirectionMic Direction = iota + 1
	DirectionSpeaker
)

// StreamConfig describes one audio path. Gain is the mic gain in dB for the
// microphone path and the output volume for the speaker path.
type StreamConfig struct {
	SampleRate int
	BitDepth   int
	Channels   int
	Gain       int
	Format     Format
	MaxChunk   int
}

func (c StreamConfig) encode(dir Direction) ([]byte, error) {
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be > 0")
	}
	if c.BitDepth <= 0 || c.BitDepth > 32 {
		return nil, fmt.Errorf("bit depth %d out of range", c.BitDepth)
	}
	if c.MaxChunk <= 0 {
		return nil, fmt.Errorf("max chunk must be > 0")
	}

	out := binary.BigEndian.AppendUint32(nil, uint32(c.SampleRate))
	out = append(out, byte(c.BitDepth))
	switch dir {
	case DirectionMic:
		if c.Channels <= 0 {
			return nil, fmt.Errorf("channels must be > 0")
		}
		if c.Gain < 0 || c.Gain > MicGainMax {
			return nil, fmt.Errorf("mic gain %d out of range 0-%d", c.Gain, MicGainMax)
		}
		if c.Format == FormatPCM || c.Format == FormatMP3 {
			return nil, fmt.Errorf("microphone does not support %s", c.Format)
		}
		out = append(out, byte(c.Channels), byte(c.Gain), byte(c.Format))
	case DirectionSpeaker:
		if c.Gain < 0 || c.Gain > 100 {
			return nil, fmt.Errorf("speaker volume %d out of range 0-100", c.Gain)
		}
		out = append(out, byte(c.Gain), byte(c.Format))
	default:
		return nil, fmt.Errorf("unknown direction %d", dir)
	}
	return binary.BigEndian.AppendUint32(out, uint32(c.MaxChunk)), nil
}

// OfflineKey is one chip-side offline voice setting.
type OfflineKey byte

const (
	OfflineAudioChannel OfflineKey = iota
	OfflineMicSwitch
	OfflineSpeakerSwitch
	OfflineWakeupCmdSwitch
	OfflineVADSwitch
	OfflineWakeupSwitch
	OfflineTimeoutSwitch
	OfflineSilenceTimeout
	OfflineMaxPickupTime
	OfflineVADSensitivity
	OfflineDenoiseLevel
	OfflineMicGainDuringPlay
)

// validateOffline enforces the documented value range of key.
func validateOffline(key OfflineKey, value uint32) error {
	switch key {
	case OfflineAudioChannel, OfflineMicSwitch, OfflineSpeakerSwitch, OfflineWakeupCmdSwitch,
		OfflineWakeupSwitch, OfflineTimeoutSwitch:
		if value > 1 {
			return fmt.Errorf("offline key %d expects 0 or 1, got %d", key, value)
		}
	case OfflineVADSwitch:
		if value > 0xFF {
			return fmt.Errorf("vad switch frame count %d exceeds 255", value)
		}
	case OfflineSilenceTimeout, OfflineMaxPickupTime:
		if value == 0 {
			return fmt.Errorf("offline key %d requires a value > 0", key)
		}
	case OfflineVADSensitivity:
		if value > VADSensitivityMax {
			return fmt.Errorf("vad sensitivity %d out of range 0-%d", value, VADSensitivityMax)
		}
	case OfflineDenoiseLevel:
		if value > DenoiseMax && value != DenoiseOff {
			return fmt.Errorf("denoise level %d out of range 0-%d or off", value, DenoiseMax)
		}
	case OfflineMicGainDuringPlay:
		if value > MicGainMax {
			return fmt.Errorf("mic gain during play %d out of range 0-%d", value, MicGainMax)
		}
	default:
		return fmt.Errorf("unknown offline key %d", key)
	}
	return nil
}

// encodeOffline packs key and value; values above one byte use four big-endian bytes.
func encodeOffline(key OfflineKey, value uint32) []byte {
	if value <= 0xFF {
		return []byte{byte(key), byte(value)}
	}
	return binary.BigEndian.AppendUint32([]byte{byte(key)}, value)
}
