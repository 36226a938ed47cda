// Package codec provides the decoder.Codec implementations used for playback.
package codec

import (
	"fmt"
	"strings"

	"github.com/rbright/chatterbox/internal/codec/opus"
	"github.com/rbright/chatterbox/internal/decoder"
)

// Format tags a downstream audio stream so the player picks the right codec.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatPCM  Format = "pcm"
)

const (
	defaultSampleRate = 16000
	defaultChannels   = 1
)

// ParseFormat maps a wire format name onto Format.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatMP3:
		return FormatMP3, nil
	case FormatOpus:
		return FormatOpus, nil
	case FormatPCM, "raw":
		return FormatPCM, nil
	default:
		return "", fmt.Errorf("unsupported audio format %q", raw)
	}
}

// Options describes the expected stream shape. MP3 streams override it from
// their frame headers.
type Options struct {
	SampleRate int
	Channels   int
}

func (o Options) normalized() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = defaultSampleRate
	}
	if o.Channels <= 0 {
		o.Channels = defaultChannels
	}
	return o
}

// New returns a fresh codec for one stream.
func New(format Format, opts Options) (decoder.Codec, error) {
	opts = opts.normalized()
	switch format {
	case FormatMP3:
		return NewMP3(opts.SampleRate), nil
	case FormatOpus:
		c, err := opus.New(opts.SampleRate, opts.Channels)
		if err != nil {
			return nil, err
		}
		return c, nil
	case FormatPCM:
		return PCM{Rate: opts.SampleRate, Chans: opts.Channels}, nil
	default:
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}
}
