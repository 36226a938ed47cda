//go:build cgo

// Package opus wraps libopus for playback of cloud Opus streams.
package opus

import (
	"fmt"

	hopus "gopkg.in/hraban/opus.v2"

	"github.com/rbright/chatterbox/internal/decoder"
)

// maxFrameMS is the longest Opus frame duration.
const maxFrameMS = 120

// Codec decodes one packet per Opus frame.
type Codec struct {
	rate     int
	channels int
	dec      *hopus.Decoder
}

// New creates a libopus decoder for the given output shape.
func New(sampleRate, channels int) (*Codec, error) {
	dec, err := hopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &Codec{rate: sampleRate, channels: channels, dec: dec}, nil
}

func (*Codec) Name() string      { return "opus" }
func (c *Codec) SampleRate() int { return c.rate }
func (c *Codec) Channels() int   { return c.channels }

func (c *Codec) Decode(src decoder.Packets, emit func([]int16) error) error {
	pcm := make([]int16, c.rate*maxFrameMS/1000*c.channels)
	for {
		packet, ok := src.Next()
		if !ok {
			return nil
		}
		n, err := c.dec.Decode(packet, pcm)
		if err != nil {
			return fmt.Errorf("decode opus packet: %w", err)
		}
		out := make([]int16, n*c.channels)
		copy(out, pcm)
		if err := emit(out); err != nil {
			return err
		}
	}
}
