//go:build !cgo

// Package opus wraps libopus for playback of cloud Opus streams.
package opus

import (
	"errors"

	"github.com/rbright/chatterbox/internal/decoder"
)

// ErrUnavailable is returned when the binary was built without cgo.
var ErrUnavailable = errors.New("opus playback requires a cgo build with libopus")

// Codec is unavailable without cgo.
type Codec struct{}

func New(int, int) (*Codec, error) { return nil, ErrUnavailable }

func (*Codec) Name() string    { return "opus" }
func (*Codec) SampleRate() int { return 0 }
func (*Codec) Channels() int   { return 0 }

func (*Codec) Decode(decoder.Packets, func([]int16) error) error { return ErrUnavailable }
