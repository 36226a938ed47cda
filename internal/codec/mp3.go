package codec

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/hajimehoshi/go-mp3"

	"github.com/rbright/chatterbox/internal/decoder"
)

const mp3ReadBytes = 4608

// MP3 decodes an MPEG audio byte stream and downmixes it to mono.
type MP3 struct {
	rate atomic.Int32
}

// NewMP3 returns an MP3 codec reporting fallbackRate until the first frame
// header is parsed.
func NewMP3(fallbackRate int) *MP3 {
	m := &MP3{}
	m.rate.Store(int32(fallbackRate))
	return m
}

func (*MP3) Name() string { return "mp3" }

// SampleRate is accurate once Decode has emitted its first block.
func (m *MP3) SampleRate() int { return int(m.rate.Load()) }

func (*MP3) Channels() int { return 1 }

func (m *MP3) Decode(src decoder.Packets, emit func([]int16) error) error {
	dec, err := mp3.NewDecoder(decoder.PacketReader(src))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read mp3 header: %w", err)
	}
	m.rate.Store(int32(dec.SampleRate()))

	buf := make([]byte, mp3ReadBytes)
	var carry []byte
	for {
		n, readErr := dec.Read(buf)
		if n > 0 {
			frames := append(carry, buf[:n]...)
			usable := len(frames) - len(frames)%4
			carry = append([]byte(nil), frames[usable:]...)
			if usable > 0 {
				if err := emit(downmixStereo(frames[:usable])); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("decode mp3: %w", readErr)
		}
	}
}

// downmixStereo averages interleaved s16le stereo frames into mono samples.
func downmixStereo(b []byte) []int16 {
	samples := BytesToSamples(b)
	out := make([]int16, len(samples)/2)
	for i := range out {
		out[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
	}
	return out
}
