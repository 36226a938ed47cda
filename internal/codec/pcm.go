package codec

import (
	"encoding/binary"

	"github.com/rbright/chatterbox/internal/decoder"
)

// PCM passes signed 16-bit little-endian samples through unchanged.
type PCM struct {
	Rate  int
	Chans int
}

func (PCM) Name() string      { return "pcm" }
func (p PCM) SampleRate() int { return p.Rate }
func (p PCM) Channels() int   { return p.Chans }

// Decode converts each packet to samples. An odd trailing byte is carried
// into the next packet.
func (PCM) Decode(src decoder.Packets, emit func([]int16) error) error {
	var carry []byte
	for {
		packet, ok := src.Next()
		if !ok {
			return nil
		}
		if len(carry) > 0 {
			packet = append(carry, packet...)
			carry = nil
		}
		if len(packet)%2 == 1 {
			carry = []byte{packet[len(packet)-1]}
			packet = packet[:len(packet)-1]
		}
		if len(packet) == 0 {
			continue
		}
		if err := emit(BytesToSamples(packet)); err != nil {
			return err
		}
	}
}

// BytesToSamples decodes little-endian s16 bytes.
func BytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}
