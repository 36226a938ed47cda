// Package frontend drives the speech front-end chip over its serial link.
package frontend

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout: [0x55][0xAA][0x00][0x92][len_hi][len_lo][cmd][payload...][checksum].
// len counts cmd plus payload; checksum is the low byte of the sum of every preceding byte.
const (
	headerLen   = 6
	frameMinLen = 8

	// MaxPayload bounds one frame payload.
	MaxPayload = 61 * 1024
)

var frameMagic = [4]byte{0x55, 0xAA, 0x00, 0x92}

// Cmd identifies one chip command.
type Cmd byte

// Only CmdAudioEvent is fixed by the chip firmware; the remaining codes are
// owned by this table.
const (
	CmdVersion         Cmd = 0x01
	CmdStartup         Cmd = 0x02
	CmdMicConfig       Cmd = 0x03
	CmdSpeakerConfig   Cmd = 0x04
	CmdAudioEvent      Cmd = 0x05
	CmdOfflineConfig   Cmd = 0x06
	CmdAudioWriteStart Cmd = 0x07
	CmdAudioWriteStop  Cmd = 0x08
	CmdAudioData       Cmd = 0x09
	CmdPlayStatus      Cmd = 0x0A
	CmdVolume          Cmd = 0x0B
)

// ErrPayloadTooLarge reports a frame that cannot be encoded.
var ErrPayloadTooLarge = errors.New("frame payload too large")

// Frame is one decoded command with its payload.
type Frame struct {
	Cmd     Cmd
	Payload []byte
}

// EncodeFrame builds the wire form of one command.
func EncodeFrame(cmd Cmd, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	out := make([]byte, 0, frameMinLen+len(payload))
	out = append(out, frameMagic[:]...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)+1))
	out = append(out, byte(cmd))
	out = append(out, payload...)
	out = append(out, checksum(out))
	return out, nil
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// FeedResult is the outcome of one FrameDecoder.Feed call.
type FeedResult struct {
	Frames  []Frame
	Dropped int // frames discarded for bad length or checksum
	Skipped int // bytes discarded while resynchronizing on the header
}

// FrameDecoder reassembles frames from an arbitrary byte stream.
type FrameDecoder struct {
	buf []byte
}

// Feed appends chunk and returns every complete frame now available.
func (d *FrameDecoder) Feed(chunk []byte) FeedResult {
	d.buf = append(d.buf, chunk...)

	var result FeedResult
	for len(d.buf) >= frameMinLen {
		if !hasMagic(d.buf) {
			d.buf = d.buf[1:]
			result.Skipped++
			continue
		}

		n := int(binary.BigEndian.Uint16(d.buf[4:headerLen]))
		if n == 0 || n-1 > MaxPayload {
			d.buf = d.buf[1:]
			result.Dropped++
			continue
		}

		total := frameMinLen + n - 1
		if len(d.buf) < total {
			break
		}

		raw := d.buf[:total]
		if checksum(raw[:total-1]) != raw[total-1] {
			d.buf = d.buf[total:]
			result.Dropped++
			continue
		}

		payload := make([]byte, n-1)
		copy(payload, raw[headerLen+1:total-1])
		result.Frames = append(result.Frames, Frame{Cmd: Cmd(raw[headerLen]), Payload: payload})
		d.buf = d.buf[total:]
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return result
}

// Buffered reports bytes held while waiting for the rest of a frame.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

func hasMagic(b []byte) bool {
	return b[0] == frameMagic[0] && b[1] == frameMagic[1] && b[2] == frameMagic[2] && b[3] == frameMagic[3]
}
