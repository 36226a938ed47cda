// Package decoder buffers compressed audio packets and plays them through a
// codec with software gain once enough packets have arrived to mask jitter.
package decoder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// UnityGain is the gain percent that leaves samples untouched.
	UnityGain = 100

	defaultRingBytes = 64 * 1024
)

var (
	// ErrStopped reports a feed into a stopped decoder.
	ErrStopped = errors.New("decoder stopped")
	// ErrInputDone reports a feed after MarkInputDone.
	ErrInputDone = errors.New("decoder input already marked done")
	// ErrPacketTooLarge reports a packet that can never fit the ring.
	ErrPacketTooLarge = errors.New("packet larger than decoder ring")
)

// Packets yields compressed packets in arrival order. Next blocks until a
// packet may be played and reports false once the stream is over.
type Packets interface {
	Next() ([]byte, bool)
}

// Codec turns a packet stream into PCM.
type Codec interface {
	Name() string
	SampleRate() int
	Channels() int
	// Decode pulls from src until it is exhausted, handing each PCM block to emit.
	Decode(src Packets, emit func(pcm []int16) error) error
}

// Sink consumes decoded PCM.
type Sink interface {
	Write(pcm []int16) error
}

// Options configures one Decoder.
type Options struct {
	// RingBytes bounds buffered compressed bytes.
	RingBytes int
	// BufferPackets is the packet count required before playback starts; 0 disables buffering.
	BufferPackets int
	// Gain is the initial software gain percent; 0 means unity.
	Gain int
}

// Decoder owns one playback stream.
type Decoder struct {
	codec  Codec
	sink   Sink
	logger *slog.Logger

	ring *ring
	gain atomic.Int32

	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// New starts a decoder goroutine feeding sink through codec.
func New(codec Codec, sink Sink, logger *slog.Logger, opts Options) *Decoder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.RingBytes <= 0 {
		opts.RingBytes = defaultRingBytes
	}
	if opts.BufferPackets < 0 {
		opts.BufferPackets = 0
	}
	if opts.Gain <= 0 {
		opts.Gain = UnityGain
	}

	d := &Decoder{
		codec:  codec,
		sink:   sink,
		logger: logger,
		ring:   newRing(opts.RingBytes, opts.BufferPackets),
		done:   make(chan struct{}),
	}
	d.gain.Store(int32(opts.Gain))
	go d.run()
	return d
}

func (d *Decoder) run() {
	defer close(d.done)

	err := d.codec.Decode(d.ring, func(pcm []int16) error {
		ApplyGain(pcm, int(d.gain.Load()))
		return d.sink.Write(pcm)
	})
	if err != nil && !errors.Is(err, io.EOF) {
		d.mu.Lock()
		d.err = fmt.Errorf("%s decode: %w", d.codec.Name(), err)
		d.mu.Unlock()
		d.logger.Error("decoder stream failed", "codec", d.codec.Name(), "error", err.Error())
		d.ring.stop()
	}
}

// Feed enqueues one packet, waiting up to timeout for room. It returns the
// number of bytes accepted; 0 with a nil error is a short write meaning the
// ring stayed full. A packet bigger than the whole ring is ErrPacketTooLarge.
func (d *Decoder) Feed(data []byte, timeout time.Duration) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	select {
	case <-d.done:
		return 0, ErrStopped
	default:
	}
	if len(data) > d.ring.capacity {
		return 0, fmt.Errorf("%w: %d > %d bytes", ErrPacketTooLarge, len(data), d.ring.capacity)
	}

	packet := make([]byte, len(data))
	copy(packet, data)
	if d.ring.push(packet, timeout) {
		return len(data), nil
	}

	d.ring.mu.Lock()
	stopped, inputDone := d.ring.stopped, d.ring.done
	d.ring.mu.Unlock()
	switch {
	case stopped:
		return 0, ErrStopped
	case inputDone:
		return 0, ErrInputDone
	default:
		return 0, nil
	}
}

// MarkInputDone flags end of input; buffered packets drain regardless of threshold.
func (d *Decoder) MarkInputDone() {
	d.ring.markDone()
}

// WaitUntilDone blocks until the stream drains or timeout elapses.
func (d *Decoder) WaitUntilDone(timeout time.Duration) bool {
	if timeout <= 0 {
		<-d.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-d.done:
		return true
	case <-timer.C:
		return false
	}
}

// Stop discards buffered packets and waits up to timeout for the decode loop to exit.
func (d *Decoder) Stop(timeout time.Duration) bool {
	d.stopOnce.Do(d.ring.stop)
	return d.WaitUntilDone(timeout)
}

// Done is closed when the decode loop exits.
func (d *Decoder) Done() <-chan struct{} {
	return d.done
}

// Err returns the decode failure, if any.
func (d *Decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// SetGain sets the software gain percent applied to future PCM blocks.
func (d *Decoder) SetGain(percent int) {
	if percent < 0 {
		percent = 0
	}
	d.gain.Store(int32(percent))
}

// Gain returns the current software gain percent.
func (d *Decoder) Gain() int {
	return int(d.gain.Load())
}

// SetBufferPacketCount changes the playback threshold; 0 disables buffering.
func (d *Decoder) SetBufferPacketCount(n int) {
	if n < 0 {
		n = 0
	}
	d.ring.setThreshold(n)
}

// Stats reports buffered bytes and packets received so far.
func (d *Decoder) Stats() (buffered int, received int) {
	return d.ring.stats()
}

// Next implements Packets over the ring.
func (r *ring) Next() ([]byte, bool) {
	return r.pop()
}

// ApplyGain scales pcm in place by percent, saturating at the int16 range.
func ApplyGain(pcm []int16, percent int) {
	if percent == UnityGain {
		return
	}
	for i, s := range pcm {
		v := int64(s) * int64(percent) / UnityGain
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		pcm[i] = int16(v)
	}
}

// PacketReader adapts Packets to a byte stream for codecs that parse their own framing.
func PacketReader(src Packets) io.Reader {
	return &packetReader{src: src}
}

type packetReader struct {
	src     Packets
	pending []byte
}

func (r *packetReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		packet, ok := r.src.Next()
		if !ok {
			return 0, io.EOF
		}
		r.pending = packet
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
