// Package player runs one playback at a time: local prompt files, synthesized
// cues, and streamed cloud audio, each through a buffered decoder.
package player

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbright/chatterbox/internal/codec"
	"github.com/rbright/chatterbox/internal/decoder"
)

const (
	fileChunkBytes      = 1024
	defaultFeedTimeout  = 100 * time.Millisecond
	defaultRunningWait  = time.Second
	maxFeedAttempts     = 20
	defaultStreamRate   = 16000
	defaultStreamBuffer = 5
)

var (
	// ErrNotRunning reports that a previous playback did not stop in time for
	// a new one to start.
	ErrNotRunning = errors.New("playback did not reach running state")
	// ErrStaleStream reports a write to a stream that was replaced or stopped.
	ErrStaleStream = errors.New("stream is no longer active")
	// ErrBackpressure reports that the decoder ring stayed full.
	ErrBackpressure = errors.New("decoder ring stayed full")
)

// Stream is one open output device stream.
type Stream interface {
	Write(pcm []int16) error
	Drain() error
	Stop()
}

// Opener opens an output stream for PCM of the given shape.
type Opener func(sampleRate, channels int) (Stream, error)

// StreamID identifies one OpenStream call.
type StreamID uint64

// Options tunes streaming playback.
type Options struct {
	RingBytes     int
	BufferPackets int
	FeedTimeout   time.Duration
	RunningWait   time.Duration
	SampleRate    int
}

// Player owns the single active playback.
type Player struct {
	open   Opener
	logger *slog.Logger
	opts   Options

	startMu sync.Mutex

	mu     sync.Mutex
	cur    *playback
	failed *playback
	nextID StreamID
}

type playback struct {
	id   StreamID
	dec  *decoder.Decoder
	sink *lazySink
	done chan struct{}
}

// New builds a Player writing to streams created by open.
func New(open Opener, logger *slog.Logger, opts Options) *Player {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.FeedTimeout <= 0 {
		opts.FeedTimeout = defaultFeedTimeout
	}
	if opts.RunningWait <= 0 {
		opts.RunningWait = defaultRunningWait
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaultStreamRate
	}
	if opts.BufferPackets < 0 {
		opts.BufferPackets = defaultStreamBuffer
	}
	return &Player{open: open, logger: logger, opts: opts}
}

// PlayFile starts playing a local prompt file, replacing any current playback.
func (p *Player) PlayFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open prompt %q: %w", path, err)
	}

	format := codec.FormatMP3
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcm", ".raw":
		format = codec.FormatPCM
	}
	c, err := codec.New(format, codec.Options{SampleRate: p.opts.SampleRate})
	if err != nil {
		_ = f.Close()
		return err
	}

	pb, err := p.start(c, 0)
	if err != nil {
		_ = f.Close()
		return err
	}
	p.logger.Debug("play file", "path", path, "stream", uint64(pb.id))
	go func() {
		defer f.Close()
		p.feedReader(pb, f)
	}()
	return nil
}

// PlayPCM plays mono samples at sampleRate.
func (p *Player) PlayPCM(samples []int16, sampleRate int) error {
	pb, err := p.start(codec.PCM{Rate: sampleRate, Chans: 1}, 0)
	if err != nil {
		return err
	}
	raw := make([]byte, 2*len(samples))
	for i, s := range samples {
		raw[2*i] = byte(s)
		raw[2*i+1] = byte(uint16(s) >> 8)
	}
	go p.feedReader(pb, bytes.NewReader(raw))
	return nil
}

// OpenStream starts a buffered stream for incoming audio of format. It waits
// at most RunningWait for the previous playback to release the output.
func (p *Player) OpenStream(format codec.Format) (StreamID, error) {
	c, err := codec.New(format, codec.Options{SampleRate: p.opts.SampleRate})
	if err != nil {
		return 0, err
	}
	pb, err := p.start(c, p.opts.BufferPackets)
	if err != nil {
		return 0, err
	}
	return pb.id, nil
}

// WriteStream feeds one compressed chunk into stream id, retrying short
// writes until the ring accepts it.
func (p *Player) WriteStream(id StreamID, data []byte) error {
	for range maxFeedAttempts {
		pb := p.lookup(id)
		if pb == nil {
			return p.staleErr(id)
		}
		n, err := pb.dec.Feed(data, p.opts.FeedTimeout)
		if err != nil {
			if derr := pb.dec.Err(); derr != nil {
				return derr
			}
			if errors.Is(err, decoder.ErrStopped) {
				return ErrStaleStream
			}
			return err
		}
		if n > 0 {
			return nil
		}
	}
	return ErrBackpressure
}

// FinishStream marks end of input; buffered audio keeps playing.
func (p *Player) FinishStream(id StreamID) {
	if pb := p.lookup(id); pb != nil {
		pb.dec.MarkInputDone()
	}
}

// Stop halts the current playback and discards anything still buffered.
func (p *Player) Stop() bool {
	p.mu.Lock()
	pb := p.cur
	p.cur = nil
	p.mu.Unlock()
	if pb == nil {
		return true
	}
	return p.halt(pb)
}

// WaitIdle blocks until nothing is playing or timeout elapses.
func (p *Player) WaitIdle(timeout time.Duration) bool {
	p.mu.Lock()
	pb := p.cur
	p.mu.Unlock()
	if pb == nil {
		return true
	}
	return waitClosed(pb.done, timeout)
}

// Playing reports whether a playback is active.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil
}

// SetGain applies a software gain percent to the active decoder. Without an
// active decoder it has no effect.
func (p *Player) SetGain(percent int) {
	p.mu.Lock()
	pb := p.cur
	p.mu.Unlock()
	if pb != nil {
		pb.dec.SetGain(percent)
	}
}

// Gain returns the active decoder gain, or unity when nothing is playing.
func (p *Player) Gain() int {
	p.mu.Lock()
	pb := p.cur
	p.mu.Unlock()
	if pb == nil {
		return decoder.UnityGain
	}
	return pb.dec.Gain()
}

func (p *Player) start(c decoder.Codec, bufferPackets int) (*playback, error) {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	p.mu.Lock()
	prev := p.cur
	p.cur = nil
	p.mu.Unlock()
	if prev != nil && !p.halt(prev) {
		return nil, ErrNotRunning
	}

	sink := &lazySink{open: p.open, codec: c}
	dec := decoder.New(c, sink, p.logger, decoder.Options{
		RingBytes:     p.opts.RingBytes,
		BufferPackets: bufferPackets,
	})

	p.mu.Lock()
	p.nextID++
	pb := &playback{id: p.nextID, dec: dec, sink: sink, done: make(chan struct{})}
	p.cur = pb
	p.mu.Unlock()

	go p.finish(pb)
	return pb, nil
}

func (p *Player) finish(pb *playback) {
	<-pb.dec.Done()
	if err := pb.dec.Err(); err != nil {
		pb.sink.stop()
	} else if err := pb.sink.drain(); err != nil {
		p.logger.Warn("drain playback failed", "stream", uint64(pb.id), "error", err.Error())
	}

	p.mu.Lock()
	if p.cur == pb {
		p.cur = nil
	}
	if pb.dec.Err() != nil {
		p.failed = pb
	}
	p.mu.Unlock()
	close(pb.done)
}

func (p *Player) halt(pb *playback) bool {
	pb.sink.stop()
	pb.dec.Stop(p.opts.RunningWait)
	return waitClosed(pb.done, p.opts.RunningWait)
}

func (p *Player) lookup(id StreamID) *playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil || p.cur.id != id {
		return nil
	}
	return p.cur
}

// staleErr reports why id is no longer writable: its decode failure if it
// failed, else ErrStaleStream.
func (p *Player) staleErr(id StreamID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed != nil && p.failed.id == id {
		return p.failed.dec.Err()
	}
	return ErrStaleStream
}

func (p *Player) feedReader(pb *playback, r io.Reader) {
	defer pb.dec.MarkInputDone()

	buf := make([]byte, fileChunkBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for {
				accepted, ferr := pb.dec.Feed(chunk, p.opts.FeedTimeout)
				if ferr != nil {
					return
				}
				if accepted > 0 {
					break
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Warn("read prompt failed", "stream", uint64(pb.id), "error", err.Error())
			}
			return
		}
	}
}

func waitClosed(ch <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

// lazySink opens the output on the first PCM block, once the codec knows the
// real stream shape.
type lazySink struct {
	open  Opener
	codec decoder.Codec

	mu      sync.Mutex
	stream  Stream
	stopped bool
}

func (s *lazySink) Write(pcm []int16) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.stream == nil {
		stream, err := s.open(s.codec.SampleRate(), s.codec.Channels())
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("open output: %w", err)
		}
		s.stream = stream
	}
	stream := s.stream
	s.mu.Unlock()

	if err := stream.Write(pcm); err != nil {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return nil
		}
		return err
	}
	return nil
}

func (s *lazySink) drain() error {
	s.mu.Lock()
	stream, stopped := s.stream, s.stopped
	s.mu.Unlock()
	if stream == nil || stopped {
		return nil
	}
	return stream.Drain()
}

func (s *lazySink) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		stream.Stop()
	}
}
