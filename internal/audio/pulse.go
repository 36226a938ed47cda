// Package audio handles output sink discovery and PCM playback streams.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/rbright/chatterbox/internal/decoder"
)

const (
	applicationName = "chatterbox"
	iconName        = "audio-speakers"

	// MaxVolume is the ceiling of the device volume scale.
	MaxVolume = 100

	playbackLatencySeconds = 0.05
	blockQueueDepth        = 32
)

// ErrPlaybackClosed reports a write into a finished playback stream.
var ErrPlaybackClosed = errors.New("playback stream closed")

// Device describes one Pulse output sink.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved sink plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(applicationName),
		pulse.ClientApplicationIconName(iconName),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListSinks returns Pulse output sinks with default/availability metadata.
func ListSinks(_ context.Context) ([]Device, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return listSinks(client)
}

func listSinks(client *pulse.Client) ([]Device, error) {
	defaultSink, err := client.DefaultSink()
	if err != nil {
		return nil, fmt.Errorf("read default sink: %w", err)
	}
	defaultID := defaultSink.ID()

	var infos pulseproto.GetSinkInfoListReply
	if err := client.RawRequest(&pulseproto.GetSinkInfoList{}, &infos); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SinkName,
			Description: info.Device,
			State:       sinkStateString(info.State),
			Available:   sinkAvailable(info),
			Muted:       info.Mute,
			Default:     info.SinkName == defaultID,
		})
	}
	return devices, nil
}

// SelectSink resolves the configured sink name against live sinks.
func SelectSink(ctx context.Context, preferred string) (Selection, error) {
	devices, err := ListSinks(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectSink(devices, preferred)
}

// selectSink prefers a sink whose id or description contains preferred and
// falls back to the default sink when the preferred one is muted or gone.
func selectSink(devices []Device, preferred string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio output sinks found")
	}

	preferred = strings.TrimSpace(strings.ToLower(preferred))
	var defaultDevice, match *Device
	for i := range devices {
		dev := &devices[i]
		if dev.Default {
			defaultDevice = dev
		}
		if match == nil && preferred != "" && preferred != "default" && deviceMatches(*dev, preferred) {
			match = dev
		}
	}

	usable := func(d *Device) bool { return d != nil && d.Available && !d.Muted }

	if preferred == "" || preferred == "default" {
		if !usable(defaultDevice) {
			return Selection{}, errors.New("default audio sink is unavailable or muted")
		}
		return Selection{Device: *defaultDevice}, nil
	}
	if usable(match) {
		return Selection{Device: *match}, nil
	}
	if !usable(defaultDevice) {
		return Selection{}, fmt.Errorf("audio sink %q is not usable and the default sink is unavailable", preferred)
	}

	reason := "not found"
	if match != nil {
		reason = "muted"
		if !match.Available {
			reason = "unavailable"
		}
	}
	return Selection{
		Device:   *defaultDevice,
		Warning:  fmt.Sprintf("audio.sink %q is %s; falling back to %q", preferred, reason, defaultDevice.ID),
		Fallback: true,
	}, nil
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// Output owns the Pulse connection and the device volume shared by every
// playback stream.
type Output struct {
	client *pulse.Client
	sink   *pulse.Sink
	volume atomic.Int32
}

// NewOutput connects to Pulse and resolves sinkID; an empty id uses the
// server default.
func NewOutput(sinkID string, volume int) (*Output, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	o := &Output{client: client}
	if id := strings.TrimSpace(sinkID); id != "" && id != "default" {
		sink, err := client.SinkByID(id)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("resolve sink %q: %w", id, err)
		}
		o.sink = sink
	}
	o.SetVolume(volume)
	return o, nil
}

// SetVolume sets the device volume, clamped to 0..MaxVolume.
func (o *Output) SetVolume(v int) {
	o.volume.Store(int32(ClampVolume(v)))
}

// Volume returns the device volume.
func (o *Output) Volume() int {
	return int(o.volume.Load())
}

// Open starts a playback stream for PCM of the given shape.
func (o *Output) Open(sampleRate, channels int, media string) (*Playback, error) {
	p := newPlayback(o.Volume)

	opts := []pulse.PlaybackOption{
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(playbackLatencySeconds),
		pulse.PlaybackMediaName(media),
	}
	if channels == 2 {
		opts = append(opts, pulse.PlaybackStereo)
	} else {
		opts = append(opts, pulse.PlaybackMono)
	}
	if o.sink != nil {
		opts = append(opts, pulse.PlaybackSink(o.sink))
	}

	stream, err := o.client.NewPlayback(pulse.Int16Reader(p.read), opts...)
	if err != nil {
		return nil, fmt.Errorf("create pulse playback stream: %w", err)
	}
	p.stream = stream
	stream.Start()
	return p, nil
}

// Close releases the Pulse connection.
func (o *Output) Close() {
	if o.client != nil {
		o.client.Close()
	}
}

// Playback is one pull-driven Pulse stream fed by Write.
type Playback struct {
	stream *pulse.PlaybackStream
	volume func() int

	blocks    chan []int16
	inputDone chan struct{}
	stopCh    chan struct{}

	inputOnce sync.Once
	stopOnce  sync.Once

	pending []int16
}

func newPlayback(volume func() int) *Playback {
	return &Playback{
		volume:    volume,
		blocks:    make(chan []int16, blockQueueDepth),
		inputDone: make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
}

// Write queues one PCM block, scaled by the device volume. It blocks while
// the queue is full.
func (p *Playback) Write(pcm []int16) error {
	if len(pcm) == 0 {
		return nil
	}
	select {
	case <-p.inputDone:
		return ErrPlaybackClosed
	case <-p.stopCh:
		return ErrPlaybackClosed
	default:
	}

	block := make([]int16, len(pcm))
	copy(block, pcm)
	decoder.ApplyGain(block, p.volume())

	select {
	case <-p.stopCh:
		return ErrPlaybackClosed
	case p.blocks <- block:
		return nil
	}
}

// Drain marks end of input and blocks until Pulse has played every queued
// sample.
func (p *Playback) Drain() error {
	p.inputOnce.Do(func() { close(p.inputDone) })
	if p.stream == nil {
		return nil
	}
	p.stream.Drain()
	if err := p.stream.Error(); err != nil {
		return fmt.Errorf("play stream: %w", err)
	}
	return nil
}

// Stop discards queued audio and halts the stream immediately.
func (p *Playback) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.stream != nil {
		p.stream.Stop()
		p.stream.Close()
	}
}

// read is the Pulse pull callback. It blocks only while buf is still empty.
func (p *Playback) read(buf []int16) (int, error) {
	n := 0
	for n < len(buf) {
		if len(p.pending) == 0 {
			block, ended := p.next(n == 0)
			if block == nil {
				if ended {
					return n, pulse.EndOfData
				}
				return n, nil
			}
			p.pending = block
		}
		c := copy(buf[n:], p.pending)
		p.pending = p.pending[c:]
		n += c
	}
	return n, nil
}

// next returns the next queued block. ended reports that no more blocks
// will arrive.
func (p *Playback) next(wait bool) (block []int16, ended bool) {
	select {
	case <-p.stopCh:
		return nil, true
	case block = <-p.blocks:
		return block, false
	default:
	}

	if !wait {
		select {
		case <-p.inputDone:
			return p.drainOne()
		default:
			return nil, false
		}
	}

	select {
	case <-p.stopCh:
		return nil, true
	case block = <-p.blocks:
		return block, false
	case <-p.inputDone:
		return p.drainOne()
	}
}

func (p *Playback) drainOne() ([]int16, bool) {
	select {
	case block := <-p.blocks:
		return block, false
	default:
		return nil, true
	}
}

// ClampVolume bounds v to 0..MaxVolume.
func ClampVolume(v int) int {
	return min(max(v, 0), MaxVolume)
}

// sinkStateString maps Pulse sink state constants to human-readable values.
func sinkStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sinkAvailable maps Pulse sink port availability to a simple boolean.
func sinkAvailable(sink *pulseproto.GetSinkInfoReply) bool {
	if sink == nil {
		return false
	}
	if len(sink.Ports) == 0 {
		return true
	}
	for _, port := range sink.Ports {
		if port.Name != sink.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
