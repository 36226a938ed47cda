package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventKind is the normalized chip audio status.
type EventKind byte

const (
	EventStart     EventKind = 0x00
	EventRunning   EventKind = 0x01
	EventEnd       EventKind = 0x02
	EventFullFrame EventKind = 0x03
	EventWakeup    EventKind = 0x04
	EventSleep     EventKind = 0x05
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventRunning:
		return "running"
	case EventEnd:
		return "end"
	case EventFullFrame:
		return "full_frame"
	case EventWakeup:
		return "wakeup"
	case EventSleep:
		return "sleep"
	default:
		return fmt.Sprintf("event(%d)", byte(k))
	}
}

// Event is one audio status report. Data ownership passes to the handler.
type Event struct {
	Kind EventKind
	Data []byte
	At   time.Time
}

// Len returns the payload length.
func (e Event) Len() int {
	return len(e.Data)
}

// DecodeEvent extracts an audio event from a CmdAudioEvent frame.
func DecodeEvent(f Frame) (Event, error) {
	if f.Cmd != CmdAudioEvent {
		return Event{}, fmt.Errorf("frame cmd 0x%02x is not an audio event", byte(f.Cmd))
	}
	if len(f.Payload) == 0 {
		return Event{}, errors.New("audio event without status byte")
	}
	kind := EventKind(f.Payload[0])
	if kind > EventSleep {
		return Event{}, fmt.Errorf("unknown audio status 0x%02x", f.Payload[0])
	}
	return Event{Kind: kind, Data: f.Payload[1:]}, nil
}

var (
	// ErrStartupTimeout reports that the chip never announced itself.
	ErrStartupTimeout = errors.New("front-end chip did not start")
	// ErrClosed reports use of an adapter whose port has been closed.
	ErrClosed = errors.New("front-end adapter closed")
)

// Port is the serial link to the chip. WriteEnabled reports the flow-control line.
type Port interface {
	io.ReadWriteCloser
	WriteEnabled() (bool, error)
}

// Options tunes adapter timing.
type Options struct {
	// LongSleepTimeout is the chip silence timeout outside of fast exit.
	LongSleepTimeout time.Duration
	// WritePoll is the interval between flow-control checks.
	WritePoll time.Duration
	// MaxWriteChunk bounds speaker data per frame.
	MaxWriteChunk int
}

// Adapter owns the chip link: it decodes inbound frames into Events and
// serializes outbound configuration and speaker data.
type Adapter struct {
	port   Port
	logger *slog.Logger
	opts   Options
	now    func() time.Time

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handler   func(Event)

	started   chan struct{}
	startOnce sync.Once

	mu         sync.RWMutex
	inWakeup   bool
	lastWakeup time.Time
	version    string
}

// NewAdapter constructs an adapter over port with safe defaults.
func NewAdapter(port Port, logger *slog.Logger, opts Options) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.LongSleepTimeout <= 0 {
		opts.LongSleepTimeout = 30 * time.Second
	}
	if opts.WritePoll <= 0 {
		opts.WritePoll = 5 * time.Millisecond
	}
	if opts.MaxWriteChunk <= 0 || opts.MaxWriteChunk > MaxPayload {
		opts.MaxWriteChunk = 1024
	}
	return &Adapter{
		port:    port,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		started: make(chan struct{}),
	}
}

// OnEvent registers the single event handler. It runs on the read goroutine
// and must not block.
func (a *Adapter) OnEvent(fn func(Event)) {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.handler = fn
}

// Run reads the port until ctx is cancelled or the port fails.
func (a *Adapter) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = a.port.Close()
	}()

	var dec FrameDecoder
	buf := make([]byte, 4096)
	for {
		n, err := a.port.Read(buf)
		if n > 0 {
			result := dec.Feed(buf[:n])
			if result.Dropped > 0 || result.Skipped > 0 {
				a.logger.Warn("malformed chip frames discarded",
					"dropped", result.Dropped,
					"skipped_bytes", result.Skipped,
				)
			}
			for _, frame := range result.Frames {
				a.dispatch(frame)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrClosed
			}
			return fmt.Errorf("read chip port: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (a *Adapter) dispatch(frame Frame) {
	a.startOnce.Do(func() { close(a.started) })

	switch frame.Cmd {
	case CmdAudioEvent:
		event, err := DecodeEvent(frame)
		if err != nil {
			a.logger.Warn("discard chip audio event", "error", err.Error())
			return
		}
		event.At = a.now()
		a.track(event)

		a.handlerMu.RLock()
		handler := a.handler
		a.handlerMu.RUnlock()
		if handler != nil {
			handler(event)
		}
	case CmdVersion:
		a.mu.Lock()
		a.version = string(frame.Payload)
		a.mu.Unlock()
		a.logger.Info("chip version", "version", string(frame.Payload))
	case CmdStartup:
		a.logger.Info("chip startup announced")
	default:
		a.logger.Debug("ignore chip frame", "cmd", int(frame.Cmd), "bytes", len(frame.Payload))
	}
}

func (a *Adapter) track(event Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch event.Kind {
	case EventWakeup:
		a.inWakeup = true
		a.lastWakeup = event.At
	case EventSleep:
		a.inWakeup = false
	}
}

// Started reports whether a valid frame has ever arrived.
func (a *Adapter) Started() bool {
	select {
	case <-a.started:
		return true
	default:
		return false
	}
}

// WaitStartup blocks until the first valid frame arrives. Silence past timeout
// is fatal to initialization only.
func (a *Adapter) WaitStartup(ctx context.Context, timeout time.Duration) error {
	if err := a.send(CmdVersion, nil); err != nil {
		return fmt.Errorf("request chip version: %w", err)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-a.started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer:
		return fmt.Errorf("%w after %s", ErrStartupTimeout, timeout)
	}
}

// Version returns the last version string reported by the chip.
func (a *Adapter) Version() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// InWakeup reports whether the chip is between Wakeup and Sleep.
func (a *Adapter) InWakeup() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.inWakeup
}

// WakeupKeep returns time elapsed since the last Wakeup, or zero when none was seen.
func (a *Adapter) WakeupKeep() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.lastWakeup.IsZero() {
		return 0
	}
	return a.now().Sub(a.lastWakeup)
}

// Configure sends the microphone or speaker stream configuration.
func (a *Adapter) Configure(dir Direction, cfg StreamConfig) error {
	payload, err := cfg.encode(dir)
	if err != nil {
		return fmt.Errorf("encode stream config: %w", err)
	}
	cmd := CmdMicConfig
	if dir == DirectionSpeaker {
		cmd = CmdSpeakerConfig
	}
	return a.send(cmd, payload)
}

// SetOfflineConfig sends one validated offline voice setting.
func (a *Adapter) SetOfflineConfig(key OfflineKey, value uint32) error {
	if err := validateOffline(key, value); err != nil {
		return err
	}
	return a.send(CmdOfflineConfig, encodeOffline(key, value))
}

// SetSleepTimeout sets the chip silence timeout, rounded up to whole seconds.
func (a *Adapter) SetSleepTimeout(d time.Duration) error {
	return a.SetOfflineConfig(OfflineSilenceTimeout, ceilSeconds(d))
}

// SetMaxPickup bounds one continuous pickup.
func (a *Adapter) SetMaxPickup(d time.Duration) error {
	return a.SetOfflineConfig(OfflineMaxPickupTime, ceilSeconds(d))
}

// ExitChatMode shortens the silence timeout to one second on fast exit and
// restores the long timeout otherwise.
func (a *Adapter) ExitChatMode(fast bool) error {
	if fast {
		return a.SetSleepTimeout(time.Second)
	}
	return a.SetSleepTimeout(a.opts.LongSleepTimeout)
}

// IntoWakeup tells the chip the device woke without a wake word.
func (a *Adapter) IntoWakeup() error {
	return a.SetOfflineConfig(OfflineWakeupSwitch, 1)
}

// IntoSleep tells the chip the session timed out.
func (a *Adapter) IntoSleep() error {
	return a.SetOfflineConfig(OfflineTimeoutSwitch, 1)
}

// SetVolume sets the chip speaker volume.
func (a *Adapter) SetVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("volume %d out of range 0-100", volume)
	}
	return a.send(CmdVolume, []byte{byte(volume)})
}

// NotifyPlayStatus tells the chip whether the host is playing audio.
func (a *Adapter) NotifyPlayStatus(playing bool) error {
	var status byte
	if playing {
		status = 1
	}
	return a.send(CmdPlayStatus, []byte{status})
}

// Write pushes speaker audio to the chip, waiting on the flow-control line
// before every chunk. Data is never dropped; ctx bounds the wait.
func (a *Adapter) Write(ctx context.Context, data []byte) error {
	if err := a.send(CmdAudioWriteStart, nil); err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(len(data), a.opts.MaxWriteChunk)
		if err := a.waitWriteEnabled(ctx); err != nil {
			return err
		}
		if err := a.send(CmdAudioData, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return a.send(CmdAudioWriteStop, nil)
}

func (a *Adapter) waitWriteEnabled(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.WritePoll)
	defer ticker.Stop()
	for {
		enabled, err := a.port.WriteEnabled()
		if err != nil {
			return fmt.Errorf("read flow control: %w", err)
		}
		if enabled {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Adapter) send(cmd Cmd, payload []byte) error {
	frame, err := EncodeFrame(cmd, payload)
	if err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := a.port.Write(frame); err != nil {
		return fmt.Errorf("write chip cmd 0x%02x: %w", byte(cmd), err)
	}
	return nil
}

func ceilSeconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32((d + time.Second - 1) / time.Second)
}
