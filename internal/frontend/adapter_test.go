package frontend

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePort struct {
	reads chan []byte
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	written []byte

	enabled atomic.Bool
	polls   atomic.Int32
}

func newFakePort() *fakePort {
	p := &fakePort{reads: make(chan []byte, 16), done: make(chan struct{})}
	p.enabled.Store(true)
	return p
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.reads:
		return copy(b, chunk), nil
	case <-p.done:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakePort) WriteEnabled() (bool, error) {
	p.polls.Add(1)
	return p.enabled.Load(), nil
}

func (p *fakePort) frames(t *testing.T) []Frame {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var dec FrameDecoder
	result := dec.Feed(append([]byte(nil), p.written...))
	require.Zero(t, result.Dropped)
	return result.Frames
}

func mustFrame(t *testing.T, cmd Cmd, payload ...byte) []byte {
	t.Helper()
	frame, err := EncodeFrame(cmd, payload)
	require.NoError(t, err)
	return frame
}

func TestAdapterDeliversEventsInOrder(t *testing.T) {
	port := newFakePort()
	adapter := NewAdapter(port, nil, Options{})

	var mu sync.Mutex
	var got []Event
	adapter.OnEvent(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- adapter.Run(ctx) }()

	port.reads <- mustFrame(t, CmdAudioEvent, byte(EventWakeup))
	port.reads <- append([]byte{0xDE, 0xAD}, mustFrame(t, CmdAudioEvent, byte(EventStart))...)
	port.reads <- mustFrame(t, CmdAudioEvent, byte(EventRunning), 1, 2, 3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, EventWakeup, got[0].Kind)
	require.Equal(t, EventStart, got[1].Kind)
	require.Equal(t, EventRunning, got[2].Kind)
	require.Equal(t, []byte{1, 2, 3}, got[2].Data)
	mu.Unlock()
	require.True(t, adapter.InWakeup())

	port.reads <- mustFrame(t, CmdAudioEvent, byte(EventSleep))
	require.Eventually(t, func() bool { return !adapter.InWakeup() }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-runDone)
}

func TestAdapterWaitStartup(t *testing.T) {
	port := newFakePort()
	adapter := NewAdapter(port, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = adapter.Run(ctx) }()
	require.False(t, adapter.Started())

	port.reads <- mustFrame(t, CmdVersion, []byte("gx-1.2")...)
	require.NoError(t, adapter.WaitStartup(ctx, time.Second))
	require.True(t, adapter.Started())
	require.Eventually(t, func() bool { return adapter.Version() == "gx-1.2" }, time.Second, 5*time.Millisecond)

	frames := port.frames(t)
	require.NotEmpty(t, frames)
	require.Equal(t, CmdVersion, frames[0].Cmd)
}

func TestAdapterWaitStartupTimeout(t *testing.T) {
	adapter := NewAdapter(newFakePort(), nil, Options{})
	err := adapter.WaitStartup(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrStartupTimeout)
}

func TestAdapterWriteWaitsForFlowControl(t *testing.T) {
	port := newFakePort()
	port.enabled.Store(false)
	adapter := NewAdapter(port, nil, Options{WritePoll: time.Millisecond, MaxWriteChunk: 4})

	done := make(chan error, 1)
	go func() { done <- adapter.Write(context.Background(), []byte("abcdefghij")) }()

	require.Eventually(t, func() bool { return port.polls.Load() > 3 }, time.Second, time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("write returned before flow control enabled: %v", err)
	default:
	}

	port.enabled.Store(true)
	require.NoError(t, <-done)

	frames := port.frames(t)
	require.Len(t, frames, 5)
	require.Equal(t, CmdAudioWriteStart, frames[0].Cmd)
	require.Equal(t, []byte("abcd"), frames[1].Payload)
	require.Equal(t, []byte("efgh"), frames[2].Payload)
	require.Equal(t, []byte("ij"), frames[3].Payload)
	require.Equal(t, CmdAudioWriteStop, frames[4].Cmd)
}

func TestAdapterWriteHonoursContext(t *testing.T) {
	port := newFakePort()
	port.enabled.Store(false)
	adapter := NewAdapter(port, nil, Options{WritePoll: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, adapter.Write(ctx, []byte("x")), context.DeadlineExceeded)
}

func TestAdapterExitChatMode(t *testing.T) {
	port := newFakePort()
	adapter := NewAdapter(port, nil, Options{LongSleepTimeout: 30 * time.Second})

	require.NoError(t, adapter.ExitChatMode(true))
	require.NoError(t, adapter.ExitChatMode(false))
	require.Error(t, adapter.SetOfflineConfig(OfflineVADSensitivity, 200))

	frames := port.frames(t)
	require.Len(t, frames, 2)
	require.Equal(t, []byte{byte(OfflineSilenceTimeout), 1}, frames[0].Payload)
	require.Equal(t, []byte{byte(OfflineSilenceTimeout), 30}, frames[1].Payload)
}

func TestAdapterWakeupKeep(t *testing.T) {
	adapter := NewAdapter(newFakePort(), nil, Options{})
	require.Zero(t, adapter.WakeupKeep())

	base := time.Unix(1000, 0)
	adapter.now = func() time.Time { return base.Add(700 * time.Millisecond) }
	adapter.track(Event{Kind: EventWakeup, At: base})
	require.Equal(t, 700*time.Millisecond, adapter.WakeupKeep())
}

func TestAdapterRunReturnsClosedOnEOF(t *testing.T) {
	port := newFakePort()
	adapter := NewAdapter(port, nil, Options{})
	_ = port.Close()
	require.ErrorIs(t, adapter.Run(context.Background()), ErrClosed)
	require.False(t, adapter.Started())
}
