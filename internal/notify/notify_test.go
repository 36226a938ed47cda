package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/chatterbox/internal/player"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	mu      sync.Mutex
	files   []string
	cues    []player.Cue
	fileErr error
}

func (p *fakePlayer) PlayFile(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = append(p.files, path)
	return p.fileErr
}

func (p *fakePlayer) PlayCue(cue player.Cue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cues = append(p.cues, cue)
	return nil
}

func (p *fakePlayer) snapshot() ([]string, []player.Cue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.files...), append([]player.Cue(nil), p.cues...)
}

type fakeTTS struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeTTS) RequestTTS(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

type fakeChannel struct {
	connected atomic.Bool
	hashcode  atomic.Int64
}

func (c *fakeChannel) Connected() bool { return c.connected.Load() }
func (c *fakeChannel) Hashcode() int64 { return c.hashcode.Load() }

type fakeDownloader struct {
	mu    sync.Mutex
	texts []string
	fail  map[string]bool
}

func (d *fakeDownloader) SynthesizeToFile(_ context.Context, text, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, text)
	if d.fail[text] {
		return errors.New("synthesis unavailable")
	}
	return os.WriteFile(path, []byte("mp3:"+text), 0o600)
}

func (d *fakeDownloader) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.texts)
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o600))
	return path
}

func fastFill() FillOptions {
	return FillOptions{Poll: time.Millisecond, Backoff: 5 * time.Millisecond, ConnectPoll: time.Millisecond}
}

func TestKindNames(t *testing.T) {
	require.Equal(t, "chat_wakeup_vc2", ChatWakeupVC2.String())
	k, err := ParseKind("wifi_server_error")
	require.NoError(t, err)
	require.Equal(t, WifiServerError, k)
	_, err = ParseKind("nope")
	require.Error(t, err)
	require.Equal(t, "kind(99)", Kind(99).String())
}

func TestDeleteMatchingUsesNamePrefix(t *testing.T) {
	dir := t.TempDir()
	keep := writeFile(t, dir, "wakeup@42.mp3")
	writeFile(t, dir, "wakeup@7.mp3")
	writeFile(t, dir, "wakeup.mp3")
	writeFile(t, dir, "wakeup1@42.mp3")
	writeFile(t, dir, "chat_exit@42.mp3")

	n, err := DeleteMatching(dir, "wakeup", keep)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.FileExists(t, keep)
	require.FileExists(t, filepath.Join(dir, "wakeup1@42.mp3"))
	require.FileExists(t, filepath.Join(dir, "chat_exit@42.mp3"))
	require.NoFileExists(t, filepath.Join(dir, "wakeup@7.mp3"))
	require.NoFileExists(t, filepath.Join(dir, "wakeup.mp3"))
}

func TestFindPrefix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "open_start_b.mp3")
	writeFile(t, dir, "open_start_a.mp3")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "open_start_dir"), 0o700))

	path, ok, err := FindPrefix(dir, "open_start")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "open_start_a.mp3"), path)

	_, ok, err = FindPrefix(dir, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = FindPrefix(filepath.Join(dir, "absent"), "x")
	require.Error(t, err)
}

func TestResolveBeforeFill(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, nil, &fakePlayer{}, &fakeTTS{}, nil)

	tests := []struct {
		kind Kind
		want Resolution
	}{
		{kind: WifiConnect, want: Resolution{Source: SourceCanned, Path: filepath.Join(dir, "wifi_connect.mp3")}},
		{kind: ChatWakeup, want: Resolution{Source: SourceNetwork, Text: "你好呀"}},
		{kind: Startup, want: Resolution{Source: SourceCue}},
		{kind: Close, want: Resolution{Source: SourceNone}},
	}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			got, err := m.Resolve(tc.kind)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := m.Resolve(MatchVolumeSet)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestPlayFallsBackToErrorCue(t *testing.T) {
	p := &fakePlayer{fileErr: errors.New("decoder busy")}
	tts := &fakeTTS{err: errors.New("offline")}
	m := New(t.TempDir(), nil, p, tts, nil)

	require.NoError(t, m.Play(context.Background(), WifiConnect))
	require.NoError(t, m.Play(context.Background(), ChatExit))
	require.NoError(t, m.Play(context.Background(), Startup))
	require.NoError(t, m.Play(context.Background(), Close))

	files, cues := p.snapshot()
	require.Len(t, files, 1)
	require.Equal(t, []player.Cue{player.CueError, player.CueError, player.CueError}, cues)
	require.Equal(t, []string{"和你聊天很开心, 下次见"}, tts.texts)
}

func TestFillDownloadsMissingEntries(t *testing.T) {
	dir := t.TempDir()
	local := writeFile(t, dir, "open_start.mp3")
	writeFile(t, dir, "wakeup@1.mp3")

	table := []Entry{
		{Kind: Startup, Path: "open_start", Enabled: true, Policy: PolicyFromFile, Text: "hello"},
		{Kind: ChatWakeup, Path: "wakeup", Enabled: true, Policy: PolicyFromNetwork, Text: "hi"},
		{Kind: WifiConnect, Path: "wifi_connect", Enabled: true, Policy: PolicyDisabled, Text: "ok"},
		{Kind: Close, Path: "close", Enabled: false, Policy: PolicyFromNetwork, Text: "bye"},
	}
	p := &fakePlayer{}
	m := New(dir, table, p, &fakeTTS{}, nil)

	ch := &fakeChannel{}
	dl := &fakeDownloader{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Fill(ctx, ch, dl, fastFill()) }()

	require.Eventually(t, func() bool {
		res, err := m.Resolve(Startup)
		return err == nil && res.Source == SourceTemp
	}, time.Second, time.Millisecond)
	res, err := m.Resolve(Startup)
	require.NoError(t, err)
	require.Equal(t, local, res.Path)

	require.NoError(t, m.Play(context.Background(), Startup))
	files, _ := p.snapshot()
	require.Equal(t, []string{local}, files)

	ch.hashcode.Store(1)
	ch.connected.Store(true)

	require.Eventually(t, func() bool {
		return m.Cached(Startup) && m.Cached(ChatWakeup)
	}, time.Second, time.Millisecond)

	res, err = m.Resolve(Startup)
	require.NoError(t, err)
	require.Equal(t, Resolution{Source: SourceCached, Path: filepath.Join(dir, "open_start@1.mp3")}, res)
	require.NoFileExists(t, local)
	require.NoFileExists(t, filepath.Join(dir, "temp.mp3"))

	require.Equal(t, 1, dl.count())
	require.False(t, m.Cached(WifiConnect))
	require.False(t, m.Cached(Close))
	require.Equal(t, int64(1), m.Hashcode())

	cancel()
	require.NoError(t, <-done)
}

func TestFillRefreshesOnHashcodeChange(t *testing.T) {
	dir := t.TempDir()
	table := []Entry{{Kind: ChatExit, Path: "chat_exit", Enabled: true, Policy: PolicyFromNetwork, Text: "bye"}}
	m := New(dir, table, &fakePlayer{}, &fakeTTS{}, nil)

	ch := &fakeChannel{}
	ch.connected.Store(true)
	ch.hashcode.Store(10)
	dl := &fakeDownloader{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Fill(ctx, ch, dl, fastFill()) }()

	require.Eventually(t, func() bool { return m.Cached(ChatExit) }, time.Second, time.Millisecond)
	require.FileExists(t, filepath.Join(dir, "chat_exit@10.mp3"))

	ch.hashcode.Store(11)
	require.Eventually(t, func() bool {
		return m.Hashcode() == 11 && m.Cached(ChatExit)
	}, time.Second, time.Millisecond)
	require.FileExists(t, filepath.Join(dir, "chat_exit@11.mp3"))
	require.NoFileExists(t, filepath.Join(dir, "chat_exit@10.mp3"))

	cancel()
	require.NoError(t, <-done)
}

func TestFillBacksOffOnFailure(t *testing.T) {
	dir := t.TempDir()
	table := []Entry{{Kind: ChatExit, Path: "chat_exit", Enabled: true, Policy: PolicyFromNetwork, Text: "bye"}}
	m := New(dir, table, &fakePlayer{}, &fakeTTS{}, nil)

	ch := &fakeChannel{}
	ch.connected.Store(true)
	ch.hashcode.Store(3)
	dl := &fakeDownloader{fail: map[string]bool{"bye": true}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Fill(ctx, ch, dl, fastFill()) }()

	require.Eventually(t, func() bool { return dl.count() >= 2 }, time.Second, time.Millisecond)
	require.False(t, m.Cached(ChatExit))
	require.NoFileExists(t, filepath.Join(dir, "temp.mp3"))

	cancel()
	require.NoError(t, <-done)
}

func TestFillStopsWhileWaitingForHashcode(t *testing.T) {
	m := New(t.TempDir(), nil, &fakePlayer{}, &fakeTTS{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Fill(ctx, &fakeChannel{}, &fakeDownloader{}, fastFill()))
}
