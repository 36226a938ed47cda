package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rbright/chatterbox/internal/codec"
	"github.com/rbright/chatterbox/internal/fsm"
	"github.com/rbright/chatterbox/internal/pipeline"
)

type fakeCloud struct {
	srv     *httptest.Server
	conns   chan *websocket.Conn
	headers chan http.Header
	accepts atomic.Int32
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	f := &fakeCloud{
		conns:   make(chan *websocket.Conn, 4),
		headers: make(chan http.Header, 4),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.accepts.Add(1)
		f.headers <- r.Header.Clone()
		f.conns <- conn
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCloud) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeCloud) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return mt, data
}

func readControl(t *testing.T, conn *websocket.Conn) outbound {
	t.Helper()
	mt, data := readFrame(t, conn)
	require.Equal(t, websocket.TextMessage, mt)
	var frame outbound
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func sendText(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

type recordingHandler struct {
	mu     sync.Mutex
	events []string
	audio  [][]byte
	codes  []fsm.ErrorCode
}

func (h *recordingHandler) add(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHandler) OnASR(text string, finish bool) {
	if finish {
		h.add("asr_finish:" + text)
		return
	}
	h.add("asr:" + text)
}

func (h *recordingHandler) OnAnswer(text string) { h.add("answer:" + text) }

func (h *recordingHandler) OnAudio(status pipeline.DownloadStatus, data []byte, format codec.Format) {
	h.mu.Lock()
	h.audio = append(h.audio, append([]byte(nil), data...))
	h.mu.Unlock()
	h.add("audio:" + status.String() + ":" + string(format))
}

func (h *recordingHandler) OnError(code fsm.ErrorCode) {
	h.mu.Lock()
	h.codes = append(h.codes, code)
	h.mu.Unlock()
	h.add("error:" + code.String())
}

func (h *recordingHandler) OnFinish() { h.add("finish") }

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func startChannel(t *testing.T, f *fakeCloud, h Handler) (*Channel, *websocket.Conn) {
	t.Helper()
	ch, err := New(Options{
		URL:           f.url(),
		ProductionID:  "prod-1",
		DeviceID:      "dev-1",
		ReconnectBase: 5 * time.Millisecond,
		ReconnectMax:  20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	ch.SetHandler(h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	conn := f.accept(t)
	require.Eventually(t, ch.Connected, time.Second, 5*time.Millisecond)
	return ch, conn
}

func TestChannelHandshake(t *testing.T) {
	f := newFakeCloud(t)
	ch, conn := startChannel(t, f, &recordingHandler{})

	header := <-f.headers
	require.Equal(t, "prod-1", header.Get(headerProductionID))
	require.Equal(t, "dev-1", header.Get(headerDeviceID))

	hello := readControl(t, conn)
	require.Equal(t, frameHello, hello.Type)
	require.Equal(t, "opus", hello.UploadFormat)
	require.Equal(t, "mp3", hello.SpeakerFormat)
	require.Equal(t, vadCloud, hello.VADType)

	require.Zero(t, ch.Hashcode())
	sendText(t, conn, `{"type":"hello","hashcode":42,"tts_volume_db":-6}`)
	require.Eventually(t, func() bool { return ch.Hashcode() == 42 }, time.Second, 5*time.Millisecond)
	require.InDelta(t, -6.0, ch.TTSVolumeDB(), 1e-9)
}

func TestChannelUploadFrames(t *testing.T) {
	f := newFakeCloud(t)
	ch, conn := startChannel(t, f, &recordingHandler{})
	readControl(t, conn)

	ctx := context.Background()
	require.NoError(t, ch.StartUpload(ctx, "req-1"))
	require.NoError(t, ch.SendAudio(ctx, []byte{1, 2, 3}))
	require.NoError(t, ch.EndUpload(ctx, "req-1"))
	require.NoError(t, ch.RequestTTS(ctx, "音量已设置为 50"))
	require.NoError(t, ch.StopAll(ctx))

	start := readControl(t, conn)
	require.Equal(t, frameUploadStart, start.Type)
	require.Equal(t, "req-1", start.RequestID)

	mt, data := readFrame(t, conn)
	require.Equal(t, websocket.BinaryMessage, mt)
	require.Equal(t, []byte{1, 2, 3}, data)

	end := readControl(t, conn)
	require.Equal(t, frameUploadEnd, end.Type)

	tts := readControl(t, conn)
	require.Equal(t, frameTTS, tts.Type)
	require.Equal(t, "音量已设置为 50", tts.Text)

	require.Equal(t, frameCancel, readControl(t, conn).Type)
}

func TestChannelDeliversInboundDialogue(t *testing.T) {
	f := newFakeCloud(t)
	h := &recordingHandler{}
	_, conn := startChannel(t, f, h)
	readControl(t, conn)

	sendText(t, conn, `{"type":"asr","text":"今天"}`)
	sendText(t, conn, `{"type":"asr","text":"今天天气","finish":true}`)
	sendText(t, conn, `{"type":"answer","text":"晴"}`)
	sendText(t, conn, `{"type":"audio","status":"start","format":"opus"}`)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{9, 9}))
	sendText(t, conn, `{"type":"audio","status":"end"}`)
	sendText(t, conn, `{"type":"finish"}`)

	want := []string{
		"asr:今天",
		"asr_finish:今天天气",
		"answer:晴",
		"audio:start:opus",
		"audio:processing:opus",
		"audio:end:opus",
		"finish",
	}
	require.Eventually(t, func() bool { return len(h.snapshot()) == len(want) }, time.Second, 5*time.Millisecond)
	require.Equal(t, want, h.snapshot())
}

func TestChannelDropsInvalidFrames(t *testing.T) {
	f := newFakeCloud(t)
	h := &recordingHandler{}
	_, conn := startChannel(t, f, h)
	readControl(t, conn)

	sendText(t, conn, `{"type":"asr"}`)
	sendText(t, conn, `{"type":"bogus"}`)
	sendText(t, conn, `{"type":"error","code":-42}`)
	sendText(t, conn, `not json`)
	sendText(t, conn, `{"type":"error","code":-5}`)

	require.Eventually(t, func() bool { return len(h.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"error:user_exit"}, h.snapshot())
}

func TestChannelReconnectsAndReportsLostDialogue(t *testing.T) {
	f := newFakeCloud(t)
	h := &recordingHandler{}
	ch, conn := startChannel(t, f, h)
	readControl(t, conn)

	require.NoError(t, ch.StartUpload(context.Background(), "req-1"))
	readControl(t, conn)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		events := h.snapshot()
		return len(events) == 1 && events[0] == "error:http_error"
	}, 2*time.Second, 5*time.Millisecond)

	second := f.accept(t)
	require.Equal(t, frameHello, readControl(t, second).Type)
	require.Eventually(t, ch.Connected, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(2), f.accepts.Load())
}

func TestChannelSendWhileDisconnected(t *testing.T) {
	ch, err := New(Options{URL: "ws://127.0.0.1:1/unused"}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, ch.StartUpload(context.Background(), "req"), ErrNotConnected)
	require.ErrorIs(t, ch.SendAudio(context.Background(), []byte{1}), ErrNotConnected)
	require.False(t, ch.Connected())
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Options{URL: "  "}, nil)
	require.Error(t, err)
}

func TestFrameSchema(t *testing.T) {
	schema, err := compileFrameSchema()
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame string
		valid bool
	}{
		{name: "hello", frame: `{"type":"hello","hashcode":7}`, valid: true},
		{name: "hello without hashcode", frame: `{"type":"hello"}`},
		{name: "audio processing", frame: `{"type":"audio","status":"processing","data":"AQI="}`, valid: true},
		{name: "audio bad status", frame: `{"type":"audio","status":"paused"}`},
		{name: "audio bad format", frame: `{"type":"audio","status":"start","format":"wav"}`},
		{name: "error code in range", frame: `{"type":"error","code":-6}`, valid: true},
		{name: "error code positive", frame: `{"type":"error","code":1}`},
		{name: "missing type", frame: `{"text":"hi"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateFrame(schema, []byte(tc.frame))
			if tc.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}
