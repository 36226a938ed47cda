// Package cloud maintains the websocket dialogue channel: microphone upload,
// recognition and answer text, synthesized audio, and dialogue errors.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kaptinlin/jsonschema"
	"github.com/sethvargo/go-retry"

	"github.com/rbright/chatterbox/internal/codec"
	"github.com/rbright/chatterbox/internal/fsm"
	"github.com/rbright/chatterbox/internal/pipeline"
)

const (
	defaultPingInterval     = 20 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultReconnectBase    = 500 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second

	headerProductionID = "X-Production-Id"
	headerDeviceID     = "X-Device-Id"
)

// ErrNotConnected reports a send while the channel is down.
var ErrNotConnected = errors.New("cloud channel not connected")

// Handler receives inbound dialogue events. Calls arrive from the channel's
// read loop, one at a time.
type Handler interface {
	OnASR(text string, finish bool)
	OnAnswer(text string)
	OnAudio(status pipeline.DownloadStatus, data []byte, format codec.Format)
	OnError(code fsm.ErrorCode)
	OnFinish()
}

// Options configures a Channel.
type Options struct {
	URL           string
	ProductionID  string
	DeviceID      string
	UploadFormat  string
	SpeakerFormat string

	PingInterval     time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	ReconnectBase    time.Duration
	ReconnectMax     time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = defaultReconnectBase
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = defaultReconnectMax
	}
	if o.UploadFormat == "" {
		o.UploadFormat = string(codec.FormatOpus)
	}
	if o.SpeakerFormat == "" {
		o.SpeakerFormat = string(codec.FormatMP3)
	}
	return o
}

// Channel is the device end of the dialogue websocket. Run owns the
// connection; the send methods may be called from any goroutine.
type Channel struct {
	opts   Options
	logger *slog.Logger
	schema *jsonschema.Schema
	dialer *websocket.Dialer

	handlerMu sync.RWMutex
	handler   Handler

	writeMu sync.Mutex
	conn    *websocket.Conn

	connected atomic.Bool
	inFlight  atomic.Bool
	hashcode  atomic.Int64
	volumeDB  atomic.Uint64

	// audioFormat is only touched by the read loop.
	audioFormat codec.Format
}

// New validates opts and compiles the inbound frame schema.
func New(opts Options, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("cloud url is required")
	}
	opts = opts.withDefaults()

	schema, err := compileFrameSchema()
	if err != nil {
		return nil, err
	}
	return &Channel{
		opts:        opts,
		logger:      logger,
		schema:      schema,
		dialer:      &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		handler:     nopHandler{},
		audioFormat: codec.FormatMP3,
	}, nil
}

// SetHandler installs the inbound event handler; nil restores a no-op.
func (c *Channel) SetHandler(h Handler) {
	if h == nil {
		h = nopHandler{}
	}
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

func (c *Channel) currentHandler() Handler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.handler
}

// Connected reports whether the websocket is up.
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Hashcode returns the synthesis hashcode announced by the cloud, 0 until the first hello.
func (c *Channel) Hashcode() int64 {
	return c.hashcode.Load()
}

// TTSVolumeDB returns the playback gain the cloud asks for, in decibels.
func (c *Channel) TTSVolumeDB() float64 {
	return math.Float64frombits(c.volumeDB.Load())
}

// Run connects and serves the channel until ctx is done, reconnecting with
// capped exponential backoff after every drop.
func (c *Channel) Run(ctx context.Context) error {
	for {
		conn, err := c.dialWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("cloud channel disconnected", "error", errorString(err))
	}
}

func (c *Channel) dialWithRetry(ctx context.Context) (*websocket.Conn, error) {
	backoff := retry.WithCappedDuration(c.opts.ReconnectMax, retry.NewExponential(c.opts.ReconnectBase))

	var conn *websocket.Conn
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var err error
		conn, err = c.dial(ctx)
		if err != nil {
			c.logger.Warn("cloud channel dial failed", "attempt", attempt, "error", err.Error())
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.ProductionID != "" {
		header.Set(headerProductionID, c.opts.ProductionID)
	}
	if c.opts.DeviceID != "" {
		header.Set(headerDeviceID, c.opts.DeviceID)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	hello, err := json.Marshal(outbound{
		Type:          frameHello,
		ProductionID:  c.opts.ProductionID,
		DeviceID:      c.opts.DeviceID,
		UploadFormat:  c.opts.UploadFormat,
		SpeakerFormat: c.opts.SpeakerFormat,
		VADType:       vadCloud,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	return conn, nil
}

func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	readWait := 2*c.opts.PingInterval + c.opts.WriteTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.audioFormat = codec.FormatMP3
	c.connected.Store(true)
	c.logger.Info("cloud channel connected", "url", c.opts.URL)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepalive(ctx, conn, done)
	}()

	err := c.readLoop(conn, readWait)

	close(done)
	wg.Wait()

	c.connected.Store(false)
	c.writeMu.Lock()
	c.conn = nil
	c.writeMu.Unlock()
	_ = conn.Close()

	if c.inFlight.Swap(false) && ctx.Err() == nil {
		c.currentHandler().OnError(fsm.ErrorHTTP)
	}
	return err
}

// keepalive pings on an interval and closes conn when ctx ends, which
// unblocks the read loop.
func (c *Channel) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteTimeout),
			)
			c.writeMu.Unlock()
			_ = conn.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.opts.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("cloud channel ping failed", "error", err.Error())
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, readWait time.Duration) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		switch messageType {
		case websocket.TextMessage:
			c.handleText(data)
		case websocket.BinaryMessage:
			c.currentHandler().OnAudio(pipeline.DownloadProcessing, data, c.audioFormat)
		}
	}
}

func (c *Channel) handleText(data []byte) {
	if err := validateFrame(c.schema, data); err != nil {
		c.logger.Warn("drop invalid cloud frame", "error", err.Error(), "bytes", len(data))
		return
	}
	var frame inbound
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("drop undecodable cloud frame", "error", err.Error(), "bytes", len(data))
		return
	}

	if frame.Hashcode != 0 && c.hashcode.Swap(frame.Hashcode) != frame.Hashcode {
		c.logger.Info("cloud synthesis hashcode", "hashcode", frame.Hashcode)
	}

	h := c.currentHandler()
	switch frame.Type {
	case frameHello:
		c.volumeDB.Store(math.Float64bits(frame.VolumeDB))
	case frameASR:
		h.OnASR(frame.Text, frame.Finish)
	case frameAnswer:
		h.OnAnswer(frame.Text)
	case frameAudio:
		status, err := parseAudioStatus(frame.Status)
		if err != nil {
			c.logger.Warn("drop cloud audio frame", "error", err.Error())
			return
		}
		if status == pipeline.DownloadStart {
			c.audioFormat = codec.FormatMP3
			if frame.Format != "" {
				c.audioFormat = codec.Format(frame.Format)
			}
		}
		h.OnAudio(status, frame.Data, c.audioFormat)
	case frameError:
		c.inFlight.Store(false)
		c.logger.Warn("cloud dialogue error", "code", frame.Code, "message", frame.Message)
		h.OnError(fsm.ErrorCode(frame.Code))
	case frameFinish:
		c.inFlight.Store(false)
		h.OnFinish()
	}
}

// StartUpload opens a microphone upload on the cloud side.
func (c *Channel) StartUpload(ctx context.Context, requestID string) error {
	if err := c.writeJSON(ctx, outbound{Type: frameUploadStart, RequestID: requestID}); err != nil {
		return err
	}
	c.inFlight.Store(true)
	return nil
}

// SendAudio sends one encoded microphone chunk.
func (c *Channel) SendAudio(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.BinaryMessage, data)
}

// EndUpload closes the microphone upload; the cloud answers afterwards.
func (c *Channel) EndUpload(ctx context.Context, requestID string) error {
	return c.writeJSON(ctx, outbound{Type: frameUploadEnd, RequestID: requestID})
}

// RequestTTS asks the cloud to synthesize text and stream it back as audio.
func (c *Channel) RequestTTS(ctx context.Context, text string) error {
	return c.writeJSON(ctx, outbound{Type: frameTTS, Text: text})
}

// StopAll cancels every outstanding cloud request.
func (c *Channel) StopAll(ctx context.Context) error {
	c.inFlight.Store(false)
	return c.writeJSON(ctx, outbound{Type: frameCancel})
}

// Wakeup tells the cloud a new wake cycle started under dialogID.
func (c *Channel) Wakeup(ctx context.Context, dialogID string) error {
	return c.writeJSON(ctx, outbound{Type: frameWakeup, DialogID: dialogID})
}

func (c *Channel) writeJSON(ctx context.Context, frame outbound) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	if err := c.write(ctx, websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", frame.Type, err)
	}
	return nil
}

func (c *Channel) write(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(messageType, data)
}

func errorString(err error) string {
	if err == nil {
		return "closed by peer"
	}
	return err.Error()
}

type nopHandler struct{}

func (nopHandler) OnASR(string, bool)                                    {}
func (nopHandler) OnAnswer(string)                                       {}
func (nopHandler) OnAudio(pipeline.DownloadStatus, []byte, codec.Format) {}
func (nopHandler) OnError(fsm.ErrorCode)                                 {}
func (nopHandler) OnFinish()                                             {}
