package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/chatterbox/internal/codec"
	"github.com/rbright/chatterbox/internal/player"
)

// ChipWriter pushes a finished clip to the front-end chip speaker path.
type ChipWriter interface {
	Write(ctx context.Context, data []byte) error
}

// ChipDownstream routes downloads to the chip's own decoder instead of host
// playback. The chip only accepts whole clips, so chunks are collected until
// FinishStream.
type ChipDownstream struct {
	w       ChipWriter
	format  codec.Format
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	id     player.StreamID
	buf    bytes.Buffer
	cancel context.CancelFunc
}

// NewChipDownstream accepts streams in the chip's configured speaker format.
func NewChipDownstream(w ChipWriter, format codec.Format, timeout time.Duration, logger *slog.Logger) *ChipDownstream {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChipDownstream{w: w, format: format, timeout: timeout, logger: logger}
}

func (c *ChipDownstream) OpenStream(format codec.Format) (player.StreamID, error) {
	if format != c.format {
		return 0, fmt.Errorf("chip speaker expects %s, got %s", c.format, format)
	}
	c.cancelWrite()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id++
	c.buf.Reset()
	return c.id, nil
}

func (c *ChipDownstream) WriteStream(id player.StreamID, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.id {
		return player.ErrStaleStream
	}
	c.buf.Write(data)
	return nil
}

func (c *ChipDownstream) FinishStream(id player.StreamID) {
	c.mu.Lock()
	if id != c.id || c.buf.Len() == 0 {
		c.mu.Unlock()
		return
	}
	clip := append([]byte(nil), c.buf.Bytes()...)
	c.buf.Reset()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	if err := c.w.Write(ctx, clip); err != nil {
		c.logger.Warn("chip playback write failed", "stream", uint64(id), "bytes", len(clip), "error", err.Error())
	}
}

// Stop cancels an in-flight clip write.
func (c *ChipDownstream) Stop() bool {
	c.cancelWrite()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id++
	c.buf.Reset()
	return true
}

func (c *ChipDownstream) cancelWrite() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
