// Package pipeline streams microphone audio up to the cloud and routes cloud
// audio down to playback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/rbright/chatterbox/internal/fsm"
)

var (
	// ErrUploadNotStarted reports a chunk or end without a preceding start.
	ErrUploadNotStarted = errors.New("upload not started")
	// ErrUploadFinished reports a chunk or end after the upload was closed.
	ErrUploadFinished = errors.New("upload already finished")
)

// Uploader is the cloud side of an upload session.
type Uploader interface {
	StartUpload(ctx context.Context, requestID string) error
	SendAudio(ctx context.Context, data []byte) error
	EndUpload(ctx context.Context, requestID string) error
}

type uploadState int

const (
	uploadIdle uploadState = iota
	uploadActive
	uploadDone
)

// Options configures a Pipeline.
type Options struct {
	// DumpAudio writes every upload and download to the debug directory.
	DumpAudio bool
	// UploadFormat names the microphone codec for dump file extensions.
	UploadFormat string
	// QueueDepth bounds queued download chunks.
	QueueDepth int
}

// Pipeline owns the upload session state and the download worker.
type Pipeline struct {
	up     Uploader
	down   Downstream
	logger *slog.Logger
	opts   Options

	onError func(fsm.ErrorCode)

	mu        sync.Mutex
	state     uploadState
	requestID string
	chunks    int
	bytes     int
	dump      *os.File

	downloads chan downloadItem
	dl        downloadState
	stopOnce  sync.Once
	stopped   chan struct{}
}

// New builds a Pipeline and starts its download worker.
func New(up Uploader, down Downstream, logger *slog.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}
	p := &Pipeline{
		up:        up,
		down:      down,
		logger:    logger,
		opts:      opts,
		onError:   func(fsm.ErrorCode) {},
		downloads: make(chan downloadItem, opts.QueueDepth),
		stopped:   make(chan struct{}),
	}
	go p.downloadLoop()
	return p
}

// OnError registers the receiver of pipeline-raised session errors.
func (p *Pipeline) OnError(fn func(fsm.ErrorCode)) {
	if fn != nil {
		p.onError = fn
	}
}

// StartUpload opens a new upload session. An upload still open from a
// previous utterance is closed upstream first.
func (p *Pipeline) StartUpload(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == uploadActive {
		p.logger.Warn("upload restarted before end", "request_id", p.requestID, "chunks", p.chunks)
		if err := p.up.EndUpload(ctx, p.requestID); err != nil {
			p.logger.Warn("close abandoned upload failed", "request_id", p.requestID, "error", err.Error())
		}
		p.closeDumpLocked()
	}

	requestID := uuid.NewString()
	if err := p.up.StartUpload(ctx, requestID); err != nil {
		p.state = uploadIdle
		return "", fmt.Errorf("start upload: %w", err)
	}

	p.state = uploadActive
	p.requestID = requestID
	p.chunks = 0
	p.bytes = 0
	if p.opts.DumpAudio {
		p.dump = p.openDump("upload", p.opts.UploadFormat)
	}
	p.logger.Info("upload start", "request_id", requestID)
	return requestID, nil
}

// UploadChunk forwards one microphone chunk in arrival order.
func (p *Pipeline) UploadChunk(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkActiveLocked(); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := p.up.SendAudio(ctx, data); err != nil {
		return fmt.Errorf("upload chunk: %w", err)
	}
	p.chunks++
	p.bytes += len(data)
	if p.dump != nil {
		_, _ = p.dump.Write(data)
	}
	return nil
}

// EndUpload closes the current upload session.
func (p *Pipeline) EndUpload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkActiveLocked(); err != nil {
		return err
	}
	p.state = uploadDone
	p.closeDumpLocked()
	p.logger.Info("upload end", "request_id", p.requestID, "chunks", p.chunks, "bytes", p.bytes)
	if err := p.up.EndUpload(ctx, p.requestID); err != nil {
		return fmt.Errorf("end upload: %w", err)
	}
	return nil
}

// AbortUpload drops the current upload session without notifying the cloud.
func (p *Pipeline) AbortUpload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == uploadActive {
		p.logger.Info("upload aborted", "request_id", p.requestID, "chunks", p.chunks)
		p.state = uploadDone
		p.closeDumpLocked()
	}
}

// Uploading reports whether an upload session is open.
func (p *Pipeline) Uploading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == uploadActive
}

func (p *Pipeline) checkActiveLocked() error {
	switch p.state {
	case uploadIdle:
		return ErrUploadNotStarted
	case uploadDone:
		return ErrUploadFinished
	default:
		return nil
	}
}

func (p *Pipeline) closeDumpLocked() {
	if p.dump != nil {
		_ = p.dump.Close()
		p.dump = nil
	}
}

func (p *Pipeline) openDump(prefix, format string) *os.File {
	if format == "" {
		format = "bin"
	}
	file, err := createDebugFile(prefix, format)
	if err != nil {
		p.logger.Warn("unable to create debug audio dump", "error", err.Error())
		return nil
	}
	return file
}
