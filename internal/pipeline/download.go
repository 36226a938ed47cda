package pipeline

import (
	"errors"
	"fmt"
	"os"

	"github.com/rbright/chatterbox/internal/codec"
	"github.com/rbright/chatterbox/internal/decoder"
	"github.com/rbright/chatterbox/internal/fsm"
	"github.com/rbright/chatterbox/internal/player"
)

const defaultQueueDepth = 64

// DownloadStatus marks where a chunk sits in a synthesized audio stream.
type DownloadStatus int

const (
	DownloadStart DownloadStatus = iota
	DownloadProcessing
	DownloadEnd
)

func (s DownloadStatus) String() string {
	switch s {
	case DownloadStart:
		return "start"
	case DownloadProcessing:
		return "processing"
	case DownloadEnd:
		return "end"
	default:
		return fmt.Sprintf("download(%d)", int(s))
	}
}

// Downstream plays one stream at a time. player.Player implements it.
type Downstream interface {
	OpenStream(format codec.Format) (player.StreamID, error)
	WriteStream(id player.StreamID, data []byte) error
	FinishStream(id player.StreamID)
	Stop() bool
}

type downloadItem struct {
	id   player.StreamID
	data []byte
	end  bool
}

// downloadState is guarded by Pipeline.mu.
type downloadState struct {
	active bool
	id     player.StreamID
	format codec.Format
	dump   *os.File
}

// HandleDownload routes one cloud audio chunk. Start opens the playback
// stream synchronously; Processing and End are queued for the worker so the
// caller never blocks on decoder backpressure beyond the queue depth.
func (p *Pipeline) HandleDownload(status DownloadStatus, data []byte, format codec.Format) error {
	switch status {
	case DownloadStart:
		return p.startDownload(format, data)
	case DownloadProcessing:
		p.mu.Lock()
		dl := p.dl
		if dl.dump != nil {
			_, _ = dl.dump.Write(data)
		}
		p.mu.Unlock()
		if !dl.active || len(data) == 0 {
			return nil
		}
		return p.enqueue(downloadItem{id: dl.id, data: append([]byte(nil), data...)})
	case DownloadEnd:
		p.mu.Lock()
		dl := p.dl
		p.closeDownloadLocked()
		p.mu.Unlock()
		if !dl.active {
			return nil
		}
		if len(data) > 0 {
			if err := p.enqueue(downloadItem{id: dl.id, data: append([]byte(nil), data...)}); err != nil {
				return err
			}
		}
		return p.enqueue(downloadItem{id: dl.id, end: true})
	default:
		return fmt.Errorf("unknown download status %d", int(status))
	}
}

// CancelDownload stops playback of the current download and drops anything
// still queued for it.
func (p *Pipeline) CancelDownload() {
	p.mu.Lock()
	active := p.dl.active
	p.closeDownloadLocked()
	p.mu.Unlock()
	if active {
		p.logger.Info("download cancelled")
	}
	p.down.Stop()
}

// Close stops the download worker.
func (p *Pipeline) Close() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

func (p *Pipeline) startDownload(format codec.Format, first []byte) error {
	if format == "" {
		format = codec.FormatMP3
	}
	id, err := p.down.OpenStream(format)
	if err != nil {
		p.mu.Lock()
		p.closeDownloadLocked()
		p.mu.Unlock()
		p.logger.Error("open playback stream failed", "format", string(format), "error", err.Error())
		p.onError(fsm.ErrorAudioWrite)
		return fmt.Errorf("open playback stream: %w", err)
	}

	p.mu.Lock()
	p.closeDownloadLocked()
	p.dl = downloadState{active: true, id: id, format: format}
	if p.opts.DumpAudio {
		p.dl.dump = p.openDump("download", string(format))
	}
	p.mu.Unlock()
	p.logger.Info("download start", "format", string(format), "stream", uint64(id))

	if len(first) > 0 {
		return p.HandleDownload(DownloadProcessing, first, format)
	}
	return nil
}

func (p *Pipeline) closeDownloadLocked() {
	if p.dl.dump != nil {
		_ = p.dl.dump.Close()
	}
	p.dl = downloadState{}
}

func (p *Pipeline) enqueue(item downloadItem) error {
	select {
	case <-p.stopped:
		return errors.New("pipeline closed")
	case p.downloads <- item:
		return nil
	}
}

func (p *Pipeline) downloadLoop() {
	var abandoned player.StreamID
	for {
		select {
		case <-p.stopped:
			return
		case item := <-p.downloads:
			if item.id == abandoned {
				continue
			}
			if item.end {
				p.down.FinishStream(item.id)
				continue
			}
			err := p.down.WriteStream(item.id, item.data)
			switch {
			case err == nil:
			case errors.Is(err, player.ErrStaleStream):
			case errors.Is(err, player.ErrBackpressure):
				p.logger.Warn("download chunk dropped", "stream", uint64(item.id), "bytes", len(item.data))
			case errors.Is(err, decoder.ErrPacketTooLarge):
				p.logger.Warn("download chunk exceeds decoder ring", "stream", uint64(item.id), "bytes", len(item.data))
			default:
				abandoned = item.id
				p.logger.Error("download write failed", "stream", uint64(item.id), "error", err.Error())
				p.mu.Lock()
				if p.dl.id == item.id {
					p.closeDownloadLocked()
				}
				p.mu.Unlock()
				p.down.Stop()
				p.onError(fsm.ErrorAudioWrite)
			}
		}
	}
}
