package session

import (
	"context"

	"github.com/rbright/chatterbox/internal/codec"
	"github.com/rbright/chatterbox/internal/device"
	"github.com/rbright/chatterbox/internal/notify"
	"github.com/rbright/chatterbox/internal/pipeline"
)

// Chip is the session-facing subset of the front-end adapter.
type Chip interface {
	ExitChatMode(fast bool) error
	InWakeup() bool
}

// Cloud is the session-facing subset of the dialogue channel.
type Cloud interface {
	Connected() bool
	Wakeup(ctx context.Context, dialogID string) error
	StopAll(ctx context.Context) error
	RequestTTS(ctx context.Context, text string) error
	TTSVolumeDB() float64
}

// Pipeline is the duplex audio pipeline.
type Pipeline interface {
	StartUpload(ctx context.Context) (string, error)
	UploadChunk(ctx context.Context, data []byte) error
	EndUpload(ctx context.Context) error
	AbortUpload()
	HandleDownload(status pipeline.DownloadStatus, data []byte, format codec.Format) error
	CancelDownload()
}

// Player controls local playback outside the download path.
type Player interface {
	Stop() bool
	SetGain(percent int)
}

// Notifier plays spoken prompts.
type Notifier interface {
	Play(ctx context.Context, kind notify.Kind) error
}

// Interceptor answers recognized text locally.
type Interceptor interface {
	DealWithText(text string, maxLen int) (answer string, fired bool)
}

// Network reports whether the host network link is up.
type Network interface {
	Up() bool
}

// Updater reports firmware update progress.
type Updater interface {
	Status() device.OTAStatus
}

// Deps are the collaborators an Engine drives. Network and Updater may be
// nil, meaning always up and never updating.
type Deps struct {
	Chip        Chip
	Cloud       Cloud
	Pipeline    Pipeline
	Player      Player
	Notifier    Notifier
	Interceptor Interceptor
	Network     Network
	Updater     Updater
}

type alwaysUp struct{}

func (alwaysUp) Up() bool { return true }

type noUpdater struct{}

func (noUpdater) Status() device.OTAStatus { return device.OTAStatus{} }
