// Package session runs the conversation state machine. Chip events, cloud
// dialogue events, and local triggers are queued and handled one at a time by
// a single engine goroutine.
package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/chatterbox/internal/codec"
	"github.com/rbright/chatterbox/internal/device"
	"github.com/rbright/chatterbox/internal/frontend"
	"github.com/rbright/chatterbox/internal/fsm"
	"github.com/rbright/chatterbox/internal/notify"
	"github.com/rbright/chatterbox/internal/pipeline"
)

const (
	defaultWakeTailSuppress = 500 * time.Millisecond
	defaultQueueDepth       = 256
	defaultCallTimeout      = 3 * time.Second

	// maxAnswerBytes bounds locally generated answers.
	maxAnswerBytes = 256
	maxGainPercent = 400
)

// ErrStopped reports an event posted after the engine loop exited.
var ErrStopped = errors.New("session engine stopped")

var wakePrompts = [...]notify.Kind{notify.ChatWakeupVC, notify.ChatWakeup, notify.ChatWakeupVC2}

// Options tunes an Engine.
type Options struct {
	// WakeTailSuppress drops a Start that arrives this soon after Wakeup.
	WakeTailSuppress time.Duration
	QueueDepth       int
	// CallTimeout bounds each cloud or prompt call made from the loop.
	CallTimeout time.Duration

	Now  func() time.Time
	Intn func(n int) int
}

type eventKind int

const (
	evAudio eventKind = iota
	evError
	evASR
	evAnswer
	evDownload
	evFinish
	evButton
	evSay
	evFlush
)

type event struct {
	kind eventKind

	audio  frontend.Event
	code   fsm.ErrorCode
	text   string
	finish bool
	status pipeline.DownloadStatus
	data   []byte
	format codec.Format
	prompt notify.Kind

	done chan struct{}
}

// Engine is the conversation session state machine.
type Engine struct {
	deps   Deps
	logger *slog.Logger
	opts   Options

	events  chan event
	running atomic.Bool
	stopped chan struct{}

	status      atomic.Int32
	errCode     atomic.Int32
	music       atomic.Bool
	exitPending atomic.Bool

	// Owned by the loop goroutine.
	ctx        context.Context
	awake      bool
	lastWakeup time.Time
	dialogID   string
}

// New builds an Engine. Call Run to start handling events.
func New(deps Deps, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Network == nil {
		deps.Network = alwaysUp{}
	}
	if deps.Updater == nil {
		deps.Updater = noUpdater{}
	}
	if opts.WakeTailSuppress <= 0 {
		opts.WakeTailSuppress = defaultWakeTailSuppress
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Intn == nil {
		opts.Intn = rand.IntN
	}
	return &Engine{
		deps:    deps,
		logger:  logger,
		opts:    opts,
		events:  make(chan event, opts.QueueDepth),
		stopped: make(chan struct{}),
		ctx:     context.Background(),
	}
}

// Run handles queued events until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("session engine already running")
	}
	defer close(e.stopped)

	e.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

// OnAudioEvent queues one front-end event.
func (e *Engine) OnAudioEvent(ev frontend.Event) {
	if err := e.post(event{kind: evAudio, audio: ev}); err != nil {
		e.logger.Debug("drop audio event", "event", ev.Kind.String(), "error", err.Error())
	}
}

// DealWithError queues an error report. It never blocks, so collaborators
// may call it from inside engine callbacks.
func (e *Engine) DealWithError(code fsm.ErrorCode) {
	ev := event{kind: evError, code: code}
	select {
	case e.events <- ev:
	default:
		go func() { _ = e.post(ev) }()
	}
}

// PressExitButton queues the physical exit-button action.
func (e *Engine) PressExitButton() {
	_ = e.post(event{kind: evButton})
}

// Say queues a spoken prompt.
func (e *Engine) Say(kind notify.Kind) error {
	return e.post(event{kind: evSay, prompt: kind})
}

// Flush blocks until every event queued before it has been handled.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := e.post(event{kind: evFlush, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnASR implements cloud.Handler.
func (e *Engine) OnASR(text string, finish bool) {
	_ = e.post(event{kind: evASR, text: text, finish: finish})
}

// OnAnswer implements cloud.Handler.
func (e *Engine) OnAnswer(text string) {
	_ = e.post(event{kind: evAnswer, text: text})
}

// OnAudio implements cloud.Handler.
func (e *Engine) OnAudio(status pipeline.DownloadStatus, data []byte, format codec.Format) {
	_ = e.post(event{kind: evDownload, status: status, data: data, format: format})
}

// OnError implements cloud.Handler.
func (e *Engine) OnError(code fsm.ErrorCode) {
	e.DealWithError(code)
}

// OnFinish implements cloud.Handler.
func (e *Engine) OnFinish() {
	_ = e.post(event{kind: evFinish})
}

// Status returns the current session status.
func (e *Engine) Status() fsm.Status {
	return fsm.Status(e.status.Load())
}

// Error returns the last handled error code of the current wake cycle.
func (e *Engine) Error() fsm.ErrorCode {
	return fsm.ErrorCode(e.errCode.Load())
}

// IsMusicPlaying reports the music flag.
func (e *Engine) IsMusicPlaying() bool {
	return e.music.Load()
}

// SetMusicPlaying sets the music flag. Voice activity is ignored while it is set.
func (e *Engine) SetMusicPlaying(playing bool) {
	e.music.Store(playing)
}

// ExitPending reports whether a fast exit is waiting for the next Sleep.
func (e *Engine) ExitPending() bool {
	return e.exitPending.Load()
}

func (e *Engine) post(ev event) error {
	select {
	case <-e.stopped:
		return ErrStopped
	default:
	}
	select {
	case e.events <- ev:
		return nil
	case <-e.stopped:
		return ErrStopped
	}
}

func (e *Engine) handle(ev event) {
	switch ev.kind {
	case evAudio:
		e.onAudioEvent(ev.audio)
	case evError:
		e.dealWithError(ev.code)
	case evASR:
		e.onASR(ev.text, ev.finish)
	case evAnswer:
		if e.Status().Answer() {
			e.advance(fsm.EventAnswerText)
		}
		e.logger.Info("cloud answer", "text", ev.text)
	case evDownload:
		e.onDownload(ev.status, ev.data, ev.format)
	case evFinish:
		if e.Status().Answer() {
			e.advance(fsm.EventFinish)
		}
	case evButton:
		e.onExitButton()
	case evSay:
		e.play(ev.prompt)
	}
	if ev.done != nil {
		close(ev.done)
	}
}

func (e *Engine) onAudioEvent(ev frontend.Event) {
	if ota := e.deps.Updater.Status(); ota.Active() {
		if ev.Kind == frontend.EventWakeup {
			e.logger.Warn("wakeup during firmware update", "ota_state", ota.State.String(), "percent", ota.Percent)
			if ota.State == device.OTAFailed {
				e.play(notify.OTAFailed)
			}
			e.fastExit()
		}
		return
	}

	if !e.linkUp() {
		switch ev.Kind {
		case frontend.EventWakeup:
			e.logger.Warn("wakeup while offline", "cloud_connected", e.deps.Cloud.Connected())
			e.dealWithError(fsm.ErrorHTTP)
		case frontend.EventSleep:
			e.awake = false
			e.clearExitPending()
		}
		return
	}

	switch ev.Kind {
	case frontend.EventWakeup:
		e.onWakeup(e.eventTime(ev))
		return
	case frontend.EventSleep:
		e.onSleep()
		return
	}

	if e.music.Load() {
		e.logger.Debug("music playing; ignore voice activity", "event", ev.Kind.String())
		return
	}

	switch ev.Kind {
	case frontend.EventStart:
		e.onStart(e.eventTime(ev))
	case frontend.EventRunning:
		e.onRunning(ev.Data)
	case frontend.EventEnd:
		e.onEnd()
	case frontend.EventFullFrame:
		e.logger.Info("audio full frame", "bytes", ev.Len())
	}
}

// eventTime is when the adapter received ev from the chip. Handlers may run
// later, after slower events ahead in the queue.
func (e *Engine) eventTime(ev frontend.Event) time.Time {
	if ev.At.IsZero() {
		return e.opts.Now()
	}
	return ev.At
}

func (e *Engine) onWakeup(at time.Time) {
	if e.music.Swap(false) {
		e.logger.Warn("wakeup interrupted music; stopping playback")
	}
	e.deps.Player.Stop()
	e.deps.Pipeline.CancelDownload()
	e.deps.Pipeline.AbortUpload()

	e.awake = true
	e.lastWakeup = at
	e.errCode.Store(int32(fsm.ErrorNone))
	e.advance(fsm.EventWakeup)

	e.dialogID = uuid.NewString()
	ctx, cancel := e.callContext()
	if err := e.deps.Cloud.Wakeup(ctx, e.dialogID); err != nil {
		e.logger.Warn("announce wakeup failed", "dialog_id", e.dialogID, "error", err.Error())
	}
	cancel()
	e.logger.Info("session wakeup", "dialog_id", e.dialogID)

	e.play(wakePrompts[e.opts.Intn(len(wakePrompts))])
}

func (e *Engine) onSleep() {
	wasAwake := e.awake
	e.awake = false

	e.cancelOutstanding()
	if wasAwake {
		e.play(notify.ChatExit)
	}
	e.clearExitPending()
	e.advance(fsm.EventReset)
	e.logger.Info("session sleep", "dialog_id", e.dialogID, "was_awake", wasAwake)
}

func (e *Engine) onStart(at time.Time) {
	if !e.lastWakeup.IsZero() {
		if since := at.Sub(e.lastWakeup); since < e.opts.WakeTailSuppress {
			e.logger.Debug("suppress start inside wake-word tail", "since_wakeup_ms", since.Milliseconds())
			return
		}
	}

	e.deps.Player.Stop()
	e.deps.Pipeline.CancelDownload()

	ctx, cancel := e.callContext()
	defer cancel()
	requestID, err := e.deps.Pipeline.StartUpload(ctx)
	if err != nil {
		e.logger.Error("start upload failed", "error", err.Error())
		e.dealWithError(fsm.ErrorHTTP)
		return
	}
	e.advance(fsm.EventAudioStart)
	e.logger.Info("upload started", "request_id", requestID, "dialog_id", e.dialogID)
}

func (e *Engine) onRunning(data []byte) {
	ctx, cancel := e.callContext()
	defer cancel()
	err := e.deps.Pipeline.UploadChunk(ctx, data)
	if err == nil {
		return
	}
	if isUploadSequenceError(err) {
		e.logger.Debug("drop audio outside upload", "bytes", len(data), "error", err.Error())
		return
	}
	e.logger.Error("upload chunk failed", "bytes", len(data), "error", err.Error())
	e.deps.Pipeline.AbortUpload()
	e.dealWithError(fsm.ErrorHTTP)
}

func (e *Engine) onEnd() {
	ctx, cancel := e.callContext()
	defer cancel()
	err := e.deps.Pipeline.EndUpload(ctx)
	if err == nil {
		e.advance(fsm.EventAudioFinish)
		return
	}
	if isUploadSequenceError(err) {
		e.logger.Debug("ignore end outside upload", "error", err.Error())
		return
	}
	e.logger.Error("end upload failed", "error", err.Error())
	e.deps.Pipeline.AbortUpload()
	e.dealWithError(fsm.ErrorHTTP)
}

func (e *Engine) onASR(text string, finish bool) {
	if !finish {
		e.advance(fsm.EventAsrText)
		return
	}
	e.advance(fsm.EventAsrFinish)
	e.logger.Info("asr finished", "text", text)

	answer, fired := e.deps.Interceptor.DealWithText(text, maxAnswerBytes)
	if !fired {
		return
	}
	e.logger.Info("local command answered", "text", text, "answer", answer)

	ctx, cancel := e.callContext()
	defer cancel()
	if err := e.deps.Cloud.StopAll(ctx); err != nil {
		e.logger.Warn("cancel cloud requests failed", "error", err.Error())
	}
	e.deps.Pipeline.CancelDownload()
	if err := e.deps.Cloud.RequestTTS(ctx, answer); err != nil {
		e.logger.Error("request answer synthesis failed", "error", err.Error())
		e.dealWithError(fsm.ErrorTTS)
	}
}

func (e *Engine) onDownload(status pipeline.DownloadStatus, data []byte, format codec.Format) {
	if status == pipeline.DownloadStart && e.Status().Answer() {
		e.advance(fsm.EventAnswerAudio)
	}

	if err := e.deps.Pipeline.HandleDownload(status, data, format); err != nil {
		e.logger.Warn("download chunk rejected", "status", status.String(), "bytes", len(data), "error", err.Error())
		return
	}

	switch status {
	case pipeline.DownloadStart:
		e.deps.Player.SetGain(gainPercent(e.deps.Cloud.TTSVolumeDB()))
	case pipeline.DownloadEnd:
		if s := e.Status(); s.Answer() && s >= fsm.StatusAnswerMp3Valid {
			e.advance(fsm.EventTTSFinish)
		}
	}
}

func (e *Engine) dealWithError(code fsm.ErrorCode) {
	if code == fsm.ErrorNone {
		return
	}
	e.errCode.Store(int32(code))
	e.logger.Warn("session error", "code", code.String(), "status", e.Status().String())

	switch code {
	case fsm.ErrorASR:
		e.advance(fsm.EventFail)
	case fsm.ErrorHTTP:
		e.advance(fsm.EventFail)
		if !e.deps.Network.Up() {
			e.play(notify.NotBind)
		} else {
			e.play(notify.WifiServerError)
		}
	case fsm.ErrorUserExit, fsm.ErrorNoMoney:
		if code == fsm.ErrorUserExit {
			e.advance(fsm.EventUserExit)
		} else {
			e.advance(fsm.EventFail)
		}
		e.cancelOutstanding()
		e.fastExit()
	case fsm.ErrorAudioWrite, fsm.ErrorTTS:
		e.advance(fsm.EventFail)
		e.play(notify.ChatFailed)
	default:
		e.advance(fsm.EventFail)
	}
}

func (e *Engine) onExitButton() {
	switch {
	case !e.deps.Network.Up():
		e.dealWithError(fsm.ErrorHTTP)
	case !e.deps.Cloud.Connected():
		e.logger.Info("exit button ignored; cloud disconnected")
	case e.deps.Chip.InWakeup():
		e.dealWithError(fsm.ErrorUserExit)
	default:
		e.logger.Debug("exit button ignored; chip asleep")
	}
}

func (e *Engine) cancelOutstanding() {
	if e.deps.Cloud.Connected() {
		ctx, cancel := e.callContext()
		if err := e.deps.Cloud.StopAll(ctx); err != nil {
			e.logger.Warn("cancel cloud requests failed", "error", err.Error())
		}
		cancel()
	}
	e.deps.Pipeline.CancelDownload()
	e.deps.Pipeline.AbortUpload()
}

func (e *Engine) fastExit() {
	if err := e.deps.Chip.ExitChatMode(true); err != nil {
		e.logger.Warn("fast exit failed", "error", err.Error())
	}
	e.exitPending.Store(true)
}

func (e *Engine) clearExitPending() {
	if !e.exitPending.Swap(false) {
		return
	}
	if err := e.deps.Chip.ExitChatMode(false); err != nil {
		e.logger.Warn("restore sleep timeout failed", "error", err.Error())
	}
}

func (e *Engine) advance(ev fsm.Event) {
	current := e.Status()
	next, err := fsm.Transition(current, ev)
	if err != nil {
		e.logger.Debug("ignore status transition", "status", current.String(), "event", string(ev), "error", err.Error())
		return
	}
	if next == current {
		return
	}
	e.status.Store(int32(next))
	e.logger.Debug("session status", "from", current.String(), "to", next.String())
}

func (e *Engine) play(kind notify.Kind) {
	ctx, cancel := e.callContext()
	defer cancel()
	if err := e.deps.Notifier.Play(ctx, kind); err != nil {
		e.logger.Error("play prompt failed", "kind", kind.String(), "error", err.Error())
	}
}

func (e *Engine) linkUp() bool {
	return e.deps.Cloud.Connected() && e.deps.Network.Up()
}

func (e *Engine) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, e.opts.CallTimeout)
}

func isUploadSequenceError(err error) bool {
	return errors.Is(err, pipeline.ErrUploadNotStarted) || errors.Is(err, pipeline.ErrUploadFinished)
}

// gainPercent converts a decibel adjustment to a software gain percent.
func gainPercent(db float64) int {
	if db == 0 || math.IsNaN(db) {
		return 100
	}
	p := int(math.Round(100 * math.Pow(10, db/20)))
	return min(max(p, 0), maxGainPercent)
}
