package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/chatterbox/internal/audio"
	"github.com/rbright/chatterbox/internal/cloud"
	"github.com/rbright/chatterbox/internal/codec"
	"github.com/rbright/chatterbox/internal/command"
	"github.com/rbright/chatterbox/internal/config"
	"github.com/rbright/chatterbox/internal/device"
	"github.com/rbright/chatterbox/internal/frontend"
	"github.com/rbright/chatterbox/internal/fsm"
	"github.com/rbright/chatterbox/internal/ipc"
	"github.com/rbright/chatterbox/internal/notify"
	"github.com/rbright/chatterbox/internal/pipeline"
	"github.com/rbright/chatterbox/internal/player"
	"github.com/rbright/chatterbox/internal/session"
	"github.com/rbright/chatterbox/internal/speech"
)

const (
	serialReadTimeout = 100 * time.Millisecond
	chipMaxChunk      = 1024
	playStatusPoll    = 50 * time.Millisecond
	mediaName         = "chatterbox dialogue"
)

// volumeControl is the device volume seen by the volume command and the
// persistence watcher.
type volumeControl interface {
	SetVolume(v int)
	Volume() int
}

// runDaemon wires every component and blocks until ctx is done or one of the
// long-running loops fails.
func runDaemon(ctx context.Context, cfg config.Config, listener net.Listener, logger *slog.Logger) error {
	port, err := frontend.OpenPort(cfg.Serial.Port, cfg.Serial.Baud, serialReadTimeout, cfg.Serial.UseCTS)
	if err != nil {
		return err
	}
	adapter := frontend.NewAdapter(port, logger.With("component", "frontend"), frontend.Options{
		LongSleepTimeout: millis(cfg.Frontend.SleepTimeoutMS),
	})

	settingsDir, err := config.ResolveStateDir(cfg.Device.SettingsDir, "settings")
	if err != nil {
		return err
	}
	settings, err := device.OpenSettings(settingsDir)
	if err != nil {
		return err
	}
	storedVolume := device.LoadVolume(settings, logger)

	output, err := audio.NewOutput(cfg.Audio.Output, storedVolume)
	if err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}
	defer output.Close()

	play := player.New(func(sampleRate, channels int) (player.Stream, error) {
		playback, err := output.Open(sampleRate, channels, mediaName)
		if err != nil {
			return nil, err
		}
		return playback, nil
	}, logger.With("component", "player"), player.Options{
		RingBytes:     cfg.Decoder.RingBytes,
		BufferPackets: cfg.Decoder.BufferPackets,
		RunningWait:   millis(cfg.Session.RunningWaitMS),
	})
	play.SetGain(cfg.Decoder.Gain)

	channel, err := cloud.New(cloud.Options{
		URL:           cfg.Cloud.URL,
		ProductionID:  cfg.Cloud.ProductionID,
		DeviceID:      cfg.Cloud.DeviceID,
		UploadFormat:  cfg.Frontend.MicFormat,
		SpeakerFormat: cfg.Frontend.SpeakerFormat,
		PingInterval:  millis(cfg.Cloud.PingIntervalMS),
		ReconnectBase: millis(cfg.Cloud.ReconnectBaseMS),
		ReconnectMax:  millis(cfg.Cloud.ReconnectMaxMS),
	}, logger.With("component", "cloud"))
	if err != nil {
		return err
	}

	var downstream pipeline.Downstream = play
	var volume volumeControl = output
	if cfg.Audio.Route == "chip" {
		format, err := codec.ParseFormat(cfg.Frontend.SpeakerFormat)
		if err != nil {
			return err
		}
		downstream = pipeline.NewChipDownstream(adapter, format, 0, logger.With("component", "chip_downstream"))
		volume = newChipVolume(adapter, storedVolume, logger)
	}

	pipe := pipeline.New(channel, downstream, logger.With("component", "pipeline"), pipeline.Options{
		DumpAudio:    cfg.Debug.EnableAudioDump,
		UploadFormat: cfg.Frontend.MicFormat,
	})
	defer pipe.Close()

	notifyDir, err := config.ResolveStateDir(cfg.Notify.Dir, "notify")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(notifyDir, 0o700); err != nil {
		return fmt.Errorf("create notify dir: %w", err)
	}
	notifier := notify.New(notifyDir, nil, play, channel, logger.With("component", "notify"))

	gateway := &lazyGateway{
		cfg: speech.Config{
			Address:           cfg.Speech.GRPC,
			DialTimeout:       millis(cfg.Speech.DialTimeoutMS),
			RequestTimeout:    millis(cfg.Speech.RequestTimeoutMS),
			Voice:             cfg.Speech.Voice,
			Format:            string(codec.FormatMP3),
			RequestsPerSecond: cfg.Speech.RequestsPerSecond,
			Hashcode:          channel.Hashcode,
		},
		logger: logger.With("component", "speech"),
	}
	defer func() { _ = gateway.Close() }()

	probe := device.InterfaceProbe
	if cfg.Device.LinkProbe != "" {
		probe = device.DialProbe(cfg.Device.LinkProbe)
	}
	link := device.NewLink(probe, millis(cfg.Device.LinkPollMS), logger.With("component", "link"))

	interceptor := command.NewInterceptor(logger.With("component", "command"))
	deps := session.Deps{
		Chip:        adapter,
		Cloud:       channel,
		Pipeline:    pipe,
		Player:      play,
		Notifier:    notifier,
		Interceptor: interceptor,
		Network:     link,
	}
	if cfg.Device.OTAStatus != "" {
		deps.Updater = device.OTAStatusFile{Path: cfg.Device.OTAStatus}
	}
	engine := session.New(deps, logger.With("component", "session"), session.Options{
		WakeTailSuppress: millis(cfg.Session.WakeTailSuppressMS),
		CallTimeout:      millis(cfg.Session.CallTimeoutMS),
	})

	if err := command.RegisterBuiltins(interceptor, volume, func() {
		engine.DealWithError(fsm.ErrorUserExit)
	}); err != nil {
		return fmt.Errorf("register builtin commands: %w", err)
	}
	adapter.OnEvent(engine.OnAudioEvent)
	pipe.OnError(engine.DealWithError)
	channel.SetHandler(engine)

	watcher := device.NewVolumeWatcher(settings, volume, storedVolume, logger.With("component", "volume"), device.VolumeWatcherOptions{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return superviseChip(gctx, adapter, logger) })
	g.Go(func() error { return channel.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return link.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		return notifier.Fill(gctx, channel, gateway, notify.FillOptions{
			Poll:    millis(cfg.Notify.PollMS),
			Backoff: millis(cfg.Notify.BackoffMS),
		})
	})
	control := &ipc.Server{Handler: engine, Logger: logger}
	g.Go(func() error { return control.Serve(gctx, listener) })
	g.Go(func() error { return reportPlayStatus(gctx, adapter, play, logger) })
	g.Go(func() error {
		if err := adapter.WaitStartup(gctx, millis(cfg.Serial.StartupTimeoutMS)); err != nil {
			return err
		}
		if err := configureChip(adapter, cfg, volume.Volume()); err != nil {
			return err
		}
		logger.Info("daemon ready",
			"chip_version", adapter.Version(),
			"route", cfg.Audio.Route,
			"volume", volume.Volume(),
		)
		if err := engine.Say(notify.Startup); err != nil && !errors.Is(err, session.ErrStopped) {
			return err
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// configureChip pushes stream shapes and offline voice settings after startup.
func configureChip(adapter *frontend.Adapter, cfg config.Config, volume int) error {
	micFormat, err := frontend.ParseFormat(cfg.Frontend.MicFormat)
	if err != nil {
		return err
	}
	speakerFormat, err := frontend.ParseFormat(cfg.Frontend.SpeakerFormat)
	if err != nil {
		return err
	}

	if err := adapter.Configure(frontend.DirectionMic, frontend.StreamConfig{
		SampleRate: cfg.Frontend.MicSampleRate,
		BitDepth:   16,
		Channels:   1,
		Gain:       cfg.Frontend.MicGain,
		Format:     micFormat,
		MaxChunk:   chipMaxChunk,
	}); err != nil {
		return fmt.Errorf("configure chip microphone: %w", err)
	}
	if err := adapter.Configure(frontend.DirectionSpeaker, frontend.StreamConfig{
		SampleRate: cfg.Frontend.MicSampleRate,
		BitDepth:   16,
		Channels:   1,
		Gain:       volume,
		Format:     speakerFormat,
		MaxChunk:   chipMaxChunk,
	}); err != nil {
		return fmt.Errorf("configure chip speaker: %w", err)
	}

	settings := []struct {
		key   frontend.OfflineKey
		value int
	}{
		{key: frontend.OfflineVADSensitivity, value: cfg.Frontend.VADSensitivity},
		{key: frontend.OfflineDenoiseLevel, value: cfg.Frontend.Denoise},
		{key: frontend.OfflineMicGainDuringPlay, value: cfg.Frontend.MicGainDuringPlay},
	}
	for _, s := range settings {
		if err := adapter.SetOfflineConfig(s.key, uint32(s.value)); err != nil {
			return fmt.Errorf("configure chip offline key %d: %w", s.key, err)
		}
	}
	if err := adapter.SetSleepTimeout(millis(cfg.Frontend.SleepTimeoutMS)); err != nil {
		return fmt.Errorf("configure chip sleep timeout: %w", err)
	}
	if err := adapter.SetMaxPickup(millis(cfg.Frontend.MaxPickupMS)); err != nil {
		return fmt.Errorf("configure chip max pickup: %w", err)
	}
	return nil
}

type playStatusNotifier interface {
	NotifyPlayStatus(playing bool) error
}

type playingReporter interface {
	Playing() bool
}

// reportPlayStatus tells the chip when host playback starts and stops so it
// can switch to its during-play mic gain.
type chipLoop interface {
	Run(ctx context.Context) error
	Started() bool
}

// superviseChip runs the serial read loop. A read failure before startup is
// fatal. After startup chip events stop, but cloud, IPC and cache-fill keep
// running until ctx ends.
func superviseChip(ctx context.Context, chip chipLoop, logger *slog.Logger) error {
	err := chip.Run(ctx)
	if err == nil || !chip.Started() {
		return err
	}
	logger.Error("chip link lost; chip events stopped", "error", err.Error())
	<-ctx.Done()
	return nil
}

func reportPlayStatus(ctx context.Context, chip playStatusNotifier, p playingReporter, logger *slog.Logger) error {
	ticker := time.NewTicker(playStatusPoll)
	defer ticker.Stop()

	var last bool
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		playing := p.Playing()
		if playing == last {
			continue
		}
		if err := chip.NotifyPlayStatus(playing); err != nil {
			logger.Warn("notify chip play status failed", "playing", playing, "error", err.Error())
			continue
		}
		last = playing
	}
}

// chipVolume tracks the chip speaker volume when the chip plays dialogue audio.
type chipVolume struct {
	chip interface {
		SetVolume(volume int) error
	}
	logger *slog.Logger
	v      atomic.Int32
}

func newChipVolume(chip interface{ SetVolume(int) error }, initial int, logger *slog.Logger) *chipVolume {
	c := &chipVolume{chip: chip, logger: logger}
	c.v.Store(int32(audio.ClampVolume(initial)))
	return c
}

func (c *chipVolume) SetVolume(v int) {
	v = audio.ClampVolume(v)
	if err := c.chip.SetVolume(v); err != nil {
		c.logger.Warn("set chip volume failed", "volume", v, "error", err.Error())
		return
	}
	c.v.Store(int32(v))
}

func (c *chipVolume) Volume() int {
	return int(c.v.Load())
}

// lazyGateway dials the speech gateway on first use and redials after a
// failed dial, so the daemon starts even while the gateway is down.
type lazyGateway struct {
	cfg    speech.Config
	logger *slog.Logger

	mu     sync.Mutex
	client *speech.Client
}

func (g *lazyGateway) SynthesizeToFile(ctx context.Context, text, path string) error {
	client, err := g.connect(ctx)
	if err != nil {
		return err
	}
	return client.SynthesizeToFile(ctx, text, path)
}

func (g *lazyGateway) connect(ctx context.Context) (*speech.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := speech.Dial(ctx, g.cfg, g.logger)
	if err != nil {
		return nil, err
	}
	g.logger.Info("speech gateway connected", "address", g.cfg.Address)
	g.client = client
	return client, nil
}

func (g *lazyGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.client.Close()
	g.client = nil
	return err
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
