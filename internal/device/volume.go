package device

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// DefaultVolume applies when no volume was ever persisted.
	DefaultVolume = 60

	volumeSetting         = "volume"
	defaultSampleInterval = 40 * time.Millisecond
	defaultSettleSamples  = 100
)

// VolumeSource is the live output volume.
type VolumeSource interface {
	Volume() int
}

type volumeBlob struct {
	Volume int `json:"volume"`
}

// LoadVolume returns the persisted volume, or DefaultVolume when none is
// stored or the stored blob is unreadable.
func LoadVolume(s *Settings, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var b volumeBlob
	if err := s.Load(volumeSetting, &b); err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warn("stored volume unreadable; using default", "error", err.Error(), "volume", DefaultVolume)
		}
		return DefaultVolume
	}
	if b.Volume < 0 || b.Volume > 100 {
		logger.Warn("stored volume out of range; using default", "volume", b.Volume)
		return DefaultVolume
	}
	return b.Volume
}

// VolumeWatcherOptions tunes how quickly a changed volume is persisted.
type VolumeWatcherOptions struct {
	SampleInterval time.Duration
	// SettleSamples is how many consecutive differing samples must be seen
	// before the new volume is written.
	SettleSamples int
}

// VolumeWatcher persists the output volume once it has stopped changing.
type VolumeWatcher struct {
	settings *Settings
	source   VolumeSource
	stored   int
	opts     VolumeWatcherOptions
	logger   *slog.Logger
}

// NewVolumeWatcher watches source, treating stored as the persisted value.
func NewVolumeWatcher(s *Settings, source VolumeSource, stored int, logger *slog.Logger, opts VolumeWatcherOptions) *VolumeWatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = defaultSampleInterval
	}
	if opts.SettleSamples <= 0 {
		opts.SettleSamples = defaultSettleSamples
	}
	return &VolumeWatcher{settings: s, source: source, stored: stored, opts: opts, logger: logger}
}

// Run samples until ctx is done.
func (w *VolumeWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.SampleInterval)
	defer ticker.Stop()

	diff := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		current := w.source.Volume()
		if current == w.stored {
			diff = 0
			continue
		}
		diff++
		if diff <= w.opts.SettleSamples {
			continue
		}

		diff = 0
		if err := w.settings.Save(volumeSetting, volumeBlob{Volume: current}); err != nil {
			w.logger.Error("persist volume failed", "volume", current, "error", err.Error())
			continue
		}
		w.stored = current
		w.logger.Info("persisted volume", "volume", current)
	}
}
