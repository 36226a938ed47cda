// Package notify plays spoken prompts from canned files, cached cloud
// synthesis, or on-demand synthesis, and keeps the cache filled in the
// background.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/rbright/chatterbox/internal/player"
)

// ErrUnknownKind reports a kind missing from the table.
var ErrUnknownKind = errors.New("no notification entry")

// Player plays local files and fallback cues.
type Player interface {
	PlayFile(path string) error
	PlayCue(cue player.Cue) error
}

// Synthesizer asks the cloud to synthesize text and play it when ready.
type Synthesizer interface {
	RequestTTS(ctx context.Context, text string) error
}

// Source says where Resolve found a prompt.
type Source int

const (
	SourceNone Source = iota
	SourceCached
	SourceCanned
	SourceNetwork
	SourceTemp
	SourceCue
)

func (s Source) String() string {
	switch s {
	case SourceCached:
		return "cached"
	case SourceCanned:
		return "canned"
	case SourceNetwork:
		return "network"
	case SourceTemp:
		return "temp"
	case SourceCue:
		return "cue"
	default:
		return "none"
	}
}

// Resolution is the playback decision for one kind.
type Resolution struct {
	Source Source
	Path   string
	Text   string
}

// entryState is owned by the cache-fill task; Play only reads it.
type entryState struct {
	cached   bool
	tempPath string
}

// Manager serves the notification table.
type Manager struct {
	dir    string
	player Player
	tts    Synthesizer
	logger *slog.Logger

	entries map[Kind]Entry
	order   []Kind

	mu       sync.RWMutex
	states   map[Kind]*entryState
	hashcode int64
}

// New builds a Manager over table; a nil table uses DefaultTable.
func New(dir string, table []Entry, p Player, tts Synthesizer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if table == nil {
		table = DefaultTable()
	}
	m := &Manager{
		dir:     dir,
		player:  p,
		tts:     tts,
		logger:  logger,
		entries: make(map[Kind]Entry, len(table)),
		states:  make(map[Kind]*entryState, len(table)),
	}
	for _, e := range table {
		m.entries[e.Kind] = e
		m.states[e.Kind] = &entryState{}
		m.order = append(m.order, e.Kind)
	}
	return m
}

// Resolve picks the audio for kind in priority order: cached synthesis,
// canned file, on-demand synthesis, then a previously found local file.
func (m *Manager) Resolve(kind Kind) (Resolution, error) {
	entry, ok := m.entries[kind]
	if !ok {
		return Resolution{}, fmt.Errorf("%w for %s", ErrUnknownKind, kind)
	}
	if !entry.Enabled {
		return Resolution{Source: SourceNone}, nil
	}

	m.mu.RLock()
	state, hashcode := *m.states[kind], m.hashcode
	m.mu.RUnlock()

	if state.cached {
		return Resolution{Source: SourceCached, Path: m.cachedPath(entry, hashcode)}, nil
	}
	switch entry.Policy {
	case PolicyDisabled:
		return Resolution{Source: SourceCanned, Path: m.cannedPath(entry)}, nil
	case PolicyFromNetwork:
		return Resolution{Source: SourceNetwork, Text: entry.Text}, nil
	case PolicyFromFile:
		if state.tempPath != "" {
			return Resolution{Source: SourceTemp, Path: state.tempPath}, nil
		}
		return Resolution{Source: SourceCue}, nil
	default:
		return Resolution{}, fmt.Errorf("%s: unknown policy %s", kind, entry.Policy)
	}
}

// Play resolves kind and starts playback. Network synthesis returns as soon
// as the request is sent. Any failure falls back to the error cue.
func (m *Manager) Play(ctx context.Context, kind Kind) error {
	res, err := m.Resolve(kind)
	if err != nil {
		return err
	}

	switch res.Source {
	case SourceNone:
		return nil
	case SourceCached, SourceCanned, SourceTemp:
		m.logger.Info("play notification", "kind", kind.String(), "source", res.Source.String(), "path", res.Path)
		if err := m.player.PlayFile(res.Path); err != nil {
			m.logger.Error("play notification file failed", "kind", kind.String(), "path", res.Path, "error", err.Error())
			return m.playCue(kind)
		}
		return nil
	case SourceNetwork:
		m.logger.Info("play notification", "kind", kind.String(), "source", res.Source.String())
		if m.tts == nil {
			return m.playCue(kind)
		}
		if err := m.tts.RequestTTS(ctx, res.Text); err != nil {
			m.logger.Error("request notification tts failed", "kind", kind.String(), "error", err.Error())
			return m.playCue(kind)
		}
		return nil
	default:
		m.logger.Error("notification has no local file yet", "kind", kind.String())
		return m.playCue(kind)
	}
}

func (m *Manager) playCue(kind Kind) error {
	if err := m.player.PlayCue(player.CueError); err != nil {
		return fmt.Errorf("play %s fallback cue: %w", kind, err)
	}
	return nil
}

func (m *Manager) cachedPath(e Entry, hashcode int64) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s@%d.mp3", e.Path, hashcode))
}

func (m *Manager) cannedPath(e Entry) string {
	return filepath.Join(m.dir, e.Path+".mp3")
}

func (m *Manager) tempDownloadPath() string {
	return filepath.Join(m.dir, "temp.mp3")
}
