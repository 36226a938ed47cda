package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultFillPoll    = time.Second
	defaultFillBackoff = 5 * time.Second
	defaultConnectPoll = 100 * time.Millisecond
)

// Channel reports cloud connectivity and the session synthesis hashcode.
type Channel interface {
	Connected() bool
	Hashcode() int64
}

// Downloader synthesizes text into an audio file at path.
type Downloader interface {
	SynthesizeToFile(ctx context.Context, text, path string) error
}

// FillOptions paces the cache-fill task.
type FillOptions struct {
	Poll        time.Duration
	Backoff     time.Duration
	ConnectPoll time.Duration
}

func (o FillOptions) withDefaults() FillOptions {
	if o.Poll <= 0 {
		o.Poll = defaultFillPoll
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultFillBackoff
	}
	if o.ConnectPoll <= 0 {
		o.ConnectPoll = defaultConnectPoll
	}
	return o
}

// Fill runs the cache-fill task until ctx is done. It locates local files for
// FromFile entries, waits for the channel and its hashcode, then downloads
// every missing synthesis one entry per poll tick.
func (m *Manager) Fill(ctx context.Context, ch Channel, dl Downloader, opts FillOptions) error {
	opts = opts.withDefaults()

	m.scanLocalFiles()

	hashcode, err := waitHashcode(ctx, ch, opts.ConnectPoll)
	if err != nil {
		return nil
	}
	m.logger.Info("notification cache hashcode", "hashcode", hashcode)
	m.adopt(hashcode)

	limiter := rate.NewLimiter(rate.Every(opts.Poll), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		if current := ch.Hashcode(); current != 0 && current != hashcode {
			m.logger.Info("notification cache hashcode changed", "from", hashcode, "to", current)
			hashcode = current
			m.adopt(hashcode)
		}
		if !ch.Connected() {
			continue
		}

		kind, ok := m.nextMissing()
		if !ok {
			continue
		}
		if err := m.download(ctx, dl, kind, hashcode); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("notification cache download failed", "kind", kind.String(), "error", err.Error())
			if !sleepCtx(ctx, opts.Backoff) {
				return nil
			}
		}
	}
}

// Cached reports whether kind is served from the synthesis cache.
func (m *Manager) Cached(kind Kind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[kind]
	return ok && st.cached
}

// Hashcode returns the hashcode the cache is keyed by, 0 before the first fill.
func (m *Manager) Hashcode() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hashcode
}

func (m *Manager) scanLocalFiles() {
	for _, kind := range m.order {
		e := m.entries[kind]
		if !e.Enabled || e.Policy != PolicyFromFile {
			continue
		}
		path, ok, err := FindPrefix(m.dir, e.Path)
		if err != nil {
			m.logger.Warn("scan notification files failed", "dir", m.dir, "error", err.Error())
			return
		}
		if !ok {
			continue
		}
		m.mu.Lock()
		m.states[kind].tempPath = path
		m.mu.Unlock()
		m.logger.Debug("notification local file", "kind", kind.String(), "path", path)
	}
}

// adopt marks which entries already have a synthesis for hashcode and drops
// stale files next to them.
func (m *Manager) adopt(hashcode int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hashcode = hashcode
	for _, kind := range m.order {
		e := m.entries[kind]
		st := m.states[kind]
		if !e.Enabled || e.Policy == PolicyDisabled {
			continue
		}
		path := m.cachedPath(e, hashcode)
		st.cached = FileExists(path)
		if st.cached {
			st.tempPath = ""
			m.deleteStale(e, path)
		}
	}
}

func (m *Manager) nextMissing() (Kind, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, kind := range m.order {
		e := m.entries[kind]
		if e.Enabled && e.Policy != PolicyDisabled && !m.states[kind].cached {
			return kind, true
		}
	}
	return 0, false
}

func (m *Manager) download(ctx context.Context, dl Downloader, kind Kind, hashcode int64) error {
	e := m.entries[kind]
	tmp := m.tempDownloadPath()
	if err := dl.SynthesizeToFile(ctx, e.Text, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	final := m.cachedPath(e, hashcode)
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("move synthesis into place: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashcode != hashcode {
		// The hashcode rolled over while downloading; adopt will redo this entry.
		return nil
	}
	st := m.states[kind]
	st.cached = true
	st.tempPath = ""
	m.logger.Info("notification cached", "kind", kind.String(), "path", final)
	m.deleteStale(e, final)
	return nil
}

// deleteStale removes same-prefix files other than keep. Caller holds mu.
func (m *Manager) deleteStale(e Entry, keep string) {
	n, err := DeleteMatching(m.dir, e.Path, keep)
	if err != nil {
		m.logger.Warn("delete stale notification files failed", "path", e.Path, "error", err.Error())
	}
	if n > 0 {
		m.logger.Debug("deleted stale notification files", "path", e.Path, "count", n)
	}
}

func waitHashcode(ctx context.Context, ch Channel, poll time.Duration) (int64, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if ch.Connected() {
			if h := ch.Hashcode(); h != 0 {
				return h, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
