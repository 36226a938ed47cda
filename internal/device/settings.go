// Package device adapts host facilities the session engine depends on but
// does not own: network link state, firmware update status, and persisted
// settings.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/gowebpki/jcs"
)

var (
	// ErrNotFound reports a setting that was never saved.
	ErrNotFound = errors.New("setting not found")
	// ErrCorrupt reports a blob whose digest does not match its value.
	ErrCorrupt = errors.New("setting corrupt")

	settingName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

type blob struct {
	Digest string          `json:"digest"`
	Value  json.RawMessage `json:"value"`
}

// Settings is a small named-blob store. Each blob holds the canonical JSON
// of its value and the sha256 of that canonical form.
type Settings struct {
	dir string
	mu  sync.Mutex
}

// OpenSettings creates dir when needed.
func OpenSettings(dir string) (*Settings, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}
	return &Settings{dir: dir}, nil
}

// Load decodes the named blob into v.
func (s *Settings) Load(name string, v any) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	raw, err := os.ReadFile(path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("read setting %s: %w", name, err)
	}

	var b blob
	if err := json.Unmarshal(raw, &b); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	digest, err := digestJCS(b.Value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	if digest != b.Digest {
		return fmt.Errorf("%w: %s: digest mismatch", ErrCorrupt, name)
	}
	if err := json.Unmarshal(b.Value, v); err != nil {
		return fmt.Errorf("decode setting %s: %w", name, err)
	}
	return nil
}

// Save replaces the named blob with v.
func (s *Settings) Save(name string, v any) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", name, err)
	}
	canonical, err := jcs.Transform(value)
	if err != nil {
		return fmt.Errorf("canonicalize setting %s: %w", name, err)
	}
	sum := sha256.Sum256(canonical)
	data, err := json.Marshal(blob{Digest: hex.EncodeToString(sum[:]), Value: canonical})
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("create setting %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write setting %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close setting %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit setting %s: %w", name, err)
	}
	return nil
}

func (s *Settings) path(name string) (string, error) {
	if !settingName.MatchString(name) {
		return "", fmt.Errorf("invalid setting name %q", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

func digestJCS(value []byte) (string, error) {
	canonical, err := jcs.Transform(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
