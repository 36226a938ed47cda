// Package logging sets up the daemon's rotating JSONL log.
package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rbright/chatterbox/internal/config"
)

const fileName = "log.jsonl"

// Options controls where the log lives, how it rotates, and which
// attributes every record carries.
type Options struct {
	// Dir holds log.jsonl. Empty means the chatterbox state directory.
	Dir        string
	DeviceID   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Verbose    bool
}

// Runtime is an open log. Close it before exit so the last records land.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	sink   *lumberjack.Logger
}

func (r Runtime) Close() error {
	if r.sink == nil {
		return nil
	}
	return r.sink.Close()
}

// Rotate starts a fresh file, keeping the current one as a backup.
func (r Runtime) Rotate() error {
	if r.sink == nil {
		return errors.New("log is not open")
	}
	return r.sink.Rotate()
}

func New(opts Options) (Runtime, error) {
	dir, err := logDir(opts.Dir)
	if err != nil {
		return Runtime{}, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Runtime{}, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, fileName)

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		LocalTime:  true,
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: level})).
		With("pid", os.Getpid())
	if id := strings.TrimSpace(opts.DeviceID); id != "" {
		logger = logger.With("device_id", id)
	}
	return Runtime{Logger: logger, Path: path, sink: sink}, nil
}

func logDir(explicit string) (string, error) {
	dir, err := config.ResolveStateDir(explicit, "")
	if err != nil {
		return "", fmt.Errorf("resolve log dir: %w", err)
	}
	return dir, nil
}
