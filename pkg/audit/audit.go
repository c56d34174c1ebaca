// Package audit persists the billing event stream to disk.
//
// FileSink implements events.Sink, writing one JSON document per line so the
// trail survives restarts and can be shipped or grepped. Files rotate by
// size with a bounded number kept.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/ratchet/pkg/events"
)

// FileSinkConfig configures the file sink.
type FileSinkConfig struct {
	// Path is the directory audit files are written into.
	Path string
	// MaxSize is the file size in bytes that triggers rotation.
	MaxSize int64
	// MaxFiles bounds how many rotated files are kept.
	MaxFiles int
}

// DefaultFileSinkConfig returns default configuration.
func DefaultFileSinkConfig(path string) FileSinkConfig {
	return FileSinkConfig{
		Path:     path,
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// FileSink appends events to a JSON-lines audit log.
type FileSink struct {
	cfg FileSinkConfig

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	size    int64
}

// NewFileSink creates a FileSink, opening or creating the current log file.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	s := &FileSink{cfg: cfg}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) currentPath() string {
	return filepath.Join(s.cfg.Path, "events.log")
}

func (s *FileSink) open() error {
	f, err := os.OpenFile(s.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit log: %w", err)
	}
	s.file = f
	s.encoder = json.NewEncoder(f)
	s.size = info.Size()
	return nil
}

// Emit implements events.Sink.
func (s *FileSink) Emit(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size >= s.cfg.MaxSize {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	before := s.size
	if err := s.encoder.Encode(e); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if info, err := s.file.Stat(); err == nil {
		s.size = info.Size()
	} else {
		s.size = before + 1
	}
	return nil
}

// rotateLocked renames the current file with its rotation timestamp and
// starts a fresh one, pruning the oldest files beyond the retention bound.
func (s *FileSink) rotateLocked() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log: %w", err)
	}
	// Nanosecond names sort in rotation order and survive restarts.
	rotated := filepath.Join(s.cfg.Path, fmt.Sprintf("events-%d.log", time.Now().UnixNano()))
	if err := os.Rename(s.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	if err := s.open(); err != nil {
		return err
	}
	return s.pruneLocked()
}

func (s *FileSink) pruneLocked() error {
	matches, err := filepath.Glob(filepath.Join(s.cfg.Path, "events-*.log"))
	if err != nil {
		return err
	}
	if len(matches) <= s.cfg.MaxFiles {
		return nil
	}
	sort.Strings(matches)
	for _, path := range matches[:len(matches)-s.cfg.MaxFiles] {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to prune audit log: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the current file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
