// Package logging provides a size-rotating file writer for the exporter's
// structured log output when logging.output is a file path.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingWriter is an io.WriteCloser that rotates the log file once it
// exceeds maxBytes. Rotated files are named <base>-<timestamp><ext>; at most
// maxBackups are kept and backups older than maxAgeDays are removed.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	size       int64
	maxBytes   int64
	maxBackups int
	maxAgeDays int
}

// NewRotatingWriter opens (or creates) the log file at path.
func NewRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	w := &RotatingWriter{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAgeDays: maxAgeDays,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("statting log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends to the log file, rotating first when the write would push
// the file past the size threshold.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// rotate renames the current file to a timestamped backup, reopens a fresh
// one, and prunes old backups. Must be called with w.mu held.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	ext := filepath.Ext(w.path)
	base := strings.TrimSuffix(w.path, ext)
	backup := fmt.Sprintf("%s-%s%s", base, time.Now().Format("20060102T150405"), ext)
	if err := os.Rename(w.path, backup); err != nil {
		return fmt.Errorf("rotating log file: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	w.prune(base, ext)
	return nil
}

// prune removes backups beyond maxBackups and older than maxAgeDays.
// Best-effort; removal failures are ignored.
func (w *RotatingWriter) prune(base, ext string) {
	matches, err := filepath.Glob(base + "-*" + ext)
	if err != nil {
		return
	}
	// Timestamped names sort chronologically; oldest first.
	sort.Strings(matches)

	if w.maxBackups > 0 && len(matches) > w.maxBackups {
		for _, old := range matches[:len(matches)-w.maxBackups] {
			os.Remove(old)
		}
		matches = matches[len(matches)-w.maxBackups:]
	}

	if w.maxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -w.maxAgeDays)
		for _, m := range matches {
			info, err := os.Stat(m)
			if err == nil && info.ModTime().Before(cutoff) {
				os.Remove(m)
			}
		}
	}
}
