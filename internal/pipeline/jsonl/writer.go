// Package jsonl implements an output stage that appends records to a local
// JSON Lines file.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// Config captures the parameters for the JSON Lines writer.
type Config struct {
	// Path is the output file. Parent directories are created on open.
	Path string `mapstructure:"path"`
}

// Writer appends one JSON document per record. The file is owned by the
// Open/Close hooks of a crawl.
type Writer struct {
	path string

	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// New validates cfg and returns an unopened writer.
func New(cfg Config) (*Writer, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("jsonl path is required")
	}
	return &Writer{path: filepath.Clean(cfg.Path)}, nil
}

// Open creates parent directories and opens the file for appending.
func (w *Writer) Open(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		return errors.New("jsonl writer already open")
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	w.f = f
	w.buf = bufio.NewWriter(f)
	w.enc = json.NewEncoder(w.buf)
	return nil
}

// ProcessRecord writes rec as one line and passes it through unchanged.
func (w *Writer) ProcessRecord(_ context.Context, rec crawler.Record) (crawler.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return nil, errors.New("jsonl writer is not open")
	}
	if err := w.enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return rec, nil
}

// Close flushes and closes the file.
func (w *Writer) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.f.Close()
	w.f, w.buf, w.enc = nil, nil, nil
	if flushErr != nil {
		return fmt.Errorf("flush %s: %w", w.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", w.path, closeErr)
	}
	return nil
}
