package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal records accepted boundary calls, one JSON object per line.
type Journal interface {
	Append(kind string, data map[string]any) error
}

type NopWAL struct{}

func NewNopWAL() *NopWAL                              { return &NopWAL{} }
func (w *NopWAL) Append(string, map[string]any) error { return nil }

type FileWAL struct {
	mu  sync.Mutex
	f   *os.File
	now func() time.Time
}

func NewFileWAL(path string) (*FileWAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f, now: time.Now}, nil
}

func (w *FileWAL) Append(kind string, data map[string]any) error {
	line, err := json.Marshal(map[string]any{
		"timestamp": w.now().UTC().Format(time.RFC3339Nano),
		"event":     kind,
		"data":      data,
	})
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

var _ Journal = (*NopWAL)(nil)
var _ Journal = (*FileWAL)(nil)
