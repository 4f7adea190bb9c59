// Package history provides bounded append-only logs with pluggable
// persistence. The monitor owns one log for alerts and one for build
// stability records; callers hold explicit references instead of reaching
// for ambient module state.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Storage is the persistence port behind a Log. Load fills dst (a pointer
// to a slice) from the backing store; Save rewrites the store from src.
type Storage interface {
	Load(dst any) error
	Save(src any) error
}

// Log is a bounded append-only history of T. When the cap is exceeded the
// oldest entries are evicted. Every append is persisted through the
// injected storage; persistence failures are logged, never fatal.
type Log[T any] struct {
	mu      sync.RWMutex
	items   []T
	cap     int
	storage Storage
	log     *zap.Logger
}

// NewLog creates a log bounded at capacity, hydrated from storage. A
// missing or corrupt backing file degrades to an empty history rather than
// failing startup.
func NewLog[T any](capacity int, storage Storage, log *zap.Logger) *Log[T] {
	if capacity <= 0 {
		capacity = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	l := &Log[T]{cap: capacity, storage: storage, log: log}
	if storage != nil {
		var loaded []T
		if err := storage.Load(&loaded); err != nil {
			log.Warn("history load failed, starting empty", zap.Error(err))
		} else {
			if len(loaded) > capacity {
				loaded = loaded[len(loaded)-capacity:]
			}
			l.items = loaded
		}
	}
	return l
}

// Append adds an entry, evicting the oldest beyond the cap, and rewrites
// the backing store.
func (l *Log[T]) Append(item T) {
	l.mu.Lock()
	l.items = append(l.items, item)
	if len(l.items) > l.cap {
		l.items = l.items[len(l.items)-l.cap:]
	}
	snapshot := make([]T, len(l.items))
	copy(snapshot, l.items)
	l.mu.Unlock()

	if l.storage != nil {
		if err := l.storage.Save(snapshot); err != nil {
			l.log.Warn("history save failed", zap.Error(err))
		}
	}
}

// Items returns a copy of the history, oldest first.
func (l *Log[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the current entry count.
func (l *Log[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Last returns the newest entry, if any.
func (l *Log[T]) Last() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var zero T
	if len(l.items) == 0 {
		return zero, false
	}
	return l.items[len(l.items)-1], true
}

// FileStorage persists a history as a JSON flat file.
type FileStorage struct {
	path string
}

// NewFileStorage creates file-backed storage at path, creating the parent
// directory on first save.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Load reads the JSON file into dst. A missing file yields an empty
// history; a corrupt file is reported so the caller can decide (the Log
// treats both as empty).
func (fs *FileStorage) Load(dst any) error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading history %s: %w", fs.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("corrupt history %s: %w", fs.path, err)
	}
	return nil
}

// Save rewrites the JSON file from src.
func (fs *FileStorage) Save(src any) error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0o644); err != nil {
		return fmt.Errorf("writing history %s: %w", fs.path, err)
	}
	return nil
}
