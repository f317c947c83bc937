// Package history keeps an append-only JSONL log of workspace
// operations. One line per run, newest last. The log lives inside the
// workspace under .quire/ so it travels with the files it describes.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultFile is the log location relative to the workspace root.
const DefaultFile = ".quire/history.jsonl"

// Record is one operation outcome.
type Record struct {
	At      time.Time       `json:"at"`
	Op      string          `json:"op"`
	Summary string          `json:"summary"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Log is an append-only JSONL file cached in memory. Rows are stored and
// returned by value.
type Log[T any] struct {
	path string
	mu   sync.RWMutex

	rows []T
}

// Open loads the log at path, creating parent directories as needed. A
// missing file is an empty log. A torn final line, the footprint of a
// crash mid-append, is dropped; corruption anywhere else is an error.
func Open[T any](path string) (*Log[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	l := &Log[T]{path: path}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log[T]) load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.rows = []T{}
			return nil
		}
		return fmt.Errorf("read history %s: %w", l.path, err)
	}

	var rows []T
	var pendingErr error
	offset, goodEnd := 0, 0
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		next := offset + len(line)
		if i < len(lines)-1 {
			next++
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			offset = next
			continue
		}
		if pendingErr != nil {
			return fmt.Errorf("corrupt history %s: %w", l.path, pendingErr)
		}
		var row T
		if err := json.Unmarshal(trimmed, &row); err != nil {
			// Tolerated only if this turns out to be the last line.
			pendingErr = err
			offset = next
			continue
		}
		rows = append(rows, row)
		offset, goodEnd = next, next
	}
	if pendingErr != nil {
		// The torn bytes would merge with the next append, so cut them.
		if err := os.Truncate(l.path, int64(goodEnd)); err != nil {
			return fmt.Errorf("repair history %s: %w", l.path, err)
		}
	}

	l.rows = rows
	return nil
}

// Len returns the number of records.
func (l *Log[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rows)
}

// Last returns the most recent record, or false when the log is empty.
func (l *Log[T]) Last() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.rows) == 0 {
		var zero T
		return zero, false
	}
	return l.rows[len(l.rows)-1], true
}

// All returns an iterator over every record, oldest first.
func (l *Log[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		for _, row := range l.rows {
			if !yield(row) {
				return
			}
		}
	}
}

// Tail returns up to n of the newest records, oldest first.
func (l *Log[T]) Tail(n int) []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || len(l.rows) == 0 {
		return nil
	}
	if n > len(l.rows) {
		n = len(l.rows)
	}
	out := make([]T, n)
	copy(out, l.rows[len(l.rows)-n:])
	return out
}

// Append persists a record and adds it to the cache.
func (l *Log[T]) Append(row T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write history record: %w", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return fmt.Errorf("write history newline: %w", err)
	}

	l.rows = append(l.rows, row)
	return nil
}
