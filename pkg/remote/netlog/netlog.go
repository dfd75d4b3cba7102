// Package netlog keeps a bounded, in-memory log of network diagnostic events.
// It exists for observability only and is never authoritative state.
package netlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMax is the default hard cap on retained entries.
const DefaultMax = 1000

// Levels used by the components.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Entry is one diagnostic event.
type Entry struct {
	ID      uuid.UUID `json:"id"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Source  string    `json:"source"`
	Host    string    `json:"host,omitempty"`
	Message string    `json:"message"`
}

// Log is a bounded append-only log. When the cap is exceeded the oldest half
// of the entries is dropped.
type Log struct {
	mu    sync.Mutex
	items []Entry
	max   int
	now   func() time.Time
}

// New returns a Log holding at most max entries (DefaultMax when max <= 0).
func New(max int) *Log {
	if max <= 0 {
		max = DefaultMax
	}
	return &Log{
		items: make([]Entry, 0, 64),
		max:   max,
		now:   time.Now,
	}
}

// Append records an entry, filling in ID and Time when unset.
// A nil Log discards the entry.
func (l *Log) Append(e Entry) {
	if l == nil {
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Time.IsZero() {
		e.Time = l.now().UTC()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, e)
	if len(l.items) > l.max {
		keep := max(l.max/2, 1)
		trimmed := make([]Entry, keep, l.max)
		copy(trimmed, l.items[len(l.items)-keep:])
		l.items = trimmed
	}
}

// Add is a convenience wrapper around Append.
func (l *Log) Add(level, source, host, message string) {
	l.Append(Entry{Level: level, Source: source, Host: host, Message: message})
}

// Recent returns up to limit of the newest entries, oldest first.
// limit <= 0 returns everything.
func (l *Log) Recent(limit int) []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.items) {
		limit = len(l.items)
	}
	out := make([]Entry, limit)
	copy(out, l.items[len(l.items)-limit:])
	return out
}

// Clear drops all entries.
func (l *Log) Clear() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.items = l.items[:0]
	l.mu.Unlock()
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
