// Package audit keeps the engine's execution trail: a fixed-capacity ring of
// every command attempt, and a per-user history with an undo/redo cursor.
// Both are process-local and rebuilt empty on restart; durable storage is the
// host's concern.
package audit

import (
	"strings"
	"sync"
	"time"
)

// DefaultCapacity bounds the ring when the host passes no explicit size.
const DefaultCapacity = 1000

// Entry is one recorded execution attempt. IDs increase monotonically for
// the lifetime of the log.
type Entry struct {
	ID       uint64
	Time     time.Time
	UserID   string
	Username string
	Command  string
	Args     []string
	Success  bool
	Error    string
	Duration time.Duration
	Meta     map[string]string
}

// Filter narrows a Query. Zero fields are ignored.
type Filter struct {
	From         time.Time
	To           time.Time
	Command      string
	UserID       string
	UserContains string // case-insensitive username substring
	Success      *bool
	Limit        int
}

// Log is the append-only ring of execution records, indexed by user, command
// and calendar date. Oldest entries fall off once capacity is exceeded.
// Safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []*Entry
	nextID   uint64

	byUser    map[string][]*Entry
	byCommand map[string][]*Entry
	byDate    map[string][]*Entry
}

// NewLog creates a ring holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity:  capacity,
		byUser:    make(map[string][]*Entry),
		byCommand: make(map[string][]*Entry),
		byDate:    make(map[string][]*Entry),
	}
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Append records an attempt and returns its id. The oldest entry is evicted
// when the ring is full.
func (l *Log) Append(e Entry) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	e.ID = l.nextID
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	stored := &e

	if len(l.entries) >= l.capacity {
		l.evictOldestLocked()
	}
	l.entries = append(l.entries, stored)
	l.byUser[e.UserID] = append(l.byUser[e.UserID], stored)
	l.byCommand[e.Command] = append(l.byCommand[e.Command], stored)
	dk := dateKey(e.Time)
	l.byDate[dk] = append(l.byDate[dk], stored)
	return e.ID
}

// evictOldestLocked drops the oldest entry from the ring and its indexes.
// Index slices are appended in insertion order, so the victim is always at
// the front of each of its slices.
func (l *Log) evictOldestLocked() {
	victim := l.entries[0]
	l.entries = l.entries[1:]

	trimFront := func(m map[string][]*Entry, key string) {
		s := m[key]
		if len(s) > 0 && s[0] == victim {
			if len(s) == 1 {
				delete(m, key)
			} else {
				m[key] = s[1:]
			}
		}
	}
	trimFront(l.byUser, victim.UserID)
	trimFront(l.byCommand, victim.Command)
	trimFront(l.byDate, dateKey(victim.Time))
}

// Query returns entries matching the filter, oldest first. An indexed field
// (user id, command, single date) narrows the scan; the rest is filtered
// linearly.
func (l *Log) Query(f Filter) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	candidates := l.entries
	switch {
	case f.UserID != "":
		candidates = l.byUser[f.UserID]
	case f.Command != "":
		candidates = l.byCommand[f.Command]
	case !f.From.IsZero() && !f.To.IsZero() && dateKey(f.From) == dateKey(f.To):
		candidates = l.byDate[dateKey(f.From)]
	}

	var out []*Entry
	needle := strings.ToLower(f.UserContains)
	for _, e := range candidates {
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Command != "" && e.Command != f.Command {
			continue
		}
		if !f.From.IsZero() && e.Time.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Time.After(f.To) {
			continue
		}
		if f.Success != nil && e.Success != *f.Success {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Username), needle) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Recent returns the newest n entries, newest first.
func (l *Log) Recent(n int) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]*Entry, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// Len returns the number of live entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Cap returns the configured ring capacity.
func (l *Log) Cap() int {
	return l.capacity
}
