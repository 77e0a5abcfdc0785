package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/Loggableim/chatcmd/internal/command"
)

// historyLimit bounds each user's history, mirroring the engine's fixed
// command-history window.
const historyLimit = 20

// HistoryEntry is one successful command in a user's history.
type HistoryEntry struct {
	Command  string
	Args     []string
	Time     time.Time
	Undoable bool
	Undo     command.UndoFunc
}

// userHistory is a linear log with a cursor. Entries below the cursor are
// "applied"; entries at or above it form the redo tail.
type userHistory struct {
	entries []*HistoryEntry
	cursor  int
}

// HistoryStore keeps a per-user undo/redo history. Safe for concurrent use.
type HistoryStore struct {
	mu    sync.Mutex
	users map[string]*userHistory
	limit int
}

// NewHistoryStore creates an empty store. limit <= 0 uses the default
// per-user window.
func NewHistoryStore(limit int) *HistoryStore {
	if limit <= 0 {
		limit = historyLimit
	}
	return &HistoryStore{
		users: make(map[string]*userHistory),
		limit: limit,
	}
}

// Record appends a successful command for the user. Any redo tail left over
// from earlier undos is truncated first; the oldest entry is dropped once
// the per-user window is full.
func (h *HistoryStore) Record(userID string, e HistoryEntry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	uh, ok := h.users[userID]
	if !ok {
		uh = &userHistory{}
		h.users[userID] = uh
	}
	uh.entries = append(uh.entries[:uh.cursor], &e)
	uh.cursor = len(uh.entries)
	if len(uh.entries) > h.limit {
		uh.entries = uh.entries[1:]
		uh.cursor--
	}
}

// Undo reverses the entry at the cursor. It fails when there is nothing to
// undo or the entry is not undoable; on success the cursor moves back one.
// The undo handler runs outside the store's lock.
func (h *HistoryStore) Undo(userID string, ctx *command.Context) (*HistoryEntry, error) {
	h.mu.Lock()
	uh, ok := h.users[userID]
	if !ok || uh.cursor == 0 {
		h.mu.Unlock()
		return nil, fmt.Errorf("nothing to undo")
	}
	e := uh.entries[uh.cursor-1]
	if !e.Undoable || e.Undo == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("command %q cannot be undone", e.Command)
	}
	h.mu.Unlock()

	if err := e.Undo(ctx); err != nil {
		return nil, fmt.Errorf("undo of %q failed: %w", e.Command, err)
	}

	h.mu.Lock()
	// Re-check: another undo may have raced while the handler ran.
	if uh.cursor > 0 && uh.entries[uh.cursor-1] == e {
		uh.cursor--
	}
	h.mu.Unlock()
	return e, nil
}

// Redo moves the cursor forward over a previously undone entry and returns
// it as a replay marker. The command itself is not re-executed; callers that
// want a real replay re-dispatch the returned command string.
func (h *HistoryStore) Redo(userID string) (*HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh, ok := h.users[userID]
	if !ok || uh.cursor >= len(uh.entries) {
		return nil, fmt.Errorf("nothing to redo")
	}
	e := uh.entries[uh.cursor]
	uh.cursor++
	return e, nil
}

// List returns the user's history, oldest first, plus the cursor position.
func (h *HistoryStore) List(userID string) ([]*HistoryEntry, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh, ok := h.users[userID]
	if !ok {
		return nil, 0
	}
	out := make([]*HistoryEntry, len(uh.entries))
	copy(out, uh.entries)
	return out, uh.cursor
}

// Clear drops a user's history.
func (h *HistoryStore) Clear(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.users, userID)
}
