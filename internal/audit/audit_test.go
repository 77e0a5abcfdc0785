package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Loggableim/chatcmd/internal/command"
)

func TestAppendAssignsMonotoneIDs(t *testing.T) {
	l := NewLog(10)
	id1 := l.Append(Entry{UserID: "alice", Command: "roll"})
	id2 := l.Append(Entry{UserID: "alice", Command: "roll"})
	require.Equal(t, uint64(1), id1)
	require.Equal(t, uint64(2), id2)
	require.Equal(t, 2, l.Len())
}

func TestRingEvictsOldest(t *testing.T) {
	l := NewLog(3)
	for i := 1; i <= 5; i++ {
		l.Append(Entry{UserID: fmt.Sprintf("u%d", i), Command: "roll"})
	}
	require.Equal(t, 3, l.Len())

	recent := l.Recent(0)
	require.Len(t, recent, 3)
	require.Equal(t, uint64(5), recent[0].ID, "newest first")
	require.Equal(t, uint64(3), recent[2].ID)

	// Evicted entries leave the indexes too.
	require.Empty(t, l.Query(Filter{UserID: "u1"}))
	require.Empty(t, l.Query(Filter{UserID: "u2"}))
	require.Len(t, l.Query(Filter{UserID: "u3"}), 1)
}

func TestQueryByUser(t *testing.T) {
	l := NewLog(10)
	l.Append(Entry{UserID: "alice", Command: "roll"})
	l.Append(Entry{UserID: "bob", Command: "roll"})
	l.Append(Entry{UserID: "alice", Command: "help"})

	got := l.Query(Filter{UserID: "alice"})
	require.Len(t, got, 2)
	require.Equal(t, "roll", got[0].Command)
	require.Equal(t, "help", got[1].Command)
}

func TestQueryByCommandAndSuccess(t *testing.T) {
	l := NewLog(10)
	l.Append(Entry{UserID: "alice", Command: "roll", Success: true})
	l.Append(Entry{UserID: "bob", Command: "roll", Success: false})
	l.Append(Entry{UserID: "carol", Command: "help", Success: true})

	require.Len(t, l.Query(Filter{Command: "roll"}), 2)

	ok := true
	got := l.Query(Filter{Command: "roll", Success: &ok})
	require.Len(t, got, 1)
	require.Equal(t, "alice", got[0].UserID)
}

func TestQueryByDateWindow(t *testing.T) {
	l := NewLog(10)
	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	l.Append(Entry{UserID: "alice", Command: "roll", Time: day1})
	l.Append(Entry{UserID: "alice", Command: "roll", Time: day2})

	got := l.Query(Filter{
		From: day1.Truncate(24 * time.Hour),
		To:   day1.Add(11 * time.Hour),
	})
	require.Len(t, got, 1)
	require.Equal(t, day1, got[0].Time)
}

func TestQueryUserContainsAndLimit(t *testing.T) {
	l := NewLog(10)
	l.Append(Entry{UserID: "1", Username: "StreamFan99", Command: "roll"})
	l.Append(Entry{UserID: "2", Username: "ModBot", Command: "roll"})
	l.Append(Entry{UserID: "3", Username: "streamer", Command: "roll"})

	got := l.Query(Filter{UserContains: "stream"})
	require.Len(t, got, 2)

	got = l.Query(Filter{UserContains: "stream", Limit: 1})
	require.Len(t, got, 1)
}

func TestHistoryRecordAndList(t *testing.T) {
	h := NewHistoryStore(0)
	h.Record("alice", HistoryEntry{Command: "/note a"})
	h.Record("alice", HistoryEntry{Command: "/note b"})

	entries, cursor := h.List("alice")
	require.Len(t, entries, 2)
	require.Equal(t, 2, cursor)
	require.Equal(t, "/note a", entries[0].Command)

	entries, cursor = h.List("bob")
	require.Empty(t, entries)
	require.Zero(t, cursor)
}

func TestHistoryWindowDropsOldest(t *testing.T) {
	h := NewHistoryStore(3)
	for i := 1; i <= 5; i++ {
		h.Record("alice", HistoryEntry{Command: fmt.Sprintf("/note %d", i)})
	}
	entries, cursor := h.List("alice")
	require.Len(t, entries, 3)
	require.Equal(t, 3, cursor)
	require.Equal(t, "/note 3", entries[0].Command)
	require.Equal(t, "/note 5", entries[2].Command)
}

func TestHistoryUndoOrder(t *testing.T) {
	h := NewHistoryStore(0)
	var undone []string
	record := func(name string) {
		h.Record("alice", HistoryEntry{
			Command:  name,
			Undoable: true,
			Undo: func(_ *command.Context) error {
				undone = append(undone, name)
				return nil
			},
		})
	}
	record("a")
	record("b")
	record("c")

	e, err := h.Undo("alice", nil)
	require.NoError(t, err)
	require.Equal(t, "c", e.Command)

	e, err = h.Undo("alice", nil)
	require.NoError(t, err)
	require.Equal(t, "b", e.Command)

	require.Equal(t, []string{"c", "b"}, undone, "newest undone first")

	_, cursor := h.List("alice")
	require.Equal(t, 1, cursor)
}

func TestHistoryUndoEmptyAndNotUndoable(t *testing.T) {
	h := NewHistoryStore(0)

	_, err := h.Undo("alice", nil)
	require.Error(t, err)

	h.Record("alice", HistoryEntry{Command: "/roll"})
	_, err = h.Undo("alice", nil)
	require.Error(t, err, "entries without an undo handler cannot be undone")

	_, cursor := h.List("alice")
	require.Equal(t, 1, cursor, "a failed undo leaves the cursor in place")
}

func TestHistoryUndoHandlerFailureKeepsCursor(t *testing.T) {
	h := NewHistoryStore(0)
	h.Record("alice", HistoryEntry{
		Command:  "/note a",
		Undoable: true,
		Undo: func(_ *command.Context) error {
			return fmt.Errorf("boom")
		},
	})

	_, err := h.Undo("alice", nil)
	require.Error(t, err)
	_, cursor := h.List("alice")
	require.Equal(t, 1, cursor)
}

func TestHistoryRedoReturnsMarker(t *testing.T) {
	h := NewHistoryStore(0)
	h.Record("alice", HistoryEntry{
		Command:  "/note a",
		Undoable: true,
		Undo:     func(_ *command.Context) error { return nil },
	})

	_, err := h.Redo("alice")
	require.Error(t, err, "nothing undone yet")

	_, err = h.Undo("alice", nil)
	require.NoError(t, err)

	e, err := h.Redo("alice")
	require.NoError(t, err)
	require.Equal(t, "/note a", e.Command)

	_, err = h.Redo("alice")
	require.Error(t, err, "redo tail exhausted")
}

func TestHistoryRecordTruncatesRedoTail(t *testing.T) {
	h := NewHistoryStore(0)
	noop := func(_ *command.Context) error { return nil }
	h.Record("alice", HistoryEntry{Command: "a", Undoable: true, Undo: noop})
	h.Record("alice", HistoryEntry{Command: "b", Undoable: true, Undo: noop})

	_, err := h.Undo("alice", nil)
	require.NoError(t, err)

	// A new command while "b" sits in the redo tail discards "b" for good.
	h.Record("alice", HistoryEntry{Command: "c", Undoable: true, Undo: noop})

	entries, cursor := h.List("alice")
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Command)
	require.Equal(t, "c", entries[1].Command)
	require.Equal(t, 2, cursor)

	_, err = h.Redo("alice")
	require.Error(t, err)
}

func TestHistoryClear(t *testing.T) {
	h := NewHistoryStore(0)
	h.Record("alice", HistoryEntry{Command: "a"})
	h.Clear("alice")
	entries, cursor := h.List("alice")
	require.Empty(t, entries)
	require.Zero(t, cursor)
}
