package order

import (
	"slices"
	"time"
)

// HistoryEntry records one status assignment.
type HistoryEntry struct {
	Status    Status
	Timestamp time.Time
	Actor     string
	Notes     string
}

// History is the append-only audit trail of an order's status assignments.
// Entries can only be appended; timestamps never decrease.
type History struct {
	entries []HistoryEntry
}

// RestoreHistory rebuilds a history from stored entries in their stored order.
func RestoreHistory(entries []HistoryEntry) History {
	return History{entries: slices.Clone(entries)}
}

// Append adds e to the end of the history and returns the stored entry. An
// entry older than the last one is stamped with the last timestamp instead.
func (h *History) Append(e HistoryEntry) HistoryEntry {
	if n := len(h.entries); n > 0 && e.Timestamp.Before(h.entries[n-1].Timestamp) {
		e.Timestamp = h.entries[n-1].Timestamp
	}
	h.entries = append(h.entries, e)
	return e
}

// Len returns the number of entries.
func (h History) Len() int {
	return len(h.entries)
}

// Entries returns a copy of all entries, oldest first.
func (h History) Entries() []HistoryEntry {
	return slices.Clone(h.entries)
}

// Since returns a copy of the entries appended after the first n.
func (h History) Since(n int) []HistoryEntry {
	if n >= len(h.entries) {
		return nil
	}
	return slices.Clone(h.entries[n:])
}

// Last returns the most recent entry.
func (h History) Last() (HistoryEntry, bool) {
	if len(h.entries) == 0 {
		return HistoryEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}
