package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_AppendClampsTimestamp(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var h History
	h.Append(HistoryEntry{Status: StatusPending, Timestamp: t0})
	stored := h.Append(HistoryEntry{Status: StatusConfirmed, Timestamp: t0.Add(-time.Minute)})

	assert.True(t, t0.Equal(stored.Timestamp))
	entries := h.Entries()
	require.Len(t, entries, 2)
	assert.True(t, t0.Equal(entries[1].Timestamp))
}

func TestHistory_EntriesAreCopies(t *testing.T) {
	h := RestoreHistory([]HistoryEntry{{Status: StatusPending}})

	entries := h.Entries()
	entries[0].Status = StatusCancelled

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, StatusPending, last.Status)
}

func TestHistory_Since(t *testing.T) {
	h := RestoreHistory([]HistoryEntry{{Status: StatusPending}})
	n := h.Len()
	h.Append(HistoryEntry{Status: StatusConfirmed})
	h.Append(HistoryEntry{Status: StatusShipped})

	since := h.Since(n)
	require.Len(t, since, 2)
	assert.Equal(t, StatusConfirmed, since[0].Status)
	assert.Nil(t, h.Since(h.Len()))
}

func TestOrder_SetStatusDelivered(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	o := &Order{}

	o.SetStatus(StatusDelivered, "admin@x", "", t0)
	require.NotNil(t, o.ActualDelivery)
	assert.True(t, t0.Equal(*o.ActualDelivery))

	// Re-delivering keeps the first delivery time.
	o.SetStatus(StatusDelivered, "admin@x", "", t0.Add(time.Hour))
	assert.True(t, t0.Equal(*o.ActualDelivery))

	o.SetStatus(StatusShipped, "admin@x", "", t0.Add(2*time.Hour))
	assert.Nil(t, o.ActualDelivery)
}
