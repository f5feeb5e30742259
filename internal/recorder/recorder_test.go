package recorder

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestOpenAppliesMigrations(t *testing.T) {
	r := openTestRecorder(t)

	// The table exists and is empty after a fresh open.
	n, err := r.SessionEventCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRecordAndListEvents(t *testing.T) {
	r := openTestRecorder(t)

	require.NoError(t, r.RecordEvent(0x99, 64, 100, true, 0x0010))
	require.NoError(t, r.RecordEvent(0x89, 64, 0, true, 0x0000))
	require.NoError(t, r.RecordEvent(0x90, 61, 80, false, 0x0000))

	events, err := r.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, uint8(0x90), events[0].Status)
	assert.Equal(t, uint8(61), events[0].Note)
	assert.False(t, events[0].Handled)

	assert.Equal(t, uint8(0x99), events[2].Status)
	assert.Equal(t, uint8(64), events[2].Note)
	assert.Equal(t, uint8(100), events[2].Velocity)
	assert.True(t, events[2].Handled)
	assert.Equal(t, uint16(0x0010), events[2].PinMask)

	for _, e := range events {
		assert.Equal(t, r.SessionID(), e.SessionID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestRecentEventsLimit(t *testing.T) {
	r := openTestRecorder(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.RecordEvent(0x99, uint8(60+i), 100, true, 1<<uint(i)))
	}

	events, err := r.RecentEvents(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint8(64), events[0].Note)
	assert.Equal(t, uint8(63), events[1].Note)
}

func TestSessionEventCount(t *testing.T) {
	r := openTestRecorder(t)

	require.NoError(t, r.RecordEvent(0x99, 60, 100, true, 0x0001))
	require.NoError(t, r.RecordEvent(0x89, 60, 0, true, 0x0000))

	n, err := r.SessionEventCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSessionsAreDistinctAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	r1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r1.RecordEvent(0x99, 60, 100, true, 0x0001))
	first := r1.SessionID()
	require.NoError(t, r1.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()

	assert.NotEqual(t, first, r2.SessionID())

	// Events from the previous session are visible but not counted
	// against the new session.
	events, err := r2.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, first, events[0].SessionID)

	n, err := r2.SessionEventCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
