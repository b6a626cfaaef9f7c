package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timesheet/internal/timesheet"
)

func newTestTracker(t *testing.T) (*Tracker, *timesheet.MemStore, *timesheet.MemFeed, *time.Time) {
	t.Helper()
	feed := timesheet.NewMemFeed()
	store := timesheet.NewMemStore(feed)
	tracker, err := NewTracker("emp-1", store, feed)
	require.NoError(t, err)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	clock := &now
	tracker.SetNow(func() time.Time { return *clock })
	return tracker, store, feed, clock
}

func TestNewTracker_RequiresEmployee(t *testing.T) {
	_, err := NewTracker("", timesheet.NewMemStore(nil), timesheet.NewMemFeed())
	assert.ErrorIs(t, err, timesheet.ErrInvalid)
}

func TestTracker_ClockInIdempotent(t *testing.T) {
	tracker, store, _, _ := newTestTracker(t)
	ctx := context.Background()

	first, err := tracker.ClockIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "08:00", first.FormattedTime)

	second, err := tracker.ClockIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.EntryTime, second.EntryTime)

	sessions := store.Sessions("emp-1", "2025-03-10")
	require.Len(t, sessions, 1, "a duplicate clock-in must not create a second session")
	assert.True(t, sessions[0].IsOpen)
}

func TestTracker_ClockOutWithoutSession(t *testing.T) {
	tracker, store, _, _ := newTestTracker(t)

	_, err := tracker.ClockOut(context.Background())
	assert.ErrorIs(t, err, timesheet.ErrNoOpenSession)
	assert.Empty(t, store.Sessions("emp-1", "2025-03-10"))
}

func TestTracker_ClockOutComputesMinutes(t *testing.T) {
	tracker, store, _, clock := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.ClockIn(ctx)
	require.NoError(t, err)

	*clock = clock.Add(8 * time.Hour)
	sum, err := tracker.ClockOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, 480, sum.Minutes)
	assert.Equal(t, "08:00", sum.FormattedStart)
	assert.Equal(t, "16:00", sum.FormattedEnd)
	assert.Equal(t, "08:00", sum.FormattedDuration)

	sessions := store.Sessions("emp-1", "2025-03-10")
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].IsOpen)
	require.NotNil(t, sessions[0].ExitTime)
	assert.Equal(t, 480, sessions[0].Minutes)
}

func TestTracker_ClockOutThenClockIn(t *testing.T) {
	tracker, store, _, clock := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.ClockIn(ctx)
	require.NoError(t, err)
	*clock = clock.Add(4 * time.Hour)
	_, err = tracker.ClockOut(ctx)
	require.NoError(t, err)

	*clock = clock.Add(time.Hour)
	res, err := tracker.ClockIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "13:00", res.FormattedTime)

	sessions := store.Sessions("emp-1", "2025-03-10")
	require.Len(t, sessions, 2, "same-day clock-out then clock-in yields a closed and an open session")
	assert.False(t, sessions[0].IsOpen)
	assert.True(t, sessions[1].IsOpen)
}

func TestTracker_WatcherDeliversInitialAndUpdates(t *testing.T) {
	tracker, _, _, clock := newTestTracker(t)
	ctx := context.Background()

	var mu sync.Mutex
	var updates []timesheet.SessionUpdate
	err := tracker.StartWatcher(ctx, func(upd timesheet.SessionUpdate) {
		mu.Lock()
		updates = append(updates, upd)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, updates, 1, "initial state is delivered immediately")
	assert.False(t, updates[0].IsOpen)
	mu.Unlock()

	_, err = tracker.ClockIn(ctx)
	require.NoError(t, err)
	*clock = clock.Add(time.Hour)
	_, err = tracker.ClockOut(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 3)
	assert.True(t, updates[1].IsOpen)
	require.NotNil(t, updates[1].Session)
	assert.False(t, updates[2].IsOpen)
}

func TestTracker_WatcherClosedSignal(t *testing.T) {
	tracker, _, feed, _ := newTestTracker(t)

	closed := false
	err := tracker.StartWatcher(context.Background(), func(timesheet.SessionUpdate) {}, func() { closed = true })
	require.NoError(t, err)

	feed.Close()
	assert.True(t, closed, "channel teardown must be reported so callers can resubscribe")
}

func TestTracker_StopWatcherIdempotent(t *testing.T) {
	tracker, _, _, _ := newTestTracker(t)

	tracker.StopWatcher() // never started
	require.NoError(t, tracker.StartWatcher(context.Background(), nil, nil))
	tracker.StopWatcher()
	tracker.StopWatcher()
	assert.False(t, tracker.IsActive())
}

func TestTracker_FormattedElapsed(t *testing.T) {
	tracker, _, _, clock := newTestTracker(t)
	ctx := context.Background()

	assert.Equal(t, "00:00", tracker.FormattedElapsed())
	_, err := tracker.ClockIn(ctx)
	require.NoError(t, err)
	*clock = clock.Add(95 * time.Minute)
	assert.Equal(t, "01:35", tracker.FormattedElapsed())
}

func TestSessionActivity(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)
	a := SessionActivity(Summary{
		StartTime:      start,
		EndTime:        end,
		Minutes:        480,
		FormattedStart: "08:00",
		FormattedEnd:   "16:00",
	})

	assert.Equal(t, timesheet.KindSession, a.Kind)
	assert.Equal(t, "Badge 08:00 - 16:00", a.Name)
	assert.Equal(t, 480, a.DurationMinutes)
	assert.Equal(t, 1, a.Headcount)
	assert.Equal(t, 480, a.EffectiveMinutes)
	require.NotNil(t, a.StartTime)
	require.NotNil(t, a.EndTime)
}
