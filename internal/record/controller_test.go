package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timesheet/internal/saveq"
	"timesheet/internal/session"
	"timesheet/internal/timesheet"
)

func newTestController(t *testing.T) (*Controller, *timesheet.MemStore) {
	t.Helper()
	store := timesheet.NewMemStore(nil)
	c := NewController(store, saveq.New(nil), 10*time.Millisecond)
	require.NoError(t, c.Load(context.Background(), "emp-1", "2025-03-10"))
	return c, store
}

func waitSaved(t *testing.T, store *timesheet.MemStore, c *Controller) timesheet.DayRecord {
	t.Helper()
	want := c.Record()
	require.Eventually(t, func() bool {
		got, err := store.GetRecord(context.Background(), "emp-1", "2025-03-10")
		if err != nil {
			return false
		}
		return assert.ObjectsAreEqual(want, got)
	}, time.Second, 5*time.Millisecond, "store must converge on the latest in-memory state")
	return want
}

func TestController_LoadDefaultsWhenMissing(t *testing.T) {
	c, _ := newTestController(t)
	rec := c.Record()
	assert.Equal(t, "2025-03-10", rec.Date)
	assert.Equal(t, timesheet.StatusNormal, rec.Status)
	assert.Empty(t, rec.Activities)
}

func TestController_SetStatus(t *testing.T) {
	c, store := newTestController(t)
	require.NoError(t, c.SetStatus(timesheet.StatusVacation))
	assert.ErrorIs(t, c.SetStatus(timesheet.Status("Weekend")), timesheet.ErrInvalid)

	rec := waitSaved(t, store, c)
	assert.Equal(t, timesheet.StatusVacation, rec.Status)
}

func TestController_AddActivity_SiteReplace(t *testing.T) {
	c, _ := newTestController(t)

	_, err := c.AddActivity(timesheet.Activity{
		Kind: timesheet.KindSiteWork, SiteID: "S1", Name: "North yard",
		DurationMinutes: 120, Headcount: 1,
	})
	require.NoError(t, err)
	_, err = c.AddActivity(timesheet.Activity{
		Kind: timesheet.KindSiteWork, SiteID: "S1", Name: "North yard",
		DurationMinutes: 300, Headcount: 2,
	})
	require.NoError(t, err)

	rec := c.Record()
	require.Len(t, rec.Activities, 1, "same-site activity replaces instead of appending")
	assert.Equal(t, 300, rec.Activities[0].DurationMinutes)
	assert.Equal(t, 150, rec.Activities[0].EffectiveMinutes)
}

func TestController_AddActivity_Validation(t *testing.T) {
	c, _ := newTestController(t)

	_, err := c.AddActivity(timesheet.Activity{Name: "", DurationMinutes: 10})
	assert.ErrorIs(t, err, timesheet.ErrInvalid)
	_, err = c.AddActivity(timesheet.Activity{Name: "too long", DurationMinutes: 1441})
	assert.ErrorIs(t, err, timesheet.ErrInvalid)
	_, err = c.AddActivity(timesheet.Activity{Name: "crowd", DurationMinutes: 60, Headcount: 51})
	assert.ErrorIs(t, err, timesheet.ErrInvalid)
}

func TestController_UpdateActivityField_Recompute(t *testing.T) {
	c, _ := newTestController(t)
	added, err := c.AddActivity(timesheet.Activity{Name: "dig", DurationMinutes: 480, Headcount: 1})
	require.NoError(t, err)

	require.NoError(t, c.UpdateActivityField(added.ID, "headcount", "3"))
	assert.Equal(t, 160, c.Record().Activities[0].EffectiveMinutes)

	require.NoError(t, c.UpdateActivityField(added.ID, "minutes", "100"))
	assert.Equal(t, 33, c.Record().Activities[0].EffectiveMinutes)

	require.NoError(t, c.UpdateActivityField(added.ID, "note", "rained all morning"))
	assert.Equal(t, "rained all morning", c.Record().Activities[0].Note)

	assert.ErrorIs(t, c.UpdateActivityField(added.ID, "minutes", "-1"), timesheet.ErrInvalid)
	assert.ErrorIs(t, c.UpdateActivityField(added.ID, "minutes", "abc"), timesheet.ErrInvalid)
	assert.ErrorIs(t, c.UpdateActivityField(added.ID, "headcount", "0"), timesheet.ErrInvalid)
	assert.ErrorIs(t, c.UpdateActivityField(added.ID, "color", "red"), timesheet.ErrInvalid)
	assert.ErrorIs(t, c.UpdateActivityField("missing", "minutes", "10"), timesheet.ErrNotFound)
}

func TestController_RemoveActivity(t *testing.T) {
	c, store := newTestController(t)
	added, err := c.AddActivity(timesheet.Activity{Name: "dig", DurationMinutes: 60})
	require.NoError(t, err)

	require.NoError(t, c.RemoveActivity(added.ID))
	assert.ErrorIs(t, c.RemoveActivity(added.ID), timesheet.ErrNotFound)

	rec := waitSaved(t, store, c)
	assert.Empty(t, rec.Activities)
}

func TestController_RapidEditsConvergeOnFinalState(t *testing.T) {
	c, store := newTestController(t)
	added, err := c.AddActivity(timesheet.Activity{Name: "dig", DurationMinutes: 10, Headcount: 1})
	require.NoError(t, err)

	for _, v := range []string{"20", "30", "40", "480"} {
		require.NoError(t, c.UpdateActivityField(added.ID, "minutes", v))
	}

	rec := waitSaved(t, store, c)
	assert.Equal(t, 480, rec.Activities[0].DurationMinutes)
}

func TestController_EditsSurviveSaveFailure(t *testing.T) {
	store := timesheet.NewMemStore(nil)
	c := NewController(store, saveq.New(nil, saveq.WithMaxRetries(0)), 10*time.Millisecond)
	require.NoError(t, c.Load(context.Background(), "emp-1", "2025-03-10"))

	store.SetSaveErr(assert.AnError)
	_, err := c.AddActivity(timesheet.Activity{Name: "dig", DurationMinutes: 60})
	require.NoError(t, err, "a save failure never discards in-memory edits")
	assert.Len(t, c.Record().Activities, 1)

	// Once the store recovers, the retained state lands via the next edit.
	store.SetSaveErr(nil)
	require.NoError(t, c.SetStatus(timesheet.StatusNormal))
	waitSaved(t, store, c)
}

func TestController_EndToEndDay(t *testing.T) {
	feed := timesheet.NewMemFeed()
	store := timesheet.NewMemStore(feed)
	c := NewController(store, saveq.New(nil), 10*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, "emp-1", "2025-03-10"))

	tracker, err := session.NewTracker("emp-1", store, feed)
	require.NoError(t, err)
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	tracker.SetNow(func() time.Time { return now })

	// 08:00 clock-in.
	_, err = tracker.ClockIn(ctx)
	require.NoError(t, err)

	// Site work: 480 minutes shared by two people.
	_, err = c.AddActivity(timesheet.Activity{
		Kind: timesheet.KindSiteWork, SiteID: "S1", Name: "North yard",
		DurationMinutes: 480, Headcount: 2,
	})
	require.NoError(t, err)

	// 16:00 clock-out closes the session and derives an activity.
	now = now.Add(8 * time.Hour)
	sum, err := tracker.ClockOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, 480, sum.Minutes)
	c.AppendSessionActivity(session.SessionActivity(sum))

	rec := c.Record()
	require.Len(t, rec.Activities, 2)
	assert.Equal(t, 240, rec.Activities[0].EffectiveMinutes)
	assert.Equal(t, 480, rec.Activities[1].EffectiveMinutes)
	assert.Equal(t, 720, c.TotalEffectiveMinutes())

	waitSaved(t, store, c)
}

func TestManager_SharesControllersPerStream(t *testing.T) {
	store := timesheet.NewMemStore(nil)
	mgr := NewManager(store, func(string, string) *saveq.Queue { return saveq.New(nil) }, 10*time.Millisecond)
	ctx := context.Background()

	a, err := mgr.Get(ctx, "emp-1", "2025-03-10")
	require.NoError(t, err)
	b, err := mgr.Get(ctx, "emp-1", "2025-03-10")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := mgr.Get(ctx, "emp-1", "2025-03-11")
	require.NoError(t, err)
	assert.NotSame(t, a, other)

	assert.Nil(t, mgr.Peek("emp-2", "2025-03-10"))
	assert.Same(t, a, mgr.Peek("emp-1", "2025-03-10"))
}
