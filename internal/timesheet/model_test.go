package timesheet

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivity_Recalc(t *testing.T) {
	a := Activity{DurationMinutes: 480, Headcount: 3}
	a.Recalc()
	assert.Equal(t, 160, a.EffectiveMinutes)

	a.DurationMinutes = 100
	a.Recalc()
	assert.Equal(t, 33, a.EffectiveMinutes)

	a.Headcount = 1
	a.Recalc()
	assert.Equal(t, 100, a.EffectiveMinutes)
}

func TestActivity_Recalc_ZeroHeadcount(t *testing.T) {
	// A zero headcount is treated as one person, never a division by zero.
	a := Activity{DurationMinutes: 60, Headcount: 0}
	a.Recalc()
	assert.Equal(t, 60, a.EffectiveMinutes)
}

func TestDayRecord_Upsert_ReplacesSameSite(t *testing.T) {
	rec := NewDayRecord("2025-03-10")
	first := Activity{ID: "a1", Kind: KindSiteWork, SiteID: "S1", Name: "Site one", DurationMinutes: 120, Headcount: 1}
	first.Recalc()
	rec.Upsert(first)

	second := Activity{ID: "a2", Kind: KindSiteWork, SiteID: "S1", Name: "Site one", DurationMinutes: 240, Headcount: 2}
	second.Recalc()
	rec.Upsert(second)

	require.Len(t, rec.Activities, 1)
	assert.Equal(t, "a2", rec.Activities[0].ID)
	assert.Equal(t, 240, rec.Activities[0].DurationMinutes)
	assert.Equal(t, 120, rec.Activities[0].EffectiveMinutes)
}

func TestDayRecord_Upsert_DifferentSitesAppend(t *testing.T) {
	rec := NewDayRecord("2025-03-10")
	rec.Upsert(Activity{ID: "a1", Kind: KindSiteWork, SiteID: "S1", Name: "one"})
	rec.Upsert(Activity{ID: "a2", Kind: KindSiteWork, SiteID: "S2", Name: "two"})
	rec.Upsert(Activity{ID: "a3", Kind: KindGenericTask, Name: "task"})

	assert.Len(t, rec.Activities, 3)
}

func TestDayRecord_RemoveAndTotal(t *testing.T) {
	rec := NewDayRecord("2025-03-10")
	a := Activity{ID: "a1", Kind: KindGenericTask, Name: "task", DurationMinutes: 60, Headcount: 1}
	a.Recalc()
	b := Activity{ID: "a2", Kind: KindGenericTask, Name: "task2", DurationMinutes: 90, Headcount: 1}
	b.Recalc()
	rec.Upsert(a)
	rec.Upsert(b)

	assert.Equal(t, 150, rec.TotalEffectiveMinutes())
	assert.True(t, rec.Remove("a1"))
	assert.False(t, rec.Remove("a1"))
	assert.Equal(t, 90, rec.TotalEffectiveMinutes())
}

func TestDayRecord_Clone_Independent(t *testing.T) {
	rec := NewDayRecord("2025-03-10")
	rec.Upsert(Activity{ID: "a1", Name: "task", DurationMinutes: 60})

	clone := rec.Clone()
	clone.Activities[0].DurationMinutes = 999

	assert.Equal(t, 60, rec.Activities[0].DurationMinutes)
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusNormal))
	assert.True(t, ValidStatus(StatusSick))
	assert.False(t, ValidStatus(Status("Holiday")))
}

func TestMinutesToHHMM(t *testing.T) {
	assert.Equal(t, "00:00", MinutesToHHMM(0))
	assert.Equal(t, "00:00", MinutesToHHMM(-5))
	assert.Equal(t, "08:00", MinutesToHHMM(480))
	assert.Equal(t, "12:00", MinutesToHHMM(720))
	assert.Equal(t, "01:33", MinutesToHHMM(93))
}

func TestMinutesToDecimal(t *testing.T) {
	assert.Equal(t, "0.00", MinutesToDecimal(0))
	assert.Equal(t, "8.00", MinutesToDecimal(480))
	assert.Equal(t, "2.50", MinutesToDecimal(150))
}

func TestElapsedMinutes_ClampsNegative(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, 480, ElapsedMinutes(start, start.Add(8*time.Hour)))
	assert.Equal(t, 0, ElapsedMinutes(start, start.Add(-time.Hour)))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(ErrNoOpenSession))
	assert.False(t, Retryable(ErrInvalid))
	assert.False(t, Retryable(ErrNotFound))
	assert.True(t, Retryable(errors.New("connection reset")))
}
