// Package session tracks the clock-in/clock-out state machine for one
// employee: at most one open attendance session per calendar day.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"timesheet/internal/metrics"
	"timesheet/internal/timesheet"
)

// ClockInResult is returned by ClockIn. A repeated clock-in returns the
// existing session's values unchanged.
type ClockInResult struct {
	SessionID     string    `json:"session_id"`
	EntryTime     time.Time `json:"entry_time"`
	FormattedTime string    `json:"formatted_time"`
}

// Summary describes a closed session.
type Summary struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Minutes           int       `json:"minutes"`
	FormattedStart    string    `json:"formatted_start"`
	FormattedEnd      string    `json:"formatted_end"`
	FormattedDuration string    `json:"formatted_duration"`
}

// Tracker is the per-employee badge service. It keeps the open session
// mirrored from the store's push feed and exposes idempotent clock
// operations. A local mutation and an incoming push can race; the tracker
// keeps whichever it observed last.
type Tracker struct {
	employeeID string
	store      timesheet.Store
	feed       timesheet.SessionFeed

	mu          sync.Mutex
	open        *timesheet.Session
	unsubscribe func()

	now func() time.Time
}

// NewTracker creates a tracker. The employee id is mandatory; everything
// the tracker does is scoped to it.
func NewTracker(employeeID string, store timesheet.Store, feed timesheet.SessionFeed) (*Tracker, error) {
	if employeeID == "" {
		return nil, fmt.Errorf("%w: employee id required", timesheet.ErrInvalid)
	}
	return &Tracker{
		employeeID: employeeID,
		store:      store,
		feed:       feed,
		now:        time.Now,
	}, nil
}

// SetNow overrides the clock, for tests.
func (t *Tracker) SetNow(now func() time.Time) { t.now = now }

func (t *Tracker) today() string { return timesheet.DateString(t.now()) }

// StartWatcher subscribes to push updates of today's open session and
// invokes onChange on every change, including the initial state. onClosed,
// when non-nil, fires if the underlying channel shuts down; automatic
// resubscription is the caller's choice. A previous watcher is stopped
// first.
func (t *Tracker) StartWatcher(ctx context.Context, onChange func(timesheet.SessionUpdate), onClosed func()) error {
	if onChange == nil {
		onChange = func(timesheet.SessionUpdate) {}
	}
	t.StopWatcher()

	date := t.today()
	open, err := t.store.OpenSession(ctx, t.employeeID, date)
	if err != nil {
		return fmt.Errorf("initial session lookup: %w", err)
	}
	t.mu.Lock()
	t.open = open
	t.mu.Unlock()
	onChange(timesheet.SessionUpdate{IsOpen: open != nil && open.IsOpen, Session: open})

	unsub, err := t.feed.Subscribe(ctx, t.employeeID, date, func(upd timesheet.SessionUpdate) {
		t.mu.Lock()
		if upd.IsOpen {
			t.open = upd.Session
		} else {
			t.open = nil
		}
		t.mu.Unlock()
		onChange(upd)
	}, onClosed)
	if err != nil {
		return fmt.Errorf("session subscribe: %w", err)
	}
	t.mu.Lock()
	t.unsubscribe = unsub
	t.mu.Unlock()
	return nil
}

// StopWatcher tears down the subscription. Idempotent and safe to call when
// the watcher was never started.
func (t *Tracker) StopWatcher() {
	t.mu.Lock()
	unsub := t.unsubscribe
	t.unsubscribe = nil
	t.open = nil
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// IsActive reports whether an open session is currently known.
func (t *Tracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open != nil
}

// ClockIn opens a session for today. Calling it while a session is already
// open is a deliberate no-op returning the existing entry time, protecting
// against duplicate submits.
func (t *Tracker) ClockIn(ctx context.Context) (ClockInResult, error) {
	if existing := t.currentOpen(ctx); existing != nil {
		return ClockInResult{
			SessionID:     existing.ID,
			EntryTime:     existing.EntryTime,
			FormattedTime: existing.EntryTime.Format("15:04"),
		}, nil
	}

	now := t.now()
	s := timesheet.Session{
		ID:        "badge-" + uuid.NewString(),
		Date:      t.today(),
		EntryTime: now,
		IsOpen:    true,
	}
	id, err := t.store.CreateSession(ctx, t.employeeID, s)
	if err != nil {
		return ClockInResult{}, fmt.Errorf("clock-in: %w", err)
	}
	s.ID = id
	t.mu.Lock()
	t.open = &s
	t.mu.Unlock()
	metrics.ClockIns.Inc()
	log.Printf("clock-in %s at %s", t.employeeID, now.Format("15:04"))
	return ClockInResult{SessionID: id, EntryTime: now, FormattedTime: now.Format("15:04")}, nil
}

// ClockOut closes the open session, computing elapsed minutes clamped to
// zero. With no open session it fails with ErrNoOpenSession and changes
// nothing.
func (t *Tracker) ClockOut(ctx context.Context) (Summary, error) {
	open := t.currentOpen(ctx)
	if open == nil {
		return Summary{}, timesheet.ErrNoOpenSession
	}

	now := t.now()
	minutes := timesheet.ElapsedMinutes(open.EntryTime, now)
	if err := t.store.CloseSession(ctx, t.employeeID, open.ID, now, minutes, open.Date); err != nil {
		return Summary{}, fmt.Errorf("clock-out: %w", err)
	}
	t.mu.Lock()
	t.open = nil
	t.mu.Unlock()
	metrics.ClockOuts.Inc()
	log.Printf("clock-out %s after %s", t.employeeID, timesheet.MinutesToHHMM(minutes))
	return Summary{
		StartTime:         open.EntryTime,
		EndTime:           now,
		Minutes:           minutes,
		FormattedStart:    open.EntryTime.Format("15:04"),
		FormattedEnd:      now.Format("15:04"),
		FormattedDuration: timesheet.MinutesToHHMM(minutes),
	}, nil
}

// currentOpen returns the locally mirrored open session, falling back to a
// store lookup when the watcher is not running.
func (t *Tracker) currentOpen(ctx context.Context) *timesheet.Session {
	t.mu.Lock()
	open := t.open
	watching := t.unsubscribe != nil
	t.mu.Unlock()
	if open != nil || watching {
		return open
	}
	stored, err := t.store.OpenSession(ctx, t.employeeID, t.today())
	if err != nil {
		log.Printf("open session lookup failed: %v", err)
		return nil
	}
	if stored != nil {
		t.mu.Lock()
		t.open = stored
		t.mu.Unlock()
	}
	return stored
}

// FormattedElapsed renders the open session's running total as "HH:MM",
// or 00:00 when no session is open.
func (t *Tracker) FormattedElapsed() string {
	t.mu.Lock()
	open := t.open
	t.mu.Unlock()
	if open == nil {
		return timesheet.MinutesToHHMM(0)
	}
	return timesheet.MinutesToHHMM(timesheet.ElapsedMinutes(open.EntryTime, t.now()))
}

// SessionActivity builds the session-derived activity appended to the daily
// record when a session closes.
func SessionActivity(sum Summary) timesheet.Activity {
	a := timesheet.Activity{
		ID:              "badge-" + uuid.NewString(),
		Kind:            timesheet.KindSession,
		Name:            fmt.Sprintf("Badge %s - %s", sum.FormattedStart, sum.FormattedEnd),
		DurationMinutes: sum.Minutes,
		Headcount:       1,
		StartTime:       &sum.StartTime,
		EndTime:         &sum.EndTime,
	}
	a.Recalc()
	return a
}
