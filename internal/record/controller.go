// Package record owns the in-memory daily record for the (employee, date)
// currently being edited and mediates every mutation path into the save
// queue.
package record

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"timesheet/internal/saveq"
	"timesheet/internal/timesheet"
)

// DefaultDebounce is the auto-save window; edits inside it collapse into
// one background save.
const DefaultDebounce = 2 * time.Second

// Controller holds the authoritative in-memory record for one
// (employee, date). No other component mutates the record directly.
type Controller struct {
	store timesheet.Store
	queue *saveq.Queue

	mu         sync.Mutex
	employeeID string
	date       string
	rec        timesheet.DayRecord

	debounce time.Duration
	timer    *time.Timer
}

// NewController creates a controller routing saves through queue. A
// debounce of zero falls back to the default window.
func NewController(store timesheet.Store, queue *saveq.Queue, debounce time.Duration) *Controller {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Controller{store: store, queue: queue, debounce: debounce}
}

// Load fetches the stored record (or the default empty one) and replaces
// in-memory state. In-flight writes for a previously loaded date are left
// to complete on their own.
func (c *Controller) Load(ctx context.Context, employeeID, date string) error {
	rec, err := c.store.GetRecord(ctx, employeeID, date)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	c.mu.Lock()
	c.stopTimerLocked()
	c.employeeID = employeeID
	c.date = date
	c.rec = rec
	c.mu.Unlock()
	return nil
}

// Record returns a copy of the current in-memory record.
func (c *Controller) Record() timesheet.DayRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.Clone()
}

// Key returns the (employee, date) pair the controller is editing.
func (c *Controller) Key() (employeeID, date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.employeeID, c.date
}

// SetStatus changes the day status and schedules persistence.
func (c *Controller) SetStatus(s timesheet.Status) error {
	if !timesheet.ValidStatus(s) {
		return fmt.Errorf("%w: unknown status %q", timesheet.ErrInvalid, s)
	}
	c.mu.Lock()
	c.rec.Status = s
	c.mu.Unlock()
	c.scheduleSave()
	return nil
}

// AddActivity validates and inserts an activity. A site-work activity whose
// site is already present replaces the existing entry instead of appending
// a duplicate.
func (c *Controller) AddActivity(a timesheet.Activity) (timesheet.Activity, error) {
	if a.Name == "" {
		return timesheet.Activity{}, fmt.Errorf("%w: activity name required", timesheet.ErrInvalid)
	}
	if a.DurationMinutes < 0 || a.DurationMinutes > timesheet.MaxDurationMinutes {
		return timesheet.Activity{}, fmt.Errorf("%w: duration out of range", timesheet.ErrInvalid)
	}
	if a.Headcount < 1 {
		a.Headcount = 1
	}
	if a.Headcount > timesheet.MaxHeadcount {
		return timesheet.Activity{}, fmt.Errorf("%w: headcount out of range", timesheet.ErrInvalid)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Kind == "" {
		a.Kind = timesheet.KindGenericTask
	}
	a.Recalc()

	c.mu.Lock()
	c.rec.Upsert(a)
	c.mu.Unlock()
	c.scheduleSave()
	return a, nil
}

// AppendSessionActivity records the activity derived from a closed badge
// session.
func (c *Controller) AppendSessionActivity(a timesheet.Activity) {
	c.mu.Lock()
	c.rec.Activities = append(c.rec.Activities, a)
	c.mu.Unlock()
	c.scheduleSave()
}

// UpdateActivityField edits one field of an activity by id. Editing minutes
// or headcount rederives effective minutes; out-of-range values are
// rejected.
func (c *Controller) UpdateActivityField(id, field, value string) error {
	c.mu.Lock()
	a := c.rec.Find(id)
	if a == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: activity %s", timesheet.ErrNotFound, id)
	}
	switch field {
	case "minutes":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > timesheet.MaxDurationMinutes {
			c.mu.Unlock()
			return fmt.Errorf("%w: minutes must be 0-%d", timesheet.ErrInvalid, timesheet.MaxDurationMinutes)
		}
		a.DurationMinutes = n
		a.Recalc()
	case "headcount":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > timesheet.MaxHeadcount {
			c.mu.Unlock()
			return fmt.Errorf("%w: headcount must be 1-%d", timesheet.ErrInvalid, timesheet.MaxHeadcount)
		}
		a.Headcount = n
		a.Recalc()
	case "note":
		a.Note = value
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: unknown field %q", timesheet.ErrInvalid, field)
	}
	c.mu.Unlock()
	c.scheduleSave()
	return nil
}

// RemoveActivity deletes an activity by id.
func (c *Controller) RemoveActivity(id string) error {
	c.mu.Lock()
	ok := c.rec.Remove(id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: activity %s", timesheet.ErrNotFound, id)
	}
	c.scheduleSave()
	return nil
}

// TotalEffectiveMinutes sums the record's effective minutes.
func (c *Controller) TotalEffectiveMinutes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.TotalEffectiveMinutes()
}

// scheduleSave queues the current state twice over: an immediate submit so
// the latest state is durably queued right away, and a debounced submit
// collapsing rapid edits into one trailing background save. The queue's
// latest-wins slot deduplicates the overlap.
func (c *Controller) scheduleSave() {
	c.submitSnapshot()

	c.mu.Lock()
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.debounce, c.submitSnapshot)
	c.mu.Unlock()
}

// submitSnapshot captures the current state and hands it to the save queue.
// The snapshot is taken now, not at write time: the caller may keep
// mutating in-memory state while this write is outstanding.
func (c *Controller) submitSnapshot() {
	c.mu.Lock()
	employeeID, date := c.employeeID, c.date
	snapshot := c.rec.Clone()
	c.mu.Unlock()
	if employeeID == "" || date == "" {
		return
	}
	c.queue.Submit(func(ctx context.Context) error {
		return c.store.SaveRecord(ctx, employeeID, date, snapshot)
	})
}

// Flush cancels the debounce timer and submits the current state once.
// Call on teardown (view navigation, logout).
func (c *Controller) Flush() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	c.submitSnapshot()
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
