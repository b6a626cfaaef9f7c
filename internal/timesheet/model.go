package timesheet

import (
	"math"
	"time"
)

// Status is the day-level state of a record. Exactly one applies at a time.
type Status string

const (
	StatusNormal   Status = "Normal"
	StatusRest     Status = "Rest"
	StatusVacation Status = "Vacation"
	StatusSick     Status = "Sick"
)

// ValidStatus reports whether s is one of the known day statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNormal, StatusRest, StatusVacation, StatusSick:
		return true
	}
	return false
}

// ActivityKind distinguishes how an activity entered the record.
type ActivityKind string

const (
	KindSiteWork    ActivityKind = "site-work"
	KindGenericTask ActivityKind = "generic-task"
	KindSession     ActivityKind = "session-derived"
)

const (
	MaxDurationMinutes = 1440
	MaxHeadcount       = 50
)

// Activity is one recorded unit of work time within a day.
type Activity struct {
	ID               string       `json:"id"`
	Kind             ActivityKind `json:"kind"`
	SiteID           string       `json:"site_id,omitempty"`
	Name             string       `json:"name"`
	DurationMinutes  int          `json:"duration_minutes"`
	Headcount        int          `json:"headcount"`
	EffectiveMinutes int          `json:"effective_minutes"`
	Note             string       `json:"note,omitempty"`
	StartTime        *time.Time   `json:"start_time,omitempty"`
	EndTime          *time.Time   `json:"end_time,omitempty"`
}

// Recalc rederives EffectiveMinutes from duration and headcount. It must be
// called after every edit to either field; EffectiveMinutes is never stored
// independently of its inputs.
func (a *Activity) Recalc() {
	h := a.Headcount
	if h < 1 {
		h = 1
	}
	a.EffectiveMinutes = int(math.Round(float64(a.DurationMinutes) / float64(h)))
}

// DayRecord holds the attendance data for one employee on one calendar date.
type DayRecord struct {
	Date       string     `json:"date"`
	Status     Status     `json:"status"`
	Activities []Activity `json:"activities"`
}

// NewDayRecord returns the default empty record used when nothing is stored
// for the given date.
func NewDayRecord(date string) DayRecord {
	return DayRecord{Date: date, Status: StatusNormal, Activities: []Activity{}}
}

// Upsert appends the activity, except that a site-work activity whose SiteID
// is already present replaces the existing entry in place.
func (r *DayRecord) Upsert(a Activity) {
	if a.Kind == KindSiteWork && a.SiteID != "" {
		for i := range r.Activities {
			if r.Activities[i].Kind == KindSiteWork && r.Activities[i].SiteID == a.SiteID {
				r.Activities[i] = a
				return
			}
		}
	}
	r.Activities = append(r.Activities, a)
}

// Find returns a pointer to the activity with the given id, or nil.
func (r *DayRecord) Find(id string) *Activity {
	for i := range r.Activities {
		if r.Activities[i].ID == id {
			return &r.Activities[i]
		}
	}
	return nil
}

// Remove deletes the activity with the given id, reporting whether it existed.
func (r *DayRecord) Remove(id string) bool {
	for i := range r.Activities {
		if r.Activities[i].ID == id {
			r.Activities = append(r.Activities[:i], r.Activities[i+1:]...)
			return true
		}
	}
	return false
}

// TotalEffectiveMinutes sums effective minutes across all activities.
func (r *DayRecord) TotalEffectiveMinutes() int {
	total := 0
	for i := range r.Activities {
		total += r.Activities[i].EffectiveMinutes
	}
	return total
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r DayRecord) Clone() DayRecord {
	out := r
	out.Activities = make([]Activity, len(r.Activities))
	copy(out.Activities, r.Activities)
	return out
}

// Session is one clock-in/clock-out interval. At most one open session may
// exist per employee per date; the tracker enforces that, not the store.
type Session struct {
	ID        string     `json:"id"`
	Date      string     `json:"date"`
	EntryTime time.Time  `json:"entry_time"`
	ExitTime  *time.Time `json:"exit_time,omitempty"`
	Minutes   int        `json:"minutes"`
	IsOpen    bool       `json:"is_open"`
}

// Employee is a registered worker.
type Employee struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Site is a work site selectable on site-work activities.
type Site struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// EmployeeRecords pairs an employee with their records over a period, the
// shape consumed by summary reports.
type EmployeeRecords struct {
	Employee Employee    `json:"employee"`
	Records  []DayRecord `json:"records"`
}

// Statistics is a lightweight snapshot of registry sizes.
type Statistics struct {
	Employees int       `json:"employees"`
	Sites     int       `json:"sites"`
	UpdatedAt time.Time `json:"updated_at"`
}
