package timesheet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*Repository)(nil)

// Repository persists timesheet data in Postgres.
type Repository struct {
	db   *sql.DB
	feed SessionFeed
}

// NewRepository creates a repo. feed may be nil; when set, session create and
// close are published to it so watchers on other devices see the change.
func NewRepository(db *sql.DB, feed SessionFeed) *Repository {
	return &Repository{db: db, feed: feed}
}

// GetRecord returns the stored record or the default empty one.
func (r *Repository) GetRecord(ctx context.Context, employeeID, date string) (DayRecord, error) {
	if employeeID == "" || date == "" {
		return DayRecord{}, fmt.Errorf("%w: employee id and date required", ErrInvalid)
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT date, status, activities
		FROM day_records
		WHERE employee_id = $1 AND date = $2
	`, employeeID, date)
	var rec DayRecord
	var raw []byte
	if err := row.Scan(&rec.Date, &rec.Status, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewDayRecord(date), nil
		}
		return DayRecord{}, err
	}
	if err := json.Unmarshal(raw, &rec.Activities); err != nil {
		return DayRecord{}, fmt.Errorf("decode activities: %w", err)
	}
	if rec.Activities == nil {
		rec.Activities = []Activity{}
	}
	return rec, nil
}

// SaveRecord upserts the full record for (employee, date).
func (r *Repository) SaveRecord(ctx context.Context, employeeID, date string, rec DayRecord) error {
	if employeeID == "" || date == "" {
		return fmt.Errorf("%w: employee id and date required", ErrInvalid)
	}
	if rec.Status == "" {
		rec.Status = StatusNormal
	}
	raw, err := json.Marshal(rec.Activities)
	if err != nil {
		return fmt.Errorf("%w: encode activities: %v", ErrInvalid, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO day_records (employee_id, date, status, activities, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (employee_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			activities = EXCLUDED.activities,
			updated_at = NOW()
	`, employeeID, date, rec.Status, raw)
	return err
}

// ListRecords returns an employee's records within [start, end], newest first.
func (r *Repository) ListRecords(ctx context.Context, employeeID, start, end string) ([]DayRecord, error) {
	if employeeID == "" || start == "" || end == "" {
		return nil, fmt.Errorf("%w: employee id and range required", ErrInvalid)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, status, activities
		FROM day_records
		WHERE employee_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date DESC
	`, employeeID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []DayRecord
	for rows.Next() {
		var rec DayRecord
		var raw []byte
		if err := rows.Scan(&rec.Date, &rec.Status, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &rec.Activities); err != nil {
			return nil, fmt.Errorf("decode activities: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Summary returns every employee's records over a range, the data source
// behind the admin report view.
func (r *Repository) Summary(ctx context.Context, start, end string) ([]EmployeeRecords, error) {
	employees, err := r.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]EmployeeRecords, 0, len(employees))
	for _, emp := range employees {
		recs, err := r.ListRecords(ctx, emp.ID, start, end)
		if err != nil {
			log.Printf("summary: records for %s failed: %v", emp.ID, err)
			recs = nil
		}
		out = append(out, EmployeeRecords{Employee: emp, Records: recs})
	}
	return out, nil
}

// CreateSession persists a new open session and publishes it to the feed.
func (r *Repository) CreateSession(ctx context.Context, employeeID string, s Session) (string, error) {
	if employeeID == "" {
		return "", fmt.Errorf("%w: employee id required", ErrInvalid)
	}
	if s.ID == "" {
		s.ID = "badge-" + uuid.NewString()
	}
	s.IsOpen = true
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (employee_id, id, date, entry_time, exit_time, minutes, is_open)
		VALUES ($1, $2, $3, $4, NULL, 0, TRUE)
	`, employeeID, s.ID, s.Date, s.EntryTime)
	if err != nil {
		return "", err
	}
	r.publish(ctx, employeeID, s.Date, &s)
	return s.ID, nil
}

// CloseSession marks the session closed and publishes the close.
func (r *Repository) CloseSession(ctx context.Context, employeeID, sessionID string, exitTime time.Time, minutes int, date string) error {
	if employeeID == "" || sessionID == "" {
		return fmt.Errorf("%w: employee id and session id required", ErrInvalid)
	}
	if minutes < 0 {
		minutes = 0
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET exit_time = $3, minutes = $4, is_open = FALSE, updated_at = NOW()
		WHERE employee_id = $1 AND id = $2
	`, employeeID, sessionID, exitTime, minutes)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	r.publish(ctx, employeeID, date, nil)
	return nil
}

// OpenSession returns the open session for (employee, date), or nil.
func (r *Repository) OpenSession(ctx context.Context, employeeID, date string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, date, entry_time, exit_time, minutes, is_open
		FROM sessions
		WHERE employee_id = $1 AND date = $2 AND is_open
		ORDER BY entry_time DESC
		LIMIT 1
	`, employeeID, date)
	var s Session
	if err := row.Scan(&s.ID, &s.Date, &s.EntryTime, &s.ExitTime, &s.Minutes, &s.IsOpen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListSessions returns all of a day's sessions, oldest first.
func (r *Repository) ListSessions(ctx context.Context, employeeID, date string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, date, entry_time, exit_time, minutes, is_open
		FROM sessions
		WHERE employee_id = $1 AND date = $2
		ORDER BY entry_time
	`, employeeID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Date, &s.EntryTime, &s.ExitTime, &s.Minutes, &s.IsOpen); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) publish(ctx context.Context, employeeID, date string, s *Session) {
	if r.feed == nil {
		return
	}
	if err := r.feed.Publish(ctx, employeeID, date, s); err != nil {
		log.Printf("session feed publish failed: %v", err)
	}
}

// ListEmployees returns all employees ordered by name.
func (r *Repository) ListEmployees(ctx context.Context) ([]Employee, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, created_at FROM employees ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertEmployee creates or renames an employee.
func (r *Repository) UpsertEmployee(ctx context.Context, e Employee) (Employee, error) {
	if e.Name == "" {
		return Employee{}, fmt.Errorf("%w: employee name required", ErrInvalid)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO employees (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		RETURNING created_at
	`, e.ID, e.Name)
	if err := row.Scan(&e.CreatedAt); err != nil {
		return Employee{}, err
	}
	return e, nil
}

// ListSites returns all work sites ordered by name.
func (r *Repository) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, category FROM sites ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Site
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.ID, &s.Name, &s.Category); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertSite creates or updates a work site.
func (r *Repository) UpsertSite(ctx context.Context, s Site) (Site, error) {
	if s.Name == "" {
		return Site{}, fmt.Errorf("%w: site name required", ErrInvalid)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, category)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category
	`, s.ID, s.Name, s.Category)
	if err != nil {
		return Site{}, err
	}
	return s, nil
}

// Stats returns registry counts for the admin dashboard.
func (r *Repository) Stats(ctx context.Context) (Statistics, error) {
	var st Statistics
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM employees`).Scan(&st.Employees); err != nil {
		return Statistics{}, err
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sites`).Scan(&st.Sites); err != nil {
		return Statistics{}, err
	}
	st.UpdatedAt = time.Now().UTC()
	return st, nil
}
