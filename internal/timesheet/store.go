package timesheet

import (
	"context"
	"time"
)

// Store is the narrow remote-document-store contract the concurrency core
// depends on. Failures are classified only as retryable or not (see
// Retryable); the core does not care why a call failed.
type Store interface {
	// GetRecord returns the stored record for (employee, date), or the
	// default empty Normal-status record when none exists.
	GetRecord(ctx context.Context, employeeID, date string) (DayRecord, error)
	// SaveRecord upserts the full record for (employee, date).
	SaveRecord(ctx context.Context, employeeID, date string, rec DayRecord) error
	// CreateSession persists a new open session and returns its id.
	CreateSession(ctx context.Context, employeeID string, s Session) (string, error)
	// CloseSession marks the session closed with the given exit time and
	// computed minutes.
	CloseSession(ctx context.Context, employeeID, sessionID string, exitTime time.Time, minutes int, date string) error
	// OpenSession returns the open session for (employee, date), or nil.
	OpenSession(ctx context.Context, employeeID, date string) (*Session, error)
}

// SessionUpdate is one push notification about the open session for an
// (employee, date) pair.
type SessionUpdate struct {
	IsOpen  bool     `json:"is_open"`
	Session *Session `json:"session,omitempty"`
}

// SessionFeed is the realtime channel carrying session changes between
// devices. Subscribe delivers every published update for the given pair
// until the returned unsubscribe function is called; closed reports channel
// teardown so a caller can resubscribe.
type SessionFeed interface {
	Subscribe(ctx context.Context, employeeID, date string, onUpdate func(SessionUpdate), closed func()) (func(), error)
	Publish(ctx context.Context, employeeID, date string, s *Session) error
}
