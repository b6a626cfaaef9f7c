package timesheet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	_ Store       = (*MemStore)(nil)
	_ SessionFeed = (*MemFeed)(nil)
)

// MemStore is a map-backed Store for dev and testing.
type MemStore struct {
	mu       sync.Mutex
	records  map[string]DayRecord // employee|date
	sessions map[string][]Session // employee|date
	feed     SessionFeed

	saveErr error
	saves   int
}

// NewMemStore creates an empty in-memory store. feed may be nil.
func NewMemStore(feed SessionFeed) *MemStore {
	return &MemStore{
		records:  make(map[string]DayRecord),
		sessions: make(map[string][]Session),
		feed:     feed,
	}
}

func memKey(employeeID, date string) string { return employeeID + "|" + date }

// SetSaveErr makes subsequent SaveRecord calls fail with err (nil restores
// normal behavior). Used to exercise retry and deferral paths.
func (m *MemStore) SetSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// SaveCount returns how many SaveRecord calls reached the store.
func (m *MemStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemStore) GetRecord(ctx context.Context, employeeID, date string) (DayRecord, error) {
	if employeeID == "" || date == "" {
		return DayRecord{}, fmt.Errorf("%w: employee id and date required", ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[memKey(employeeID, date)]; ok {
		return rec.Clone(), nil
	}
	return NewDayRecord(date), nil
}

func (m *MemStore) SaveRecord(ctx context.Context, employeeID, date string, rec DayRecord) error {
	if employeeID == "" || date == "" {
		return fmt.Errorf("%w: employee id and date required", ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.records[memKey(employeeID, date)] = rec.Clone()
	return nil
}

func (m *MemStore) CreateSession(ctx context.Context, employeeID string, s Session) (string, error) {
	if employeeID == "" {
		return "", fmt.Errorf("%w: employee id required", ErrInvalid)
	}
	if s.ID == "" {
		s.ID = "badge-" + uuid.NewString()
	}
	s.IsOpen = true
	m.mu.Lock()
	m.sessions[memKey(employeeID, s.Date)] = append(m.sessions[memKey(employeeID, s.Date)], s)
	m.mu.Unlock()
	m.publish(ctx, employeeID, s.Date, &s)
	return s.ID, nil
}

func (m *MemStore) CloseSession(ctx context.Context, employeeID, sessionID string, exitTime time.Time, minutes int, date string) error {
	if minutes < 0 {
		minutes = 0
	}
	m.mu.Lock()
	list := m.sessions[memKey(employeeID, date)]
	found := false
	for i := range list {
		if list[i].ID == sessionID {
			t := exitTime
			list[i].ExitTime = &t
			list[i].Minutes = minutes
			list[i].IsOpen = false
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	m.publish(ctx, employeeID, date, nil)
	return nil
}

func (m *MemStore) OpenSession(ctx context.Context, employeeID, date string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.sessions[memKey(employeeID, date)]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].IsOpen {
			s := list[i]
			return &s, nil
		}
	}
	return nil, nil
}

// Sessions returns the day's sessions, oldest first.
func (m *MemStore) Sessions(employeeID, date string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.sessions[memKey(employeeID, date)]
	out := make([]Session, len(list))
	copy(out, list)
	return out
}

func (m *MemStore) publish(ctx context.Context, employeeID, date string, s *Session) {
	if m.feed != nil {
		_ = m.feed.Publish(ctx, employeeID, date, s)
	}
}

// MemFeed is a process-local SessionFeed for dev and testing.
type MemFeed struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]feedSub
}

type feedSub struct {
	onUpdate func(SessionUpdate)
	closed   func()
}

// NewMemFeed creates an empty in-process feed.
func NewMemFeed() *MemFeed {
	return &MemFeed{subs: make(map[string]map[int]feedSub)}
}

func (f *MemFeed) Subscribe(ctx context.Context, employeeID, date string, onUpdate func(SessionUpdate), closed func()) (func(), error) {
	key := memKey(employeeID, date)
	f.mu.Lock()
	id := f.next
	f.next++
	if f.subs[key] == nil {
		f.subs[key] = make(map[int]feedSub)
	}
	f.subs[key][id] = feedSub{onUpdate: onUpdate, closed: closed}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs[key], id)
		f.mu.Unlock()
	}, nil
}

func (f *MemFeed) Publish(ctx context.Context, employeeID, date string, s *Session) error {
	f.mu.Lock()
	subs := make([]feedSub, 0, len(f.subs[memKey(employeeID, date)]))
	for _, sub := range f.subs[memKey(employeeID, date)] {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	upd := SessionUpdate{IsOpen: s != nil && s.IsOpen, Session: s}
	for _, sub := range subs {
		sub.onUpdate(upd)
	}
	return nil
}

// Close tears down every subscription, signalling closure to subscribers.
func (f *MemFeed) Close() {
	f.mu.Lock()
	all := f.subs
	f.subs = make(map[string]map[int]feedSub)
	f.mu.Unlock()
	for _, m := range all {
		for _, sub := range m {
			if sub.closed != nil {
				sub.closed()
			}
		}
	}
}
