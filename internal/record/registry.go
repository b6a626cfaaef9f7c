package record

import (
	"context"
	"sync"
	"time"

	"timesheet/internal/saveq"
	"timesheet/internal/timesheet"
)

// QueueFactory builds the save queue for one logical stream. Streams are
// independent: writes for different (employee, date) pairs never serialize
// against each other, so every controller gets its own queue.
type QueueFactory func(employeeID, date string) *saveq.Queue

// Manager hands out controllers keyed by (employee, date), creating and
// loading them on first use. The HTTP layer goes through it so concurrent
// requests editing the same record share one controller and one stream.
type Manager struct {
	store    timesheet.Store
	newQueue QueueFactory
	debounce time.Duration

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewManager creates an empty registry.
func NewManager(store timesheet.Store, newQueue QueueFactory, debounce time.Duration) *Manager {
	return &Manager{
		store:       store,
		newQueue:    newQueue,
		debounce:    debounce,
		controllers: make(map[string]*Controller),
	}
}

// Get returns the controller for (employee, date), loading the stored
// record on first access.
func (m *Manager) Get(ctx context.Context, employeeID, date string) (*Controller, error) {
	key := employeeID + "|" + date
	m.mu.Lock()
	if c, ok := m.controllers[key]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	// Load outside the lock; a racing first access may build a duplicate,
	// in which case the one already registered wins.
	c := NewController(m.store, m.newQueue(employeeID, date), m.debounce)
	if err := c.Load(ctx, employeeID, date); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.controllers[key]; ok {
		return existing, nil
	}
	m.controllers[key] = c
	return c, nil
}

// Peek returns the controller for (employee, date) if one already exists,
// without loading.
func (m *Manager) Peek(employeeID, date string) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controllers[employeeID+"|"+date]
}

// FlushAll submits every controller's current state once. Used on shutdown.
func (m *Manager) FlushAll() {
	m.mu.Lock()
	all := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		all = append(all, c)
	}
	m.mu.Unlock()
	for _, c := range all {
		c.Flush()
	}
}
