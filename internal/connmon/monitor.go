// Package connmon tracks network reachability and buffers operations that
// cannot currently succeed, replaying them when connectivity returns.
package connmon

import (
	"context"
	"log"
	"sync"
	"time"

	"timesheet/internal/metrics"
)

const (
	// DefaultCapacity bounds the deferred queue; the oldest entry is
	// evicted when full. Bounded memory, not bounded correctness.
	DefaultCapacity = 100
	// DefaultTTL is how long a deferred operation stays worth retrying.
	DefaultTTL = 5 * time.Minute
	// DefaultProbeInterval is how often the active probe runs.
	DefaultProbeInterval = 30 * time.Second
)

type deferred struct {
	op         func(ctx context.Context) error
	context    string
	enqueuedAt time.Time
}

// Monitor holds the online flag, the listener set, and the deferred queue.
// Construct one per process and pass it to collaborators; there is no
// package-level instance.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]func(online bool)
	nextID    int
	queue     []deferred

	capacity int
	ttl      time.Duration
	now      func() time.Time

	probe    Prober
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// Options configures a Monitor. Zero values fall back to the defaults above.
type Options struct {
	Capacity      int
	TTL           time.Duration
	Probe         Prober
	ProbeInterval time.Duration
	Now           func() time.Time
}

// New creates a Monitor that starts out assuming the network is reachable.
func New(opts Options) *Monitor {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Monitor{
		online:    true,
		listeners: make(map[int]func(bool)),
		capacity:  opts.Capacity,
		ttl:       opts.TTL,
		now:       opts.Now,
		probe:     opts.Probe,
		interval:  opts.ProbeInterval,
		stop:      make(chan struct{}),
	}
	metrics.Online.Set(1)
	return m
}

// Start launches the periodic active probe. No-op when no prober is set.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Check(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the probe loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// IsOnline reports the current reachability belief.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline is the passive signal entry point (OS/browser-equivalent
// online/offline events). A transition to online drains the deferred queue.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()
	if !changed {
		return
	}
	if online {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}
	m.notify(online)
	if online {
		m.Drain(ctx)
	}
}

// Check runs one active probe, updating state only on change so listeners
// are not notified redundantly. A failed probe never propagates an error;
// it only flips the flag.
func (m *Monitor) Check(ctx context.Context) {
	if m.probe == nil {
		return
	}
	err := m.probe.Probe(ctx)
	m.SetOnline(ctx, err == nil)
}

// AddListener registers a callback fired on every online/offline transition.
// The returned function unsubscribes it.
func (m *Monitor) AddListener(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) notify(online bool) {
	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("connection listener panicked: %v", r)
				}
			}()
			fn(online)
		}()
	}
}

// Defer appends an operation to the bounded deferred queue for replay once
// connectivity returns. When the queue is full the oldest entry is evicted.
func (m *Monitor) Defer(op func(ctx context.Context) error, opContext string) {
	m.mu.Lock()
	m.queue = append(m.queue, deferred{op: op, context: opContext, enqueuedAt: m.now()})
	if len(m.queue) > m.capacity {
		m.queue = m.queue[1:]
	}
	depth := len(m.queue)
	m.mu.Unlock()
	metrics.SavesDeferred.Inc()
	metrics.DeferredDepth.Set(float64(depth))
}

// QueueLen returns the deferred queue depth.
func (m *Monitor) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Drain attempts every deferred operation in enqueue order. Failures are
// re-enqueued only while younger than the TTL; stale entries are abandoned
// rather than retried forever.
func (m *Monitor) Drain(ctx context.Context) {
	m.mu.Lock()
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, item := range pending {
		if err := item.op(ctx); err != nil {
			if m.now().Sub(item.enqueuedAt) < m.ttl {
				m.mu.Lock()
				m.queue = append(m.queue, item)
				m.mu.Unlock()
			} else {
				log.Printf("deferred operation expired, dropping: %s", item.context)
			}
			continue
		}
		log.Printf("deferred operation replayed: %s", item.context)
	}

	m.mu.Lock()
	depth := len(m.queue)
	m.mu.Unlock()
	metrics.DeferredDepth.Set(float64(depth))
}
