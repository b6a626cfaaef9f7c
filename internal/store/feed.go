package store

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"timesheet/internal/timesheet"
)

var _ timesheet.SessionFeed = (*RedisFeed)(nil)

// RedisFeed carries open-session updates over Redis pub/sub so a clock-in
// on one device shows up live on every other view of the same employee.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed wraps the client.
func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func feedChannel(employeeID, date string) string {
	return "timesheet:sessions:" + employeeID + ":" + date
}

// Publish broadcasts the current open session (nil means closed).
func (f *RedisFeed) Publish(ctx context.Context, employeeID, date string, s *timesheet.Session) error {
	payload, err := json.Marshal(timesheet.SessionUpdate{IsOpen: s != nil && s.IsOpen, Session: s})
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, feedChannel(employeeID, date), payload).Err()
}

// Subscribe delivers every published update for (employee, date) until the
// returned unsubscribe function is called. closed fires once if the pub/sub
// channel shuts down underneath the subscriber; resubscribing is then the
// caller's call.
func (f *RedisFeed) Subscribe(ctx context.Context, employeeID, date string, onUpdate func(timesheet.SessionUpdate), closed func()) (func(), error) {
	sub := f.client.Subscribe(ctx, feedChannel(employeeID, date))
	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	var mu sync.Mutex
	unsubscribed := false

	go func() {
		for msg := range sub.Channel() {
			var upd timesheet.SessionUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				log.Printf("session feed: bad payload: %v", err)
				continue
			}
			onUpdate(upd)
		}
		// Distinguish deliberate teardown from the channel dying.
		mu.Lock()
		deliberate := unsubscribed
		mu.Unlock()
		if !deliberate && closed != nil {
			closed()
		}
	}()

	return func() {
		mu.Lock()
		unsubscribed = true
		mu.Unlock()
		_ = sub.Close()
	}, nil
}
