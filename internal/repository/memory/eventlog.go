package memory

import (
	"context"
	"sync"
	"time"

	"github.com/utafrali/storefront-payments/internal/repository"
)

// now is swapped in tests.
var now = func() time.Time { return time.Now().UTC() }

// EventLog is an in-process webhook event log with TTL-based expiry, used
// when Redis is not configured. Entries do not survive a restart.
type EventLog struct {
	mu     sync.Mutex
	ttl    time.Duration
	events map[string]time.Time
	stop   chan struct{}
	once   sync.Once
}

var _ repository.EventLog = (*EventLog)(nil)

// NewEventLog creates an event log that forgets IDs after ttl and sweeps
// expired entries every cleanupInterval. Call Close to stop the sweeper.
func NewEventLog(ttl, cleanupInterval time.Duration) *EventLog {
	l := &EventLog{
		ttl:    ttl,
		events: make(map[string]time.Time),
		stop:   make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.sweep(cleanupInterval)
	}
	return l
}

// IsProcessed reports whether eventID was marked within the TTL.
func (l *EventLog) IsProcessed(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiry, ok := l.events[eventID]
	if !ok {
		return false, nil
	}
	if now().After(expiry) {
		delete(l.events, eventID)
		return false, nil
	}
	return true, nil
}

// MarkProcessed records eventID.
func (l *EventLog) MarkProcessed(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events[eventID] = now().Add(l.ttl)
	return nil
}

// Len returns the number of tracked IDs, including expired ones not yet swept.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Close stops the background sweeper. Safe to call more than once.
func (l *EventLog) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *EventLog) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.removeExpired()
		}
	}
}

func (l *EventLog) removeExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now()
	for id, expiry := range l.events {
		if cutoff.After(expiry) {
			delete(l.events, id)
		}
	}
}
