package services

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
)

// RetryEntry is one failed delivery of an event to a single provider
type RetryEntry struct {
	Event     *analytics.Event
	Provider  string
	Attempts  int
	NotBefore time.Time

	backoff *backoff.ExponentialBackOff
}

// QueuedEntry is a read-only view of a queued entry
type QueuedEntry struct {
	EventID   string              `json:"event_id"`
	EventType analytics.EventType `json:"event_type"`
	Provider  string              `json:"provider"`
	Attempts  int                 `json:"attempts"`
	NotBefore time.Time           `json:"not_before"`
}

// RetryQueue holds failed deliveries until they are redelivered. It is
// bounded: when full, the oldest entry is evicted.
type RetryQueue struct {
	mu      sync.Mutex
	entries []*RetryEntry
	policy  analytics.RetryPolicy
	clock   clockwork.Clock
}

// NewRetryQueue creates a retry queue for policy
func NewRetryQueue(policy analytics.RetryPolicy, clock clockwork.Clock) *RetryQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RetryQueue{
		policy: policy,
		clock:  clock,
	}
}

// Enqueue adds a first failure of event for provider. It reports whether
// an older entry had to be evicted to make room.
func (q *RetryQueue) Enqueue(event *analytics.Event, provider string) (evicted bool) {
	entry := &RetryEntry{
		Event:    event,
		Provider: provider,
		Attempts: 1,
		backoff:  q.newBackOff(),
	}
	entry.NotBefore = q.clock.Now().Add(entry.backoff.NextBackOff())

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.appendLocked(entry)
}

// Requeue schedules another attempt for entry after a failed redelivery.
// It returns false when the entry ran out of attempts and was dropped.
func (q *RetryQueue) Requeue(entry *RetryEntry) (requeued bool, evicted bool) {
	entry.Attempts++
	if q.policy.MaxAttempts > 0 && entry.Attempts >= q.policy.MaxAttempts {
		return false, false
	}
	if entry.backoff == nil {
		entry.backoff = q.newBackOff()
	}
	entry.NotBefore = q.clock.Now().Add(entry.backoff.NextBackOff())

	q.mu.Lock()
	defer q.mu.Unlock()
	return true, q.appendLocked(entry)
}

// Restore puts back entries that were not due yet, unchanged and ahead of
// anything queued since they were drained. It returns how many of the
// oldest entries were evicted to stay within the size bound.
func (q *RetryQueue) Restore(entries []*RetryEntry) (evicted int) {
	if len(entries) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]*RetryEntry, 0, len(entries)+len(q.entries))
	merged = append(merged, entries...)
	merged = append(merged, q.entries...)
	if limit := q.policy.MaxQueueSize; limit > 0 && len(merged) > limit {
		evicted = len(merged) - limit
		merged = merged[evicted:]
	}
	q.entries = merged
	return evicted
}

// Drain removes and returns every entry. Failures during redelivery land
// in the emptied queue, never in the returned snapshot.
func (q *RetryQueue) Drain() []*RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	snapshot := q.entries
	q.entries = nil
	return snapshot
}

// Len returns the number of queued entries
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot lists queued entries in delivery order
func (q *RetryQueue) Snapshot() []QueuedEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, QueuedEntry{
			EventID:   e.Event.ID,
			EventType: e.Event.Type,
			Provider:  e.Provider,
			Attempts:  e.Attempts,
			NotBefore: e.NotBefore,
		})
	}
	return out
}

// Due reports whether entry may be redelivered now
func (q *RetryQueue) Due(entry *RetryEntry) bool {
	return !q.clock.Now().Before(entry.NotBefore)
}

func (q *RetryQueue) appendLocked(entry *RetryEntry) bool {
	evicted := false
	if q.policy.MaxQueueSize > 0 && len(q.entries) >= q.policy.MaxQueueSize {
		q.entries = q.entries[1:]
		evicted = true
	}
	q.entries = append(q.entries, entry)
	return evicted
}

func (q *RetryQueue) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if q.policy.InitialInterval > 0 {
		b.InitialInterval = q.policy.InitialInterval
	}
	if q.policy.MaxInterval > 0 {
		b.MaxInterval = q.policy.MaxInterval
	}
	if q.policy.Multiplier > 0 {
		b.Multiplier = q.policy.Multiplier
	}
	b.RandomizationFactor = q.policy.Jitter
	b.MaxElapsedTime = 0
	b.Clock = q.clock
	b.Reset()
	return b
}
