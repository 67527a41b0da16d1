package delivery

import (
	"fmt"
	"sync"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
)

// Store holds queue items and the retry table. All queue and retry state is
// process-local; persistence is deliberately out of scope, so the delivery
// audit trail lives for the lifetime of the session.
type Store struct {
	mu    sync.Mutex
	items map[string]*QueueItem
	retry map[string]struct{} // ids currently scheduled for retry
}

// NewStore creates an empty delivery store.
func NewStore() *Store {
	return &Store{
		items: make(map[string]*QueueItem),
		retry: make(map[string]struct{}),
	}
}

// Insert adds a new queue item in queued state.
func (s *Store) Insert(item *QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// Get returns the item for id.
func (s *Store) Get(id string) (*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return item, nil
}

// MarkDelivered records a successful delivery and removes any retry entry.
func (s *Store) MarkDelivered(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return
	}
	now := time.Now()
	item.State = domain.DeliveryStateDelivered
	item.UpdatedAt = now
	item.SentAt = &now
	item.LastError = ""
	delete(s.retry, id)
}

// MarkTerminal records a terminal failure state (failed or undelivered) and
// removes any retry entry. Idempotent: marking an already-terminal item
// again is a no-op.
func (s *Store) MarkTerminal(id string, state domain.DeliveryState, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return
	}
	if item.State == domain.DeliveryStateFailed || item.State == domain.DeliveryStateUndelivered {
		return
	}
	item.State = state
	item.UpdatedAt = time.Now()
	if cause != nil {
		item.LastError = cause.Error()
	}
	delete(s.retry, id)
}

// MarkForRetry schedules the item for another attempt. incrementAttempt is
// false for the initial send failure, which enqueues with a zero retry count.
func (s *Store) MarkForRetry(id string, cause error, nextAttempt time.Time, incrementAttempt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return
	}
	if incrementAttempt {
		item.Attempts++
	}
	item.State = domain.DeliveryStateQueued
	item.UpdatedAt = time.Now()
	item.NextAttemptAt = nextAttempt
	if cause != nil {
		item.LastError = cause.Error()
	}
	s.retry[id] = struct{}{}
}

// RecordInlineAttempt tracks a failed inline attempt (SendWithRetry path)
// without touching the retry table, so the background processor never picks
// the item up.
func (s *Store) RecordInlineAttempt(id string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return
	}
	item.Attempts++
	item.State = domain.DeliveryStateQueued
	item.UpdatedAt = time.Now()
	if cause != nil {
		item.LastError = cause.Error()
	}
}

// DueRetries returns up to limit retry-table items whose NextAttemptAt has
// elapsed, in no particular order across ticks.
func (s *Store) DueRetries(now time.Time, limit int) []*QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*QueueItem
	for id := range s.retry {
		item, ok := s.items[id]
		if !ok {
			delete(s.retry, id)
			continue
		}
		if item.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, item)
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due
}

// Status returns the delivery status for one message.
func (s *Store) Status(id string) (domain.DeliveryStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.DeliveryStatus{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return item.Status(), nil
}

// AllStatuses returns the status of every tracked message.
func (s *Store) AllStatuses() []domain.DeliveryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DeliveryStatus, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.Status())
	}
	return out
}

// Stats aggregates current queue counts.
func (s *Store) Stats() QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats QueueStats
	for id, item := range s.items {
		switch item.State {
		case domain.DeliveryStateDelivered, domain.DeliveryStateSent:
			stats.Delivered++
		case domain.DeliveryStateFailed, domain.DeliveryStateUndelivered:
			stats.Failed++
		case domain.DeliveryStateQueued:
			if _, retrying := s.retry[id]; retrying && item.Attempts > 0 {
				stats.Retrying++
			} else {
				stats.Pending++
			}
		}
	}
	return stats
}
