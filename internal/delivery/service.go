package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/pkg/privacy"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/telemetry"
	"github.com/google/uuid"
)

// Config contains delivery retry configuration.
type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultConfig returns default delivery configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// StatusListener observes delivery-status transitions.
type StatusListener func(domain.DeliveryStatus)

// Service is the store-and-forward delivery queue: it validates addresses,
// performs the initial attempt, and hands transient failures to the retry
// processor.
type Service struct {
	config Config
	store  *Store
	sender Sender
	sink   *telemetry.Sink

	mu        sync.Mutex
	listeners map[string]StatusListener
}

// NewService creates a delivery service.
func NewService(config Config, store *Store, sender Sender, sink *telemetry.Sink) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if config.BackoffMultiplier <= 1 {
		config.BackoffMultiplier = DefaultConfig().BackoffMultiplier
	}
	return &Service{
		config:    config,
		store:     store,
		sender:    sender,
		sink:      sink,
		listeners: make(map[string]StatusListener),
	}
}

// Send validates the message, performs one delivery attempt, and schedules a
// retry on transient failure. Invalid addresses fail immediately and are
// never retried. The returned id addresses the message's status record.
func (s *Service) Send(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	if msg.Body == "" {
		return "", ErrEmptyBody
	}

	v := ValidateAddress(msg.To)
	if !v.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, v.Warnings)
	}
	msg.To = v.Normalized

	now := time.Now()
	item := &QueueItem{
		ID:          uuid.NewString(),
		Message:     msg,
		State:       domain.DeliveryStateQueued,
		MaxAttempts: s.config.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.store.Insert(item)
	s.emit("message queued", item)

	err := s.attempt(ctx, item)
	if err == nil {
		return item.ID, nil
	}

	if !isRetryable(err) {
		s.store.MarkTerminal(item.ID, domain.DeliveryStateUndelivered, err)
		s.emit("message undeliverable", item)
		s.notify(item.ID)
		recordDelivery(string(msg.Category), "undelivered")
		return item.ID, fmt.Errorf("deliver message: %w", err)
	}

	// Transient failure: enqueue for the retry processor with a zero retry
	// count; the initial attempt is not counted against MaxAttempts.
	s.store.MarkForRetry(item.ID, err, time.Now().Add(s.config.InitialBackoff), false)
	s.emit("message scheduled for retry", item)
	s.notify(item.ID)
	recordDelivery(string(msg.Category), "retry")
	return item.ID, nil
}

// SendWithRetry retries inline with exponential backoff and returns the
// final error once all attempts are exhausted. Intended for callers that
// must await a definitive outcome; it does not use the background retry
// queue.
func (s *Service) SendWithRetry(ctx context.Context, msg domain.OutboundMessage, retries int) (string, error) {
	if msg.Body == "" {
		return "", ErrEmptyBody
	}

	v := ValidateAddress(msg.To)
	if !v.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, v.Warnings)
	}
	msg.To = v.Normalized

	now := time.Now()
	item := &QueueItem{
		ID:          uuid.NewString(),
		Message:     msg,
		State:       domain.DeliveryStateQueued,
		MaxAttempts: retries + 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.store.Insert(item)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				s.store.MarkTerminal(item.ID, domain.DeliveryStateFailed, ctx.Err())
				s.notify(item.ID)
				return item.ID, ctx.Err()
			case <-time.After(s.backoffFor(attempt)):
			}
			s.store.RecordInlineAttempt(item.ID, lastErr)
		}

		lastErr = s.attempt(ctx, item)
		if lastErr == nil {
			return item.ID, nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}

	s.store.MarkTerminal(item.ID, domain.DeliveryStateFailed, lastErr)
	s.emit("message failed after inline retries", item)
	s.notify(item.ID)
	recordDelivery(string(msg.Category), "failed")
	return item.ID, fmt.Errorf("deliver message after %d attempts: %w", retries+1, lastErr)
}

// ProcessDue runs one retry sweep: every due retry-table entry gets another
// attempt, rescheduled with backoff on renewed transient failure, terminal
// after MaxAttempts retries. Called by the worker on its tick.
func (s *Service) ProcessDue(ctx context.Context, limit int) int {
	due := s.store.DueRetries(time.Now(), limit)
	for _, item := range due {
		s.processRetry(ctx, item)
	}
	return len(due)
}

func (s *Service) processRetry(ctx context.Context, item *QueueItem) {
	err := s.attempt(ctx, item)
	if err == nil {
		return
	}

	if !isRetryable(err) {
		s.store.MarkTerminal(item.ID, domain.DeliveryStateUndelivered, err)
		s.emit("message undeliverable", item)
		s.notify(item.ID)
		recordDelivery(string(item.Message.Category), "undelivered")
		return
	}

	attempts := item.Attempts + 1
	if attempts >= item.MaxAttempts {
		s.store.MarkTerminal(item.ID, domain.DeliveryStateFailed, fmt.Errorf("max attempts exceeded: %w", err))
		s.emit("message failed", item)
		s.notify(item.ID)
		recordDelivery(string(item.Message.Category), "failed")
		return
	}

	s.store.MarkForRetry(item.ID, err, time.Now().Add(s.backoffFor(attempts)), true)
	s.emit("message rescheduled", item)
	s.notify(item.ID)
	recordDelivery(string(item.Message.Category), "retry")
}

// attempt performs one delivery attempt and records the outcome.
func (s *Service) attempt(ctx context.Context, item *QueueItem) error {
	start := time.Now()
	err := s.sender.Send(ctx, item.Message.To, item.Message.Body)
	duration := time.Since(start)

	if err != nil {
		return err
	}

	s.store.MarkDelivered(item.ID)
	s.emit("message delivered", item)
	s.notify(item.ID)
	recordDelivery(string(item.Message.Category), "delivered")
	recordDeliveryDuration(string(item.Message.Category), duration)
	return nil
}

// Status returns the delivery status for one message.
func (s *Service) Status(id string) (domain.DeliveryStatus, error) {
	return s.store.Status(id)
}

// AllStatuses returns every tracked delivery status.
func (s *Service) AllStatuses() []domain.DeliveryStatus {
	return s.store.AllStatuses()
}

// QueueStats aggregates queue counts at call time.
func (s *Service) QueueStats() QueueStats {
	return s.store.Stats()
}

// OnStatusChange registers a listener for delivery-status transitions and
// returns a function that removes exactly that registration.
func (s *Service) OnStatusChange(fn StatusListener) func() {
	id := uuid.NewString()
	s.mu.Lock()
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) notify(id string) {
	status, err := s.store.Status(id)
	if err != nil {
		return
	}

	s.mu.Lock()
	listeners := make([]StatusListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}

func (s *Service) backoffFor(attempt int) time.Duration {
	backoff := float64(s.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= s.config.BackoffMultiplier
	}
	if backoff > float64(s.config.MaxBackoff) {
		backoff = float64(s.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

func (s *Service) emit(message string, item *QueueItem) {
	s.sink.Emit(telemetry.CategoryDelivery, message, map[string]any{
		"message_id": item.ID,
		"to":         privacy.MaskAddress(item.Message.To),
		"category":   string(item.Message.Category),
		"priority":   string(item.Message.Priority),
		"attempts":   item.Attempts,
	})
}
