package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender fails with scripted errors, one per call, then succeeds.
type fakeSender struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeSender) Send(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if call < len(f.errs) {
		return f.errs[call]
	}
	return nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testSink() *telemetry.Sink {
	return telemetry.NewSink(slog.New(slog.NewTextHandler(io.Discard, nil)), 64)
}

func testConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func testMessage() domain.OutboundMessage {
	return domain.OutboundMessage{
		To:       "5551234567",
		Body:     "help",
		Category: domain.MessageCategoryCrisis,
		Priority: domain.MessagePriorityCritical,
		OwnerID:  "u1",
	}
}

func TestService_Send_DeliversFirstAttempt(t *testing.T) {
	sender := &fakeSender{}
	svc := NewService(testConfig(), NewStore(), sender, testSink())

	id, err := svc.Send(context.Background(), testMessage())

	require.NoError(t, err)
	status, err := svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStateDelivered, status.State)
	assert.Equal(t, 0, status.RetryCount)
	assert.Equal(t, 1, sender.callCount())
}

func TestService_Send_InvalidAddressNotRetried(t *testing.T) {
	sender := &fakeSender{}
	svc := NewService(testConfig(), NewStore(), sender, testSink())

	msg := testMessage()
	msg.To = "0000000000"
	id, err := svc.Send(context.Background(), msg)

	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Empty(t, id)
	assert.Equal(t, 0, sender.callCount())
}

func TestService_Send_EmptyBody(t *testing.T) {
	svc := NewService(testConfig(), NewStore(), &fakeSender{}, testSink())

	msg := testMessage()
	msg.Body = ""
	_, err := svc.Send(context.Background(), msg)

	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestService_Send_TransientFailureEnqueuesRetryWithZeroCount(t *testing.T) {
	sender := &fakeSender{errs: []error{NewRetryableError(errors.New("timeout"))}}
	svc := NewService(testConfig(), NewStore(), sender, testSink())

	id, err := svc.Send(context.Background(), testMessage())

	require.NoError(t, err, "transient failure must not surface to the caller")
	status, err := svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStateQueued, status.State)
	assert.Equal(t, 0, status.RetryCount, "initial attempt does not count against retries")

	stats := svc.QueueStats()
	assert.Equal(t, 1, stats.Pending)
}

func TestService_Send_NonRetryableFailureTerminal(t *testing.T) {
	sender := &fakeSender{errs: []error{NewNonRetryableError(errors.New("blocked recipient"))}}
	svc := NewService(testConfig(), NewStore(), sender, testSink())

	id, err := svc.Send(context.Background(), testMessage())

	require.Error(t, err)
	status, statusErr := svc.Status(id)
	require.NoError(t, statusErr)
	assert.Equal(t, domain.DeliveryStateUndelivered, status.State)

	// No retry entry: the sweep finds nothing.
	assert.Equal(t, 0, svc.ProcessDue(context.Background(), 0))
	assert.Equal(t, 1, sender.callCount())
}

func TestService_RetryProcessor_DeliversAfterTransientFailure(t *testing.T) {
	// Scenario: first attempt fails transiently, background sweep succeeds.
	sender := &fakeSender{errs: []error{NewRetryableError(errors.New("service unavailable"))}}
	svc := NewService(testConfig(), NewStore(), sender, testSink())

	id, err := svc.Send(context.Background(), testMessage())
	require.NoError(t, err)

	// The retry must be visible in the status listing before it is processed.
	statuses := svc.AllStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.DeliveryStateQueued, statuses[0].State)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, svc.ProcessDue(context.Background(), 0))

	status, err := svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStateDelivered, status.State)
	assert.Equal(t, 2, sender.callCount())
}

func TestService_RetryProcessor_ExhaustionIsTerminalAndIdempotent(t *testing.T) {
	transient := NewRetryableError(errors.New("timeout"))
	sender := &fakeSender{errs: []error{transient, transient, transient, transient, transient}}
	svc := NewService(testConfig(), NewStore(), sender, testSink())

	id, err := svc.Send(context.Background(), testMessage())
	require.NoError(t, err)

	// MaxAttempts=3: sweeps increment the retry count until exhaustion.
	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		svc.ProcessDue(context.Background(), 0)
	}

	status, err := svc.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStateFailed, status.State)
	assert.NotEmpty(t, status.ErrorCode)

	// Exhausted item is gone from the retry table: further sweeps are no-ops.
	calls := sender.callCount()
	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, 0, svc.ProcessDue(context.Background(), 0))
	assert.Equal(t, calls, sender.callCount())

	stats := svc.QueueStats()
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Retrying)
}

func TestService_SendWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	transient := NewRetryableError(errors.New("rate limit"))
	sender := &fakeSender{errs: []error{transient, transient}}
	svc := NewService(testConfig(), NewStore(), sender, testSink())

	id, err := svc.SendWithRetry(context.Background(), testMessage(), 3)

	require.NoError(t, err)
	status, statusErr := svc.Status(id)
	require.NoError(t, statusErr)
	assert.Equal(t, domain.DeliveryStateDelivered, status.State)
	assert.Equal(t, 3, sender.callCount())

	// Inline retries never land on the background retry table.
	assert.Equal(t, 0, svc.ProcessDue(context.Background(), 0))
}

func TestService_SendWithRetry_PropagatesFinalError(t *testing.T) {
	transient := NewRetryableError(errors.New("timeout"))
	sender := &fakeSender{errs: []error{transient, transient, transient}}
	svc := NewService(testConfig(), NewStore(), sender, testSink())

	id, err := svc.SendWithRetry(context.Background(), testMessage(), 2)

	require.Error(t, err)
	status, statusErr := svc.Status(id)
	require.NoError(t, statusErr)
	assert.Equal(t, domain.DeliveryStateFailed, status.State)
	assert.Equal(t, 3, sender.callCount())
}

func TestService_SendWithRetry_StopsOnNonRetryable(t *testing.T) {
	sender := &fakeSender{errs: []error{NewNonRetryableError(errors.New("invalid sender"))}}
	svc := NewService(testConfig(), NewStore(), sender, testSink())

	_, err := svc.SendWithRetry(context.Background(), testMessage(), 5)

	require.Error(t, err)
	assert.Equal(t, 1, sender.callCount(), "non-retryable errors must not be retried inline")
}

func TestService_OnStatusChange_UnsubscribeRemovesListener(t *testing.T) {
	sender := &fakeSender{}
	svc := NewService(testConfig(), NewStore(), sender, testSink())

	var mu sync.Mutex
	var seen []domain.DeliveryState
	unsubscribe := svc.OnStatusChange(func(status domain.DeliveryStatus) {
		mu.Lock()
		seen = append(seen, status.State)
		mu.Unlock()
	})

	_, err := svc.Send(context.Background(), testMessage())
	require.NoError(t, err)

	mu.Lock()
	count := len(seen)
	assert.Contains(t, seen, domain.DeliveryStateDelivered)
	mu.Unlock()

	unsubscribe()
	_, err = svc.Send(context.Background(), testMessage())
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, seen, count, "unsubscribed listener must not be invoked")
	mu.Unlock()
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"explicit retryable", NewRetryableError(errors.New("boom")), true},
		{"explicit non-retryable", NewNonRetryableError(errors.New("boom")), false},
		{"timeout by category", errors.New("i/o timeout talking to carrier"), true},
		{"rate limit by category", errors.New("429 too many requests"), true},
		{"unavailable by category", errors.New("service unavailable"), true},
		{"unknown defaults to retryable", errors.New("wire fell out"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

func TestService_BackoffFor_MonotonicAndCapped(t *testing.T) {
	svc := NewService(Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}, NewStore(), &fakeSender{}, testSink())

	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		d := svc.backoffFor(attempt)
		assert.GreaterOrEqual(t, d, prev, "backoff must not decrease")
		assert.LessOrEqual(t, d, 10*time.Second, "backoff must respect the cap")
		prev = d
	}
	assert.Equal(t, time.Second, svc.backoffFor(1))
	assert.Equal(t, 2*time.Second, svc.backoffFor(2))
	assert.Equal(t, 10*time.Second, svc.backoffFor(10))
}
