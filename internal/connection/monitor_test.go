package connection

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

func testSink() *telemetry.Sink {
	return telemetry.NewSink(slog.New(slog.NewTextHandler(io.Discard, nil)), 64)
}

// countingReconnector scripts reconnect outcomes and counts invocations.
type countingReconnector struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (c *countingReconnector) reconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := c.calls
	c.calls++
	if call < len(c.errs) {
		return c.errs[call]
	}
	return nil
}

func (c *countingReconnector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testMonitorConfig() Config {
	return Config{
		CheckInterval:        time.Hour, // checks are driven manually in tests
		LivenessThreshold:    5 * time.Millisecond,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    8 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

func TestMonitor_CheckHealth_HealthyChannelUntouched(t *testing.T) {
	rec := &countingReconnector{}
	m := NewMonitor(testMonitorConfig(), rec.reconnect, nil, testSink())

	m.RecordHeartbeat()
	m.CheckHealth(context.Background())

	assert.Equal(t, 0, rec.callCount())
	assert.True(t, m.Health().Connected)
}

func TestMonitor_CheckHealth_OneReconnectPerCycle(t *testing.T) {
	rec := &countingReconnector{errs: []error{errors.New("dial failed")}}
	m := NewMonitor(testMonitorConfig(), rec.reconnect, nil, testSink())

	m.RecordHeartbeat()
	time.Sleep(10 * time.Millisecond)

	// First cycle: exactly one attempt.
	m.CheckHealth(context.Background())
	assert.Equal(t, 1, rec.callCount())

	// Immediate re-check falls inside the backoff window: no second attempt.
	m.CheckHealth(context.Background())
	assert.Equal(t, 1, rec.callCount())

	// After the backoff elapses the next cycle attempts again and succeeds.
	time.Sleep(10 * time.Millisecond)
	m.CheckHealth(context.Background())
	assert.Equal(t, 2, rec.callCount())

	health := m.Health()
	assert.True(t, health.Connected)
	assert.Equal(t, 0, health.ReconnectAttempts, "attempts reset on success")
}

func TestMonitor_CheckHealth_FallbackActivatedExactlyOnce(t *testing.T) {
	boom := errors.New("dial failed")
	rec := &countingReconnector{errs: []error{boom, boom, boom, boom, boom, boom}}

	var fallbackCalls int
	m := NewMonitor(testMonitorConfig(), rec.reconnect, func() { fallbackCalls++ }, testSink())

	m.RecordHeartbeat()
	time.Sleep(10 * time.Millisecond)

	// Drive cycles until reconnection is exhausted.
	deadline := time.Now().Add(time.Second)
	for !m.FallbackActive() && time.Now().Before(deadline) {
		m.CheckHealth(context.Background())
		time.Sleep(10 * time.Millisecond)
	}

	require.True(t, m.FallbackActive())
	assert.Equal(t, 3, rec.callCount(), "push reconnection stops at the attempt cap")
	assert.Equal(t, 1, fallbackCalls)

	// Further cycles are inert while fallback is active.
	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	assert.Equal(t, 3, rec.callCount())
	assert.Equal(t, 1, fallbackCalls)
}

func TestMonitor_NetworkRestored_RearmsReconnection(t *testing.T) {
	boom := errors.New("dial failed")
	rec := &countingReconnector{errs: []error{boom, boom, boom}}
	m := NewMonitor(testMonitorConfig(), rec.reconnect, nil, testSink())

	m.RecordHeartbeat()
	time.Sleep(10 * time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for !m.FallbackActive() && time.Now().Before(deadline) {
		m.CheckHealth(context.Background())
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, m.FallbackActive())

	m.NetworkRestored()
	assert.False(t, m.FallbackActive())
	assert.Equal(t, 0, m.Health().ReconnectAttempts)

	// Next stale cycle attempts push again, and the scripted errors are
	// spent, so it succeeds.
	m.CheckHealth(context.Background())
	assert.Equal(t, 4, rec.callCount())
	assert.True(t, m.Health().Connected)
}

func TestMonitor_BackoffDelay_MonotonicAndCapped(t *testing.T) {
	m := NewMonitor(Config{
		CheckInterval:        time.Hour,
		LivenessThreshold:    time.Hour,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    10 * time.Second,
		MaxReconnectAttempts: 100,
	}, nil, nil, testSink())

	var prev time.Duration
	for attempts := 1; attempts <= 20; attempts++ {
		d := m.backoffDelay(attempts)
		assert.GreaterOrEqual(t, d, prev, "delay must not decrease")
		assert.LessOrEqual(t, d, 10*time.Second, "delay must respect the cap")
		prev = d
	}
	assert.Equal(t, time.Second, m.backoffDelay(1))
	assert.Equal(t, 2*time.Second, m.backoffDelay(2))
	assert.Equal(t, 4*time.Second, m.backoffDelay(3))
	assert.Equal(t, 10*time.Second, m.backoffDelay(20))
}

func TestMonitor_Health_QualityFromHeartbeatAge(t *testing.T) {
	m := NewMonitor(Config{
		CheckInterval:        10 * time.Millisecond,
		LivenessThreshold:    100 * time.Millisecond,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    time.Millisecond,
		MaxReconnectAttempts: 3,
	}, nil, nil, testSink())

	// No heartbeat yet: offline.
	assert.Equal(t, domain.ConnectionQualityOffline, m.Health().Quality)

	m.RecordHeartbeat()
	assert.Equal(t, domain.ConnectionQualityExcellent, m.Health().Quality)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.ConnectionQualityGood, m.Health().Quality)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, domain.ConnectionQualityPoor, m.Health().Quality)
}

func TestMonitor_OnStateChange_UnsubscribeRemovesListener(t *testing.T) {
	m := NewMonitor(testMonitorConfig(), nil, nil, testSink())

	var mu sync.Mutex
	var notified int
	unsubscribe := m.OnStateChange(func(domain.ConnectionHealth) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	m.RecordHeartbeat()
	mu.Lock()
	count := notified
	require.Positive(t, count)
	mu.Unlock()

	unsubscribe()
	// Disconnect-reconnect transition would notify; force one via heartbeat
	// after marking disconnected state through a fresh monitor heartbeat.
	m.mu.Lock()
	m.health.Connected = false
	m.mu.Unlock()
	m.RecordHeartbeat()

	mu.Lock()
	assert.Equal(t, count, notified, "unsubscribed listener must not fire")
	mu.Unlock()
}
