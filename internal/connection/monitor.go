// Package connection implements the heartbeat-based health monitor for the
// persistent realtime channel. It decides liveness from heartbeat timing
// alone, drives reconnection with capped exponential backoff, and switches
// the session into polling fallback once reconnection is exhausted.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/telemetry"
	"github.com/google/uuid"
)

// Config contains health monitor configuration.
type Config struct {
	CheckInterval        time.Duration
	LivenessThreshold    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

// DefaultConfig returns default monitor configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:        10 * time.Second,
		LivenessThreshold:    45 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// Reconnector re-establishes the persistent channel. It must be safe to call
// repeatedly.
type Reconnector func(ctx context.Context) error

// StateListener observes connection health transitions.
type StateListener func(domain.ConnectionHealth)

// Monitor tracks liveness of the persistent channel. It never touches
// business data, only liveness bookkeeping.
type Monitor struct {
	config     Config
	reconnect  Reconnector
	onFallback func()
	sink       *telemetry.Sink

	mu              sync.Mutex
	health          domain.ConnectionHealth
	fallback        bool
	reconnecting    bool
	nextReconnectAt time.Time
	listeners       map[string]StateListener

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a health monitor. onFallback fires exactly once when
// reconnection is exhausted; it is not called again until NetworkRestored
// re-arms push reconnection.
func NewMonitor(config Config, reconnect Reconnector, onFallback func(), sink *telemetry.Sink) *Monitor {
	def := DefaultConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.LivenessThreshold <= 0 {
		config.LivenessThreshold = def.LivenessThreshold
	}
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if config.ReconnectMaxDelay <= 0 {
		config.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = def.MaxReconnectAttempts
	}

	return &Monitor{
		config:     config,
		reconnect:  reconnect,
		onFallback: onFallback,
		sink:       sink,
		health: domain.ConnectionHealth{
			LastHeartbeat: time.Now(),
			Quality:       domain.ConnectionQualityOffline,
		},
		listeners: make(map[string]StateListener),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the periodic health check loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.CheckHealth(ctx)
			}
		}
	}()
}

// Stop terminates the check loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// RecordHeartbeat notes inbound traffic on the channel. Any inbound signal
// counts: ping, alert, presence sync.
func (m *Monitor) RecordHeartbeat() {
	m.mu.Lock()
	wasConnected := m.health.Connected
	m.health.LastHeartbeat = time.Now()
	m.health.Connected = true
	m.mu.Unlock()

	if !wasConnected {
		m.notifyListeners()
	}
	recordConnected(true)
}

// Health returns the current connection health with quality derived from
// heartbeat age.
func (m *Monitor) Health() domain.ConnectionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.health
	h.Quality = m.qualityLocked(time.Now())
	return h
}

// FallbackActive reports whether the monitor has permanently switched the
// session to polling fallback.
func (m *Monitor) FallbackActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallback
}

// CheckHealth runs one health check cycle. If the channel has been silent
// past the liveness threshold it performs at most one reconnect attempt,
// spaced by capped exponential backoff across cycles. Once attempts are
// exhausted the polling fallback is activated and push reconnection ceases
// until NetworkRestored.
func (m *Monitor) CheckHealth(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	if m.fallback {
		m.mu.Unlock()
		return
	}

	age := now.Sub(m.health.LastHeartbeat)
	if age <= m.config.LivenessThreshold {
		m.mu.Unlock()
		return
	}

	wasConnected := m.health.Connected
	m.health.Connected = false

	if m.reconnecting || now.Before(m.nextReconnectAt) {
		m.mu.Unlock()
		if wasConnected {
			m.notifyListeners()
		}
		return
	}
	m.reconnecting = true
	attempt := m.health.ReconnectAttempts
	m.mu.Unlock()

	if wasConnected {
		m.sink.Emit(telemetry.CategoryConnection, "connection unhealthy", map[string]any{
			"heartbeat_age": age.String(),
		})
		recordConnected(false)
		m.notifyListeners()
	}

	err := m.reconnect(ctx)

	m.mu.Lock()
	m.reconnecting = false
	if err == nil {
		m.health.ReconnectAttempts = 0
		m.health.Connected = true
		m.health.LastHeartbeat = time.Now()
		m.nextReconnectAt = time.Time{}
		m.mu.Unlock()

		m.sink.Emit(telemetry.CategoryConnection, "reconnected", map[string]any{
			"after_attempts": attempt,
		})
		recordConnected(true)
		m.notifyListeners()
		return
	}

	m.health.ReconnectAttempts++
	attempts := m.health.ReconnectAttempts
	recordReconnectAttempt()

	if attempts >= m.config.MaxReconnectAttempts {
		m.fallback = true
		m.mu.Unlock()

		m.sink.Emit(telemetry.CategoryConnection, "reconnection exhausted, activating polling fallback", map[string]any{
			"attempts": attempts,
		})
		recordFallbackActivation()
		m.notifyListeners()
		if m.onFallback != nil {
			m.onFallback()
		}
		return
	}

	m.nextReconnectAt = time.Now().Add(m.backoffDelay(attempts))
	m.mu.Unlock()

	m.sink.Emit(telemetry.CategoryConnection, "reconnect attempt failed", map[string]any{
		"attempt": attempts,
		"error":   err.Error(),
	})
	m.notifyListeners()
}

// Reset clears the fallback latch and all reconnection bookkeeping. Called
// when a session establishes fresh channels over a verified working
// transport.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.fallback = false
	m.health.ReconnectAttempts = 0
	m.nextReconnectAt = time.Time{}
	m.mu.Unlock()
}

// NetworkRestored re-arms push reconnection after a verified network-online
// transition.
func (m *Monitor) NetworkRestored() {
	m.Reset()

	m.sink.Emit(telemetry.CategoryConnection, "network restored, push reconnection re-armed", nil)
	m.notifyListeners()
}

// OnStateChange registers a health transition listener and returns a
// function removing exactly that registration.
func (m *Monitor) OnStateChange(fn StateListener) func() {
	id := uuid.NewString()
	m.mu.Lock()
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// backoffDelay is min(base * 2^(attempts-1), max) for attempts >= 1.
func (m *Monitor) backoffDelay(attempts int) time.Duration {
	delay := m.config.ReconnectBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= m.config.ReconnectMaxDelay {
			return m.config.ReconnectMaxDelay
		}
	}
	if delay > m.config.ReconnectMaxDelay {
		delay = m.config.ReconnectMaxDelay
	}
	return delay
}

func (m *Monitor) qualityLocked(now time.Time) domain.ConnectionQuality {
	if m.fallback || !m.health.Connected {
		return domain.ConnectionQualityOffline
	}
	age := now.Sub(m.health.LastHeartbeat)
	switch {
	case age <= m.config.CheckInterval:
		return domain.ConnectionQualityExcellent
	case age <= m.config.LivenessThreshold/2:
		return domain.ConnectionQualityGood
	default:
		return domain.ConnectionQualityPoor
	}
}

func (m *Monitor) notifyListeners() {
	health := m.Health()

	m.mu.Lock()
	listeners := make([]StateListener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(health)
	}
}
