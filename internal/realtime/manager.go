package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/connection"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/polling"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/telemetry"
	"github.com/google/uuid"
)

// Errors surfaced to callers.
var (
	ErrNotInitialized      = errors.New("channel manager not initialized")
	ErrNoRecipients        = errors.New("no recipients")
	ErrAllRecipientsFailed = errors.New("alert publish failed for every recipient")
)

// Config contains channel manager configuration.
type Config struct {
	// PollInterval is the degraded-mode poll period.
	PollInterval time.Duration
	// DisplayName is the owner's name stamped on outgoing alerts and
	// presence records.
	DisplayName string
}

// Manager multiplexes one outbound alert channel per recipient and one
// shared presence feed. Callers never see reconnection or fallback
// mechanics.
type Manager struct {
	config    Config
	transport Transport
	monitor   *connection.Monitor
	poller    *polling.Driver
	contacts  ContactResolver
	sink      *telemetry.Sink

	runCtx context.Context

	mu           sync.Mutex
	ownerID      string
	initialized  bool
	degraded     bool
	alertSubs    map[string]AlertHandler
	presenceSubs map[string]PresenceHandler
}

// NewManager creates a channel manager. The manager owns its health monitor:
// reconnection re-subscribes the push channels, and exhausted reconnection
// flips the owner into polling mode.
func NewManager(config Config, monitorConfig connection.Config, transport Transport, poller *polling.Driver, contacts ContactResolver, sink *telemetry.Sink) *Manager {
	if config.PollInterval <= 0 {
		config.PollInterval = 15 * time.Second
	}

	m := &Manager{
		config:       config,
		transport:    transport,
		poller:       poller,
		contacts:     contacts,
		sink:         sink,
		runCtx:       context.Background(),
		alertSubs:    make(map[string]AlertHandler),
		presenceSubs: make(map[string]PresenceHandler),
	}
	m.monitor = connection.NewMonitor(monitorConfig, m.resubscribe, m.enterDegradedMode, sink)
	return m
}

// Run starts the health check loop. ctx bounds all background work,
// including degraded-mode polling.
func (m *Manager) Run(ctx context.Context) {
	m.runCtx = ctx
	m.monitor.Start(ctx)
}

// Stop tears down channels and halts the monitor.
func (m *Manager) Stop() {
	m.Cleanup(context.Background())
	m.monitor.Stop()
}

// Monitor exposes connection health for status display.
func (m *Manager) Monitor() *connection.Monitor {
	return m.monitor
}

// Initialize subscribes the owner's channels. Re-invoking with the same
// owner id is a no-op; a different owner id fully tears down prior channels
// first so subscriptions never leak across identity changes.
func (m *Manager) Initialize(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return errors.New("owner id is required")
	}

	m.mu.Lock()
	if m.initialized && m.ownerID == ownerID {
		m.mu.Unlock()
		return nil
	}
	alreadyInitialized := m.initialized
	m.mu.Unlock()

	if alreadyInitialized {
		if err := m.Cleanup(ctx); err != nil {
			return fmt.Errorf("cleanup previous owner: %w", err)
		}
	}

	if err := m.subscribe(ctx, ownerID); err != nil {
		return fmt.Errorf("subscribe channels: %w", err)
	}

	record := domain.PresenceRecord{
		UserID:      ownerID,
		DisplayName: m.config.DisplayName,
		Status:      domain.PresenceStatusOnline,
		LastSeen:    time.Now(),
	}
	if err := m.transport.TrackPresence(ctx, record); err != nil {
		return fmt.Errorf("track presence: %w", err)
	}

	m.mu.Lock()
	m.ownerID = ownerID
	m.initialized = true
	m.mu.Unlock()

	// A fresh session starts with a clean reconnection slate; exhausted
	// fallback state from a prior owner must not carry over.
	m.monitor.Reset()
	m.monitor.RecordHeartbeat()
	m.sink.Emit(telemetry.CategoryRealtime, "channels initialized", map[string]any{
		"owner_id": ownerID,
	})
	return nil
}

// Cleanup unregisters all consumer handlers, untracks presence,
// unsubscribes every channel, and resets internal maps. Safe to call
// multiple times.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil
	}
	ownerID := m.ownerID
	m.ownerID = ""
	m.initialized = false
	m.degraded = false
	m.alertSubs = make(map[string]AlertHandler)
	m.presenceSubs = make(map[string]PresenceHandler)
	m.mu.Unlock()

	m.poller.Stop(alertsPollKey(ownerID))
	m.poller.Stop(presencePollKey(ownerID))

	if err := m.transport.UntrackPresence(ctx, ownerID); err != nil {
		m.sink.Emit(telemetry.CategoryRealtime, "untrack presence failed", map[string]any{
			"owner_id": ownerID,
			"error":    err.Error(),
		})
	}
	if err := m.transport.Unsubscribe(ctx, ownerID); err != nil {
		m.sink.Emit(telemetry.CategoryRealtime, "unsubscribe failed", map[string]any{
			"owner_id": ownerID,
			"error":    err.Error(),
		})
	}

	m.sink.Emit(telemetry.CategoryRealtime, "channels cleaned up", map[string]any{
		"owner_id": ownerID,
	})
	return nil
}

// SendAlert stamps id and timestamp, then fans the alert out to each
// recipient's channel in parallel. Recipient failures are independent: one
// failed publish never aborts the others.
func (m *Manager) SendAlert(ctx context.Context, recipientIDs []string, draft domain.AlertDraft) (domain.Alert, error) {
	m.mu.Lock()
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return domain.Alert{}, ErrNotInitialized
	}
	if len(recipientIDs) == 0 {
		return domain.Alert{}, ErrNoRecipients
	}

	alert := domain.Alert{
		ID:         uuid.NewString(),
		Type:       draft.Type,
		SenderID:   draft.SenderID,
		SenderName: draft.SenderName,
		Message:    draft.Message,
		Urgency:    draft.Urgency,
		Timestamp:  time.Now(),
		Location:   draft.Location,
	}

	var (
		wg        sync.WaitGroup
		resultsMu sync.Mutex
		delivered int
	)
	for _, recipientID := range recipientIDs {
		wg.Add(1)
		go func(recipientID string) {
			defer wg.Done()
			if err := m.transport.PublishAlert(ctx, recipientID, alert); err != nil {
				m.sink.Emit(telemetry.CategoryRealtime, "alert publish failed", map[string]any{
					"alert_id":     alert.ID,
					"recipient_id": recipientID,
					"error":        err.Error(),
				})
				recordAlertPublish(string(alert.Type), "failed")
				return
			}
			resultsMu.Lock()
			delivered++
			resultsMu.Unlock()
			recordAlertPublish(string(alert.Type), "published")
		}(recipientID)
	}
	wg.Wait()

	if delivered > 0 {
		m.monitor.RecordHeartbeat()
	}

	m.sink.Emit(telemetry.CategoryRealtime, "alert fan-out complete", map[string]any{
		"alert_id":   alert.ID,
		"recipients": len(recipientIDs),
		"delivered":  delivered,
		"urgency":    string(alert.Urgency),
	})

	if delivered == 0 {
		return alert, fmt.Errorf("%w: %d recipients", ErrAllRecipientsFailed, len(recipientIDs))
	}
	return alert, nil
}

// SendCrisisAlert fans a high-urgency crisis alert out to the owner's
// support contacts.
func (m *Manager) SendCrisisAlert(ctx context.Context, message string, location *domain.Location) (domain.Alert, error) {
	m.mu.Lock()
	ownerID := m.ownerID
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return domain.Alert{}, ErrNotInitialized
	}

	recipients, err := m.contacts.SupportContacts(ctx, ownerID)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("resolve support contacts: %w", err)
	}

	m.sink.Emit(telemetry.CategoryCrisis, "crisis alert requested", map[string]any{
		"owner_id":   ownerID,
		"recipients": len(recipients),
	})

	return m.SendAlert(ctx, recipients, domain.AlertDraft{
		Type:       domain.AlertTypeCrisis,
		SenderID:   ownerID,
		SenderName: m.config.DisplayName,
		Message:    message,
		Urgency:    domain.AlertUrgencyHigh,
		Location:   location,
	})
}

// UpdateStatus republishes the owner's own presence record,
// last-write-wins.
func (m *Manager) UpdateStatus(ctx context.Context, status domain.PresenceStatus) error {
	m.mu.Lock()
	ownerID := m.ownerID
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}

	return m.transport.TrackPresence(ctx, domain.PresenceRecord{
		UserID:      ownerID,
		DisplayName: m.config.DisplayName,
		Status:      status,
		LastSeen:    time.Now(),
	})
}

// OnAlert registers an alert consumer. Every registered consumer receives
// each inbound alert exactly once; the returned function removes only this
// registration.
func (m *Manager) OnAlert(fn AlertHandler) func() {
	id := uuid.NewString()
	m.mu.Lock()
	m.alertSubs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.alertSubs, id)
		m.mu.Unlock()
	}
}

// OnPresenceUpdate registers a presence consumer with the same
// multi-consumer contract as OnAlert.
func (m *Manager) OnPresenceUpdate(fn PresenceHandler) func() {
	id := uuid.NewString()
	m.mu.Lock()
	m.presenceSubs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.presenceSubs, id)
		m.mu.Unlock()
	}
}

// DegradedMode reports whether the owner is currently served by polling.
func (m *Manager) DegradedMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// NetworkRestored reverses the polling fallback after a verified
// network-online transition: polling stops before push channels
// resubscribe, so nothing is delivered twice.
func (m *Manager) NetworkRestored() {
	m.mu.Lock()
	ownerID := m.ownerID
	initialized := m.initialized
	m.degraded = false
	m.mu.Unlock()

	if !initialized {
		m.monitor.NetworkRestored()
		return
	}

	m.poller.Stop(alertsPollKey(ownerID))
	m.poller.Stop(presencePollKey(ownerID))

	m.monitor.NetworkRestored()

	if err := m.subscribe(m.runCtx, ownerID); err != nil {
		m.sink.Emit(telemetry.CategoryRealtime, "push resubscribe failed after network restore", map[string]any{
			"owner_id": ownerID,
			"error":    err.Error(),
		})
		return
	}
	m.monitor.RecordHeartbeat()
}

// subscribe attaches the owner's alert channel and the shared presence
// channel. Inbound traffic on either counts as a heartbeat.
func (m *Manager) subscribe(ctx context.Context, ownerID string) error {
	if err := m.transport.SubscribeAlerts(ctx, ownerID, func(alert domain.Alert) {
		m.monitor.RecordHeartbeat()
		m.dispatchAlert(alert)
	}); err != nil {
		return err
	}

	return m.transport.SubscribePresence(ctx, ownerID, func(records []domain.PresenceRecord) {
		m.monitor.RecordHeartbeat()
		m.dispatchPresence(records)
	})
}

// resubscribe is the monitor's reconnector.
func (m *Manager) resubscribe(ctx context.Context) error {
	m.mu.Lock()
	ownerID := m.ownerID
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return nil
	}
	return m.subscribe(ctx, ownerID)
}

// enterDegradedMode switches the owner from push to polling. Fired by the
// monitor exactly once per fallback activation; polling and push are
// mutually exclusive per owner.
func (m *Manager) enterDegradedMode() {
	m.mu.Lock()
	ownerID := m.ownerID
	initialized := m.initialized
	alreadyDegraded := m.degraded
	m.degraded = true
	m.mu.Unlock()

	if !initialized || alreadyDegraded {
		return
	}

	recordDegradedMode(true)
	m.sink.Emit(telemetry.CategoryRealtime, "entering polling mode", map[string]any{
		"owner_id": ownerID,
	})

	if err := m.transport.Unsubscribe(m.runCtx, ownerID); err != nil {
		m.sink.Emit(telemetry.CategoryRealtime, "push unsubscribe failed entering polling mode", map[string]any{
			"owner_id": ownerID,
			"error":    err.Error(),
		})
	}

	since := m.monitor.Health().LastHeartbeat

	m.poller.Start(m.runCtx, alertsPollKey(ownerID), m.config.PollInterval, since,
		func(ctx context.Context, since time.Time) ([]byte, error) {
			alerts, err := m.transport.AlertsSince(ctx, ownerID, since)
			if err != nil {
				return nil, err
			}
			return json.Marshal(alerts)
		},
		func(data []byte) {
			var alerts []domain.Alert
			if err := json.Unmarshal(data, &alerts); err != nil {
				m.sink.Emit(telemetry.CategoryRealtime, "polled alerts decode failed", map[string]any{
					"error": err.Error(),
				})
				return
			}
			for _, alert := range alerts {
				m.dispatchAlert(alert)
			}
		},
	)

	m.poller.Start(m.runCtx, presencePollKey(ownerID), m.config.PollInterval, since,
		func(ctx context.Context, _ time.Time) ([]byte, error) {
			records, err := m.transport.PresenceSnapshot(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(records)
		},
		func(data []byte) {
			var records []domain.PresenceRecord
			if err := json.Unmarshal(data, &records); err != nil {
				m.sink.Emit(telemetry.CategoryRealtime, "polled presence decode failed", map[string]any{
					"error": err.Error(),
				})
				return
			}
			m.dispatchPresence(records)
		},
	)
}

// dispatchAlert delivers one alert to every registered consumer. A handler
// panic is caught and logged; dispatch continues to the remaining handlers.
func (m *Manager) dispatchAlert(alert domain.Alert) {
	m.mu.Lock()
	handlers := make([]AlertHandler, 0, len(m.alertSubs))
	for _, fn := range m.alertSubs {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()

	for _, fn := range handlers {
		m.safeDispatch(func() { fn(alert) }, "alert handler")
	}
}

func (m *Manager) dispatchPresence(records []domain.PresenceRecord) {
	m.mu.Lock()
	handlers := make([]PresenceHandler, 0, len(m.presenceSubs))
	for _, fn := range m.presenceSubs {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()

	for _, fn := range handlers {
		m.safeDispatch(func() { fn(records) }, "presence handler")
	}
}

func (m *Manager) safeDispatch(fn func(), kind string) {
	defer func() {
		if r := recover(); r != nil {
			m.sink.Emit(telemetry.CategoryRealtime, kind+" panicked", map[string]any{
				"panic": fmt.Sprint(r),
			})
		}
	}()
	fn()
}

func alertsPollKey(ownerID string) string   { return "alerts:" + ownerID }
func presencePollKey(ownerID string) string { return "presence:" + ownerID }
