// Package ws is the websocket-backed realtime transport: a hub of
// per-user connections carrying alert and presence traffic, plus the pull
// surface the polling fallback reads from.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/realtime"
)

// Config contains hub configuration.
type Config struct {
	SendBufferSize int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	HistoryPerUser int
	AllowAnyOrigin bool
}

// DefaultConfig returns default hub configuration.
func DefaultConfig() Config {
	return Config{
		SendBufferSize: 64,
		PingInterval:   25 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 8 * 1024,
		HistoryPerUser: 200,
		AllowAnyOrigin: true,
	}
}

// Hub routes alerts to per-user channels and maintains the shared presence
// set. It also keeps a bounded per-user alert history so polling mode can
// backfill what push missed.
type Hub struct {
	config Config
	logger *slog.Logger

	// onTraffic fires on every inbound websocket frame, wired to the
	// connection monitor's heartbeat.
	onTraffic func()

	mu           sync.RWMutex
	conns        map[string]map[string]*Conn
	presence     map[string]domain.PresenceRecord
	history      map[string][]domain.Alert
	alertSubs    map[string]realtime.AlertHandler
	presenceSubs map[string]realtime.PresenceHandler
}

// NewHub creates a hub.
func NewHub(config Config, logger *slog.Logger) *Hub {
	def := DefaultConfig()
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = def.SendBufferSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = def.PongTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	if config.HistoryPerUser <= 0 {
		config.HistoryPerUser = def.HistoryPerUser
	}

	return &Hub{
		config:       config,
		logger:       logger,
		conns:        make(map[string]map[string]*Conn),
		presence:     make(map[string]domain.PresenceRecord),
		history:      make(map[string][]domain.Alert),
		alertSubs:    make(map[string]realtime.AlertHandler),
		presenceSubs: make(map[string]realtime.PresenceHandler),
	}
}

// OnTraffic sets the inbound-frame hook. Must be called before ServeWS
// accepts connections.
func (h *Hub) OnTraffic(fn func()) {
	h.onTraffic = fn
}

// SubscribeAlerts attaches fn to the user's dedicated alert channel.
func (h *Hub) SubscribeAlerts(_ context.Context, userID string, fn realtime.AlertHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alertSubs[userID] = fn
	return nil
}

// SubscribePresence attaches fn to the shared presence channel and
// immediately delivers the current snapshot.
func (h *Hub) SubscribePresence(_ context.Context, userID string, fn realtime.PresenceHandler) error {
	h.mu.Lock()
	h.presenceSubs[userID] = fn
	snapshot := h.snapshotLocked()
	h.mu.Unlock()

	fn(snapshot)
	return nil
}

// PublishAlert delivers one alert to the recipient's channel: the local
// subscriber handler if registered, every open websocket connection, and
// the recipient's history ring.
func (h *Hub) PublishAlert(_ context.Context, recipientID string, alert domain.Alert) error {
	h.mu.Lock()
	ring := append(h.history[recipientID], alert)
	if excess := len(ring) - h.config.HistoryPerUser; excess > 0 {
		ring = ring[excess:]
	}
	h.history[recipientID] = ring

	sub := h.alertSubs[recipientID]
	conns := make([]*Conn, 0, len(h.conns[recipientID]))
	for _, c := range h.conns[recipientID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if sub != nil {
		sub(alert)
	}

	var lastErr error
	for _, c := range conns {
		if err := c.sendEnvelope(envelope{Type: frameAlert, Alert: &alert}); err != nil {
			lastErr = err
			h.logger.Warn("alert frame dropped",
				"recipient_id", recipientID,
				"conn_id", c.id,
				"error", err)
		}
	}
	if sub == nil && len(conns) == 0 {
		return fmt.Errorf("recipient %s has no open channel", recipientID)
	}
	return lastErr
}

// TrackPresence upserts the user's presence record and pushes the updated
// snapshot to every presence subscriber, last-write-wins.
func (h *Hub) TrackPresence(_ context.Context, record domain.PresenceRecord) error {
	h.mu.Lock()
	h.presence[record.UserID] = record
	h.mu.Unlock()

	h.broadcastPresence()
	return nil
}

// UntrackPresence removes the user's presence record and pushes the
// updated snapshot.
func (h *Hub) UntrackPresence(_ context.Context, userID string) error {
	h.mu.Lock()
	delete(h.presence, userID)
	h.mu.Unlock()

	h.broadcastPresence()
	return nil
}

// PresenceSnapshot returns the current shared-channel membership.
func (h *Hub) PresenceSnapshot(_ context.Context) ([]domain.PresenceRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked(), nil
}

// AlertsSince returns the user's recent alerts newer than since, oldest
// first.
func (h *Hub) AlertsSince(_ context.Context, userID string, since time.Time) ([]domain.Alert, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []domain.Alert
	for _, alert := range h.history[userID] {
		if alert.Timestamp.After(since) {
			out = append(out, alert)
		}
	}
	return out, nil
}

// Unsubscribe detaches the user's alert and presence subscriptions.
// Websocket connections stay open; they are closed by their own lifecycle.
func (h *Hub) Unsubscribe(_ context.Context, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.alertSubs, userID)
	delete(h.presenceSubs, userID)
	return nil
}

// Close shuts every open connection down.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0)
	for _, byID := range h.conns {
		for _, c := range byID {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	if h.conns[c.userID] == nil {
		h.conns[c.userID] = make(map[string]*Conn)
	}
	h.conns[c.userID][c.id] = c
	total := len(h.conns[c.userID])
	h.mu.Unlock()

	recordConnections(h.connectionCount())
	h.logger.Info("websocket connected", "user_id", c.userID, "conn_id", c.id, "user_conns", total)
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if byID, ok := h.conns[c.userID]; ok {
		delete(byID, c.id)
		if len(byID) == 0 {
			delete(h.conns, c.userID)
		}
	}
	h.mu.Unlock()

	recordConnections(h.connectionCount())
	h.logger.Info("websocket disconnected", "user_id", c.userID, "conn_id", c.id)
}

func (h *Hub) connectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, byID := range h.conns {
		n += len(byID)
	}
	return n
}

func (h *Hub) broadcastPresence() {
	h.mu.RLock()
	snapshot := h.snapshotLocked()
	subs := make([]realtime.PresenceHandler, 0, len(h.presenceSubs))
	for _, fn := range h.presenceSubs {
		subs = append(subs, fn)
	}
	conns := make([]*Conn, 0)
	for _, byID := range h.conns {
		for _, c := range byID {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	for _, c := range conns {
		if err := c.sendEnvelope(envelope{Type: framePresence, Presence: snapshot}); err != nil {
			h.logger.Warn("presence frame dropped", "conn_id", c.id, "error", err)
		}
	}
}

// snapshotLocked returns the membership sorted by user id so consumers see
// a stable ordering. Callers hold h.mu.
func (h *Hub) snapshotLocked() []domain.PresenceRecord {
	out := make([]domain.PresenceRecord, 0, len(h.presence))
	for _, record := range h.presence {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
