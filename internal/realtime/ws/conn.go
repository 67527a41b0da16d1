package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/pkg/httputil"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	frameAlert    = "alert"
	framePresence = "presence"
	framePing     = "ping"
	framePong     = "pong"
)

// envelope is the wire frame exchanged on a websocket connection.
type envelope struct {
	Type     string                  `json:"type"`
	Alert    *domain.Alert           `json:"alert,omitempty"`
	Presence []domain.PresenceRecord `json:"presence,omitempty"`
}

// Conn is one registered websocket connection.
type Conn struct {
	id     string
	userID string
	hub    *Hub
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}

	closeOnce sync.Once
}

// ServeWS handles GET /ws?user_id=...: it upgrades the request and runs
// the connection's read and write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httputil.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return h.config.AllowAnyOrigin
		},
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	c := &Conn{
		id:     uuid.NewString(),
		userID: userID,
		hub:    h,
		ws:     ws,
		send:   make(chan []byte, h.config.SendBufferSize),
		done:   make(chan struct{}),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (c *Conn) sendEnvelope(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full for connection %s", c.id)
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.config.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.PongTimeout))
		if c.hub.onTraffic != nil {
			c.hub.onTraffic()
		}
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "conn_id", c.id, "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.PongTimeout))
		if c.hub.onTraffic != nil {
			c.hub.onTraffic()
		}
		c.handleFrame(message)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handleFrame(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.hub.logger.Warn("unparseable websocket frame", "conn_id", c.id, "error", err)
		return
	}

	switch env.Type {
	case framePing:
		if err := c.sendEnvelope(envelope{Type: framePong}); err != nil && !errors.Is(err, errConnClosed) {
			c.hub.logger.Warn("pong dropped", "conn_id", c.id, "error", err)
		}
	default:
		// Inbound traffic of any type already counted as a heartbeat.
	}
}

var errConnClosed = errors.New("connection closed")
