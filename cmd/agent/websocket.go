package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cpltrack/fieldsync/internal/connectivity"
	"github.com/cpltrack/fieldsync/internal/logging"
	"github.com/cpltrack/fieldsync/internal/models"
	"github.com/cpltrack/fieldsync/internal/notify"
	"github.com/cpltrack/fieldsync/internal/uuid"
)

const (
	EventToast               = "toast"
	EventConnectivityChanged = "connectivity.changed"
	EventQueueChanged        = "queue.changed"
	EventReportChanged       = "report.changed"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

type wsMessage struct {
	eventType string
	payload   []byte
}

// WSClient is one connected UI.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu            sync.Mutex
	subscriptions map[string]bool
}

// wants reports whether the client should get eventType. A client without
// subscriptions gets everything.
func (c *WSClient) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[eventType]
}

// WSHub keeps the connected clients and pushes toasts and state changes to them.
// It implements notify.Notifier and offline.Observer.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan wsMessage
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex

	upgrader websocket.Upgrader
}

// NewWSHub starts a hub accepting connections from allowedOrigins hosts.
// An empty list accepts localhost only.
func NewWSHub(allowedOrigins []string) *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan wsMessage, sendBuffer),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	go hub.run()
	return hub
}

func originChecker(allowed []string) func(r *http.Request) bool {
	hosts := make(map[string]bool)
	for _, h := range allowed {
		hosts[strings.ToLower(strings.TrimSpace(h))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if len(hosts) == 0 {
			return u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1"
		}
		return hosts[strings.ToLower(u.Host)] || hosts[strings.ToLower(u.Hostname())]
	}
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("WebSocket client connected", map[string]interface{}{"client_id": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("WebSocket client disconnected", map[string]interface{}{"client_id": client.id, "total": total})

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wants(msg.eventType) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// slow consumer
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Close disconnects every client and stops the hub.
func (h *WSHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		<-h.stopped
	})
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every interested client.
func (h *WSHub) Broadcast(eventType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal websocket message", err, map[string]interface{}{"type": eventType})
		return
	}

	select {
	case h.broadcast <- wsMessage{eventType: eventType, payload: payload}:
	case <-h.done:
	}
}

// Notify pushes a toast.
func (h *WSHub) Notify(message string, level notify.Level) {
	h.Broadcast(EventToast, map[string]interface{}{
		"message": message,
		"level":   string(level),
	})
}

// QueueChanged pushes the pending actions.
func (h *WSHub) QueueChanged(queue []models.QueuedAction) {
	h.Broadcast(EventQueueChanged, map[string]interface{}{
		"queue":   queue,
		"pending": len(queue),
	})
}

// ReportChanged pushes the current report; nil means it was dismissed.
func (h *WSHub) ReportChanged(report *models.SyncReport) {
	h.Broadcast(EventReportChanged, map[string]interface{}{
		"report": report,
	})
}

// ConnectivityChanged pushes the connectivity state.
func (h *WSHub) ConnectivityChanged(status connectivity.Status) {
	h.Broadcast(EventConnectivityChanged, map[string]interface{}{
		"isOnline":           status.IsOnline,
		"isSimulatedOffline": status.IsSimulatedOffline,
		"state":              string(status.State),
	})
}

// readPump pumps messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WebSocket read error", map[string]interface{}{"client_id": c.id, "error": err.Error()})
			}
			return
		}

		var msg struct {
			Action string   `json:"action"`
			Events []string `json:"events"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			logging.Debug("Invalid websocket message", map[string]interface{}{"client_id": c.id})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})

		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()

		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends a control answer to this client only.
func (c *WSClient) reply(body map[string]interface{}) {
	body["timestamp"] = time.Now().UnixMilli()
	payload, _ := json.Marshal(body)

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// HandleWebSocket upgrades the request and attaches the client to hub.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:            uuid.New(),
			conn:          conn,
			send:          make(chan []byte, sendBuffer),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
