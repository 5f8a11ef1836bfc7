package renderer

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Клиенты только слушают, входящие сообщения не нужны.
	maxMessageSize = 512
	sendBuffer     = 32
)

// ErrHubClosed - хаб уже остановлен.
var ErrHubClosed = errors.New("websocket hub is closed")

// Client - одно WebSocket соединение, подписанное на сессию.
type Client struct {
	SessionID string
	conn      *websocket.Conn
	send      chan []byte
}

// Hub держит WebSocket подписчиков по сессиям и рассылает им снимки.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHub создает и запускает хаб. allowedOrigins пуст = разрешены все.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger.Named("WebSocketHub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	go h.run()
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Hub) run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for _, subs := range h.clients {
				for client := range subs {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

// add подписывает клиента сразу, чтобы следующий Render его уже видел.
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.stop:
		return false
	default:
	}
	subs, ok := h.clients[client.SessionID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.clients[client.SessionID] = subs
	}
	subs[client] = struct{}{}
	h.logger.Debug("Client registered", zap.String("session_id", client.SessionID))
	return true
}

// remove вызывается под h.mu.Lock.
func (h *Hub) remove(client *Client) {
	subs, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := subs[client]; !ok {
		return
	}
	delete(subs, client)
	close(client.send)
	if len(subs) == 0 {
		delete(h.clients, client.SessionID)
	}
	h.logger.Debug("Client unregistered", zap.String("session_id", client.SessionID))
}

// Render ставит снимок в очередь всех подписчиков сессии.
// Переполненная очередь клиента пропускает снимок.
func (h *Hub) Render(snapshot models.Snapshot) {
	h.mu.RLock()
	subs := h.clients[snapshot.SessionID]
	if len(subs) == 0 {
		h.mu.RUnlock()
		return
	}
	message, err := json.Marshal(snapshot)
	if err != nil {
		h.mu.RUnlock()
		h.logger.Error("Failed to marshal snapshot", zap.String("session_id", snapshot.SessionID), zap.Error(err))
		return
	}
	// Отправляем под RLock: remove закрывает канал только под Lock
	for client := range subs {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send queue is full, snapshot dropped", zap.String("session_id", snapshot.SessionID))
		}
	}
	h.mu.RUnlock()
}

// sendTo ставит снимок в очередь одного клиента, если он еще подписан.
func (h *Hub) sendTo(client *Client, snapshot models.Snapshot) {
	message, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error("Failed to marshal snapshot", zap.String("session_id", snapshot.SessionID), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.SessionID][client]; !ok {
		return
	}
	select {
	case client.send <- message:
	default:
		h.logger.Warn("Client send queue is full, snapshot dropped", zap.String("session_id", snapshot.SessionID))
	}
}

// ClientCount возвращает число подписчиков сессии.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Disconnect закрывает все соединения сессии (например, при ее удалении).
func (h *Hub) Disconnect(sessionID string) {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.clients[sessionID]))
	for c := range h.clients[sessionID] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()
	for _, c := range subs {
		select {
		case h.unregister <- c:
		case <-h.stop:
			return
		}
	}
}

// Close останавливает хаб и закрывает все соединения.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// ServeWS обновляет соединение до WebSocket и подписывает его на сессию.
// The caller is expected to have checked that the session exists. initial, if
// set, is called after the subscription is registered and its snapshot goes to
// the new connection only.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string, initial func() (models.Snapshot, error)) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader уже ответил клиенту
		h.logger.Warn("Failed to upgrade connection", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}

	client := &Client{SessionID: sessionID, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.add(client) {
		_ = conn.Close()
		return ErrHubClosed
	}

	log := h.logger.With(zap.String("session_id", sessionID))
	log.Info("WebSocket connection established")
	if initial != nil {
		if snap, err := initial(); err == nil {
			h.sendTo(client, snap)
		} else {
			log.Warn("Initial snapshot unavailable", zap.Error(err))
		}
	}
	go client.writePump(log)
	go client.readPump(h, log)
	return nil
}

func (c *Client) readPump(h *Hub, log *zap.Logger) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stop:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		// Входящие сообщения игнорируются
	}
}

func (c *Client) writePump(log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("Failed to write message", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
