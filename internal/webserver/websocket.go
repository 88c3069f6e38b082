package webserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ichi0g0y/stimky-sticker/internal/printjob"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"github.com/ichi0g0y/stimky-sticker/internal/status"
	"go.uber.org/zap"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WSMessage はWebSocketメッセージの構造を定義
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// envelope is a message on its way out. An empty requester reaches every
// client; otherwise only that requester and admins receive it.
type envelope struct {
	msg       WSMessage
	requester string
}

// WSClient is one /ws connection.
type WSClient struct {
	hub       *WSHub
	conn      *websocket.Conn
	send      chan []byte
	clientID  string
	requester string
	admin     bool
}

func (c *WSClient) wants(e envelope) bool {
	return e.requester == "" || c.admin || c.requester == e.requester
}

// WSHub fans printer and job events out to connected clients.
type WSHub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan envelope
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// NewWSHub returns a hub; call Run to start it.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan envelope, 256),
		done:       make(chan struct{}),
	}
}

// Stop ends Run and closes every client.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run WebSocketハブのメインループ
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()

			logger.Info("WebSocket client connected",
				zap.String("clientId", client.clientID),
				zap.String("requester", client.requester),
				zap.Int("total_clients", total))

			// 接続直後に現在のプリンター状態を送る
			client.push("connected", map[string]interface{}{
				"clientId": client.clientID,
				"printer":  status.Get(),
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			remaining := len(h.clients)
			h.mu.Unlock()

			logger.Info("WebSocket client disconnected",
				zap.String("clientId", client.clientID),
				zap.Int("remaining_clients", remaining))

		case e := <-h.broadcast:
			data, err := json.Marshal(e.msg)
			if err != nil {
				logger.Error("Failed to marshal WebSocket message", zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(e) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// クライアントのバッファがフルの場合は切断
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *WSHub) enqueue(e envelope) {
	select {
	case h.broadcast <- e:
		logger.Debug("WebSocket message queued", zap.String("message_type", e.msg.Type))
	default:
		logger.Warn("WebSocket broadcast channel full, message dropped", zap.String("message_type", e.msg.Type))
	}
}

// BroadcastWSMessage すべてのクライアントにメッセージを送信
func (h *WSHub) BroadcastWSMessage(msgType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to marshal WebSocket broadcast data", zap.Error(err))
		return
	}
	h.enqueue(envelope{msg: WSMessage{Type: msgType, Data: jsonData}})
}

// Broadcast publishes a print job event to the job's requester and to admins.
func (h *WSHub) Broadcast(e printjob.Event) {
	jsonData, err := json.Marshal(e.Job)
	if err != nil {
		logger.Error("Failed to marshal job event", zap.String("job", e.Job.ID), zap.Error(err))
		return
	}
	h.enqueue(envelope{
		msg:       WSMessage{Type: e.Type, Data: jsonData},
		requester: e.Job.RequesterID,
	})
}

// attach upgrades the request and registers the connection.
func (h *WSHub) attach(w http.ResponseWriter, r *http.Request, requester string, admin bool) {
	clientID, err := printjob.GenerateID()
	if err != nil {
		http.Error(w, "failed to generate client id", http.StatusInternalServerError)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	client := &WSClient{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		clientID:  clientID,
		requester: requester,
		admin:     admin,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// handleWS streams job events of the calling requester (all jobs for the
// admin) plus printer status changes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.attach(w, r, requesterID(r), s.isAdmin(r))
}

// push queues a message for this client only. Called from Run.
func (c *WSClient) push(msgType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	msg, err := json.Marshal(WSMessage{Type: msgType, Data: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			break
		}

		// クライアントからの入力は無視する
		logger.Debug("Ignoring WebSocket message from client",
			zap.String("clientId", c.clientID),
			zap.Int("bytes", len(message)))
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
