package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-tracker/internal/core/service"
)

const (
	pongWait   = 30 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 16
	typeSites  = "sites"
	typeItems  = "inventory"
	typeStats  = "stats"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SnapshotMessage is what every connected client receives after a change.
type SnapshotMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes read model snapshots to websocket clients. Slow clients are
// disconnected rather than allowed to hold up a broadcast.
type Hub struct {
	readModel *service.ReadModel
	logger    *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool

	removeListener func()
}

func NewHub(readModel *service.ReadModel, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		readModel: readModel,
		logger:    logger,
		clients:   make(map[*wsClient]struct{}),
	}
	h.removeListener = readModel.OnChange(h.broadcastCollection)
	return h
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws_upgrade_failed", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	for _, msg := range h.initialMessages() {
		c.send <- msg
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readLoop(c)
}

func (h *Hub) initialMessages() [][]byte {
	var out [][]byte
	for _, typ := range []string{typeItems, typeSites, typeStats} {
		if msg, ok := h.message(typ); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("ws_client_registered", zap.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readLoop only keeps the deadline alive; clients do not send commands.
func (h *Hub) readLoop(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("ws_unexpected_close", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Hub) writePump(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("ws_write_failed", zap.Error(err))
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) broadcastCollection(collection string) {
	typ := typeItems
	if collection == typeSites {
		typ = typeSites
	}
	h.broadcast(typ)
	if typ == typeItems {
		h.broadcast(typeStats)
	}
}

func (h *Hub) broadcast(typ string) {
	msg, ok := h.message(typ)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("ws_client_too_slow")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) message(typ string) ([]byte, bool) {
	var data any
	switch typ {
	case typeItems:
		data = nonNil(h.readModel.Items())
	case typeSites:
		data = nonNil(h.readModel.Sites())
	case typeStats:
		data = h.readModel.Stats()
	}
	msg, err := json.Marshal(SnapshotMessage{Type: typ, Data: data})
	if err != nil {
		h.logger.Error("ws_marshal_failed", zap.String("type", typ), zap.Error(err))
		return nil, false
	}
	return msg, true
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops listening to the read model.
func (h *Hub) Close() {
	h.removeListener()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
