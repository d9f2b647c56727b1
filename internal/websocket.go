package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   房間狀態每秒都可能變，如何即時推給房間內所有連接，又不被慢客戶端拖住？
//
// 設計方案：
//   ✅ Hub 模式：集中管理所有連接，按房間分組
//   ✅ Ping/Pong 心跳：54s ping，60s 讀取逾時
//   ✅ 緩衝 channel：訊息只序列化一次，排進各連接的佇列，滿了就丟棄

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	sendBufferSize = 256
	maxMessageSize = 4096
)

// Envelope 客戶端送來的訊息
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outboundMessage 送往客戶端的訊息
type outboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ConnectionHandler 處理連接上的訊息與關閉
type ConnectionHandler interface {
	HandleMessage(ctx context.Context, c *Connection, env Envelope)
	HandleClose(ctx context.Context, c *Connection)
}

// Hub WebSocket 連接中心，同時是廣播服務使用的 Emitter
//
// 系統設計考量：
//
//  1. 兩個索引：
//     - rooms：roomCode → socketID → Connection，房間廣播用
//     - sockets：socketID → Connection，單播用
//
//  2. 並發安全：RWMutex
//     - 送訊息只拿讀鎖，註冊 / 註銷拿寫鎖
//     - Send channel 只在寫鎖內關閉，持有讀鎖時送出不會碰到已關閉的 channel
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	rooms    map[string]map[string]*Connection
	sockets  map[string]*Connection
	mu       sync.RWMutex
}

// Connection 單一 WebSocket 連接
type Connection struct {
	SocketID string
	RoomCode string

	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	handler   ConnectionHandler
	lastPing  time.Time
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewHub 創建 Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		rooms:   make(map[string]map[string]*Connection),
		sockets: make(map[string]*Connection),
	}
}

// Upgrade 把 HTTP 請求升級為 WebSocket
func (hub *Hub) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade websocket: %w", err)
	}
	return conn, nil
}

// Register 註冊連接；需要再呼叫 Start 才會開始讀寫
func (hub *Hub) Register(socketID, roomCode string, ws *websocket.Conn, handler ConnectionHandler) *Connection {
	c := &Connection{
		SocketID: socketID,
		RoomCode: roomCode,
		conn:     ws,
		send:     make(chan []byte, sendBufferSize),
		hub:      hub,
		handler:  handler,
		lastPing: time.Now(),
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.rooms[roomCode] == nil {
		hub.rooms[roomCode] = make(map[string]*Connection)
	}

	// 關閉舊連接（如果存在）
	if old, exists := hub.sockets[socketID]; exists {
		hub.detach(old)
		old.conn.Close()
	}

	hub.rooms[roomCode][socketID] = c
	hub.sockets[socketID] = c
	return c
}

// unregister 取消註冊連接
func (hub *Hub) unregister(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, exists := hub.sockets[c.SocketID]; exists && actual == c {
		hub.detach(c)
	}
}

// detach 從索引移除並關閉 Send channel（需要持有寫鎖）
func (hub *Hub) detach(c *Connection) {
	delete(hub.sockets, c.SocketID)
	if roomConns, ok := hub.rooms[c.RoomCode]; ok {
		delete(roomConns, c.SocketID)
		if len(roomConns) == 0 {
			delete(hub.rooms, c.RoomCode)
		}
	}
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ToRoom 廣播到房間內所有連接
func (hub *Hub) ToRoom(ctx context.Context, roomCode, event string, payload any) error {
	message, err := json.Marshal(outboundMessage{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	dropped := 0
	for _, c := range hub.rooms[roomCode] {
		if !c.enqueue(message) {
			dropped++
			hub.logger.WarnContext(ctx, "連接緩衝區滿",
				"event", event,
				"target_socket", c.SocketID)
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%s dropped for %d connections", event, dropped)
	}
	return nil
}

// ToSocket 送給單一連接；連接不存在時不做任何事
func (hub *Hub) ToSocket(_ context.Context, socketID, event string, payload any) error {
	message, err := json.Marshal(outboundMessage{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	c, ok := hub.sockets[socketID]
	if !ok {
		return nil
	}
	if !c.enqueue(message) {
		return fmt.Errorf("%s dropped for socket %s", event, socketID)
	}
	return nil
}

// Disconnect 主動斷開連接
func (hub *Hub) Disconnect(socketID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if c, ok := hub.sockets[socketID]; ok {
		hub.detach(c)
		c.conn.Close()
	}
}

// CloseRoom 通知房間內所有連接後關閉，回傳關閉的連接數
//
// 只關閉 Send channel，writePump 送完佇列中的訊息再送出 Close frame。
func (hub *Hub) CloseRoom(roomCode, reason string) int {
	message, err := json.Marshal(outboundMessage{Event: MessageError, Data: ErrorPayload{Message: reason}})
	if err != nil {
		hub.logger.Error("編碼關閉訊息失敗", "room_code", roomCode, "error", err)
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	closed := 0
	for _, c := range hub.rooms[roomCode] {
		if err == nil {
			c.enqueue(message)
		}
		hub.detach(c)
		closed++
	}
	return closed
}

// ConnectionCount 各房間的連接數
func (hub *Hub) ConnectionCount() map[string]int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	result := make(map[string]int, len(hub.rooms))
	for code, conns := range hub.rooms {
		result[code] = len(conns)
	}
	return result
}

// Stop 關閉所有連接
func (hub *Hub) Stop() {
	hub.mu.Lock()
	for _, c := range hub.sockets {
		hub.detach(c)
		c.conn.Close()
	}
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// enqueue 排入發送佇列（呼叫者需持有 hub 讀鎖）
func (c *Connection) enqueue(message []byte) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Start 啟動讀寫 goroutine
func (c *Connection) Start(ctx context.Context) {
	go c.writePump()
	go c.readPump(ctx)
}

// LastPing 最後一次收到 Pong 的時間
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// readPump 讀取客戶端訊息
//
// 60 秒內沒有收到任何訊息（包括 Pong）就關閉連接。
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		c.handler.HandleClose(ctx, c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.ErrorContext(ctx, "設置讀取期限失敗", "error", err)
	}

	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.hub.logger.ErrorContext(ctx, "設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WarnContext(ctx, "WebSocket 讀取錯誤", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			c.hub.logger.DebugContext(ctx, "無法解析的客戶端訊息", "error", err)
			_ = c.hub.ToSocket(ctx, c.SocketID, MessageError, ErrorPayload{Message: "Invalid message"})
			continue
		}
		c.handler.HandleMessage(ctx, c, env)
	}
}

// writePump 寫入訊息到客戶端
//
// 每 54 秒送一次 Ping，比讀取端的 60 秒逾時早 6 秒。
// 佇列中累積的訊息一次寫完。
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(c.send)
			for range n {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.hub.logger.Warn("發送訊息失敗",
						"error", err,
						"socket_id", c.SocketID)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
