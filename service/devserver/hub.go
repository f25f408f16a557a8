package devserver

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/williamtheodoruswijaya/mood-bridge-v2/logger"
)

// ---- 常量参数 ----
const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4 * 1024
	defaultSendQueue      = 256
)

var newline = []byte{'\n'}

// client 一个用户的一条连接；send 只由 writePump 消费
type client struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

// Hub 维护在线用户，一个用户同时只保留最新的一条连接。
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]*client

	writeWait      time.Duration
	pongWait       time.Duration
	maxMessageSize int64
	sendQueue      int
}

func NewHub(writeWait, pongWait time.Duration, maxMessageSize int64, sendQueue int) *Hub {
	h := &Hub{
		clients:        make(map[int64]*client),
		writeWait:      writeWait,
		pongWait:       pongWait,
		maxMessageSize: maxMessageSize,
		sendQueue:      sendQueue,
	}
	if h.writeWait <= 0 {
		h.writeWait = defaultWriteWait
	}
	if h.pongWait <= 0 {
		h.pongWait = defaultPongWait
	}
	if h.maxMessageSize <= 0 {
		h.maxMessageSize = defaultMaxMessageSize
	}
	if h.sendQueue <= 0 {
		h.sendQueue = defaultSendQueue
	}
	return h
}

func (h *Hub) register(userID int64, conn *websocket.Conn) *client {
	c := &client{userID: userID, conn: conn, send: make(chan []byte, h.sendQueue)}
	h.mu.Lock()
	if old, ok := h.clients[userID]; ok {
		close(old.send) // 旧连接的 writePump 收到后发 Close
		logger.Infof("[DevServer] replace connection user=%d", userID)
	}
	h.clients[userID] = c
	h.mu.Unlock()
	logger.Infof("[DevServer] register user=%d", userID)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.userID]; ok && cur == c {
		delete(h.clients, c.userID)
		close(c.send)
		logger.Infof("[DevServer] unregister user=%d", c.userID)
	}
}

// Online 用户是否在线
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Deliver queues b for userID without blocking. It reports false when the
// user is offline or the queue is full; the message stays in the store.
func (h *Hub) Deliver(userID int64, b []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[userID]
	if !ok {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		logger.Warnf("[DevServer] send queue full, drop user=%d", userID)
		return false
	}
}

// deliverTo queues b for one specific connection, if it is still registered.
func (h *Hub) deliverTo(c *client, b []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c.userID] != c {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		logger.Warnf("[DevServer] send queue full, drop user=%d", c.userID)
		return false
	}
}

// ---- 读循环：只读，不写；出错即退出（写协程收尾） ----
func (h *Hub) readPump(c *client, onMessage func(c *client, data []byte)) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(h.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					logger.Infof("[DevServer] read timeout user=%d", c.userID)
				} else {
					logger.Infof("[DevServer] read err user=%d err=%v", c.userID, err)
				}
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		onMessage(c, data)
	}
}

// writePump 合并队列里已有的推送，用换行分隔写进同一帧。
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				logger.Infof("[DevServer] next writer user=%d err=%v", c.userID, err)
				return
			}
			_, _ = w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				_, _ = w.Write(newline)
				_, _ = w.Write(next)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Infof("[DevServer] ping user=%d err=%v", c.userID, err)
				return
			}
		}
	}
}
