package chat

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/williamtheodoruswijaya/mood-bridge-v2/logger"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/errs"
	"github.com/williamtheodoruswijaya/mood-bridge-v2/tools/safe"
)

// ErrClosing is wrapped into Write errors once Close has been called.
var ErrClosing = errors.New("channel closing")

// Dialer opens the live connection. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

const eventQueueSize = 64

// Channel is one live connection attempt. It owns exactly one reader
// goroutine which reports everything it sees as Events, ending with
// EventClosed, then closes Events().
type Channel struct {
	ID  string
	gen uint64

	writeWait time.Duration
	pongWait  time.Duration
	readLimit int64

	events chan Event
	done   chan struct{} // closed by Close

	mu        sync.Mutex // guards conn and serializes data writes
	conn      *websocket.Conn
	closeOnce sync.Once
}

func newChannel(gen uint64, o Options) *Channel {
	return &Channel{
		ID:        uuid.NewString(),
		gen:       gen,
		writeWait: o.WriteWait,
		pongWait:  o.PongWait,
		readLimit: o.ReadLimit,
		events:    make(chan Event, eventQueueSize),
		done:      make(chan struct{}),
	}
}

func (c *Channel) Gen() uint64 { return c.gen }

// Events is closed after the final EventClosed.
func (c *Channel) Events() <-chan Event { return c.events }

func (c *Channel) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) emit(kind EventKind, data []byte, err error) {
	c.events <- Event{Kind: kind, Gen: c.gen, Data: data, Err: err}
}

// run dials and then reads until the connection ends. ctx bounds the dial only.
func (c *Channel) run(ctx context.Context, d Dialer, url string, header http.Header) {
	defer close(c.events)

	conn, resp, err := d.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		kv := []any{"channel", c.ID}
		if resp != nil {
			kv = append(kv, "status", resp.StatusCode)
		}
		cause := errs.WrapCode(err, errs.ErrChannel, "dial failed", kv...)
		c.emit(EventErrored, nil, cause)
		c.emit(EventClosed, nil, cause)
		return
	}

	c.mu.Lock()
	if c.closing() {
		// closed while dialing
		c.mu.Unlock()
		_ = conn.Close()
		c.emit(EventClosed, nil, nil)
		return
	}
	c.conn = conn
	c.mu.Unlock()

	conn.SetReadLimit(c.readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	c.emit(EventOpened, nil, nil)

	stop := make(chan struct{})
	safe.Go("chat.ping", func() { c.pingLoop(conn, stop) })

	cause := c.readLoop(conn)
	close(stop)
	_ = conn.Close()
	c.emit(EventClosed, nil, cause)
}

// ---- 读循环：只读，不写；出错即退出 ----
func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if c.closing() {
				return nil
			}
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed channel=%s err=%v", c.ID, err)
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout channel=%s err=%v", c.ID, err)
			}
			cause := errs.WrapCode(err, errs.ErrChannel, "read failed", "channel", c.ID)
			c.emit(EventErrored, nil, cause)
			return cause
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		c.emit(EventFrame, data, nil)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				logger.Debugf("[WS] ping failed channel=%s err=%v", c.ID, err)
				return
			}
		}
	}
}

// Write sends one text frame.
func (c *Channel) Write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing() {
		return errs.WrapCode(ErrClosing, errs.ErrChannel, "", "channel", c.ID)
	}
	if c.conn == nil {
		return errs.ErrChannel.WrapMsg("channel not open", "channel", c.ID)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errs.WrapCode(err, errs.ErrChannel, "write failed", "channel", c.ID)
	}
	return nil
}

// Close sends a normal close frame and drops the connection. Safe to call
// more than once and before the dial finished.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeWait))
		_ = conn.Close()
	})
}
