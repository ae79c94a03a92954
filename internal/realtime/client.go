package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/goatkit/controlroom/internal/constants"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	directBuffer   = 16
)

// InboundHandler handles one message read from a client. A non-nil reply is
// sent back to that client only.
type InboundHandler func(ctx context.Context, msg Message) *Message

// NewUpgrader accepts same-host origins, origins listed in allowed, or any
// origin when allowed contains "*". Requests without an Origin header pass.
func NewUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			parsed, err := url.Parse(origin)
			if err != nil || parsed.Host == "" {
				return false
			}
			if strings.EqualFold(parsed.Host, r.Host) {
				return true
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin) {
					return true
				}
			}
			return false
		},
	}
}

// CloseUnauthorized sends the 4003 close frame and closes conn.
func CloseUnauthorized(conn *websocket.Conn, reason string) {
	closeWith(conn, constants.CloseUnauthorized, reason)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// Client pumps hub messages to one websocket connection and inbound frames
// to a handler.
type Client struct {
	conn      *websocket.Conn
	sub       *Subscription
	direct    chan Message
	expiresAt time.Time
	logger    *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wires conn to sub. The connection is closed with 4003 once
// expiresAt passes; a zero expiresAt disables that.
func NewClient(conn *websocket.Conn, sub *Subscription, expiresAt time.Time, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		conn:      conn,
		sub:       sub,
		direct:    make(chan Message, directBuffer),
		expiresAt: expiresAt,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Send queues msg for this client only. It reports false if the queue is full
// or the client has stopped.
func (c *Client) Send(msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.direct <- msg:
		return true
	default:
		return false
	}
}

// Greet writes msg synchronously. It must be called before Run so it is
// the first frame the client sees.
func (c *Client) Greet(msg Message) error {
	return c.write(msg)
}

// Run blocks until the connection ends. The subscription is released before
// Run returns.
func (c *Client) Run(ctx context.Context, handle InboundHandler) {
	defer c.sub.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx)
	}()

	c.readPump(ctx, handle)
	c.stop()
	<-writerDone
}

func (c *Client) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump(ctx context.Context, handle InboundHandler) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.Send(NewMessage(TypeError, "", map[string]any{"message": "Invalid message format"}))
			continue
		}
		if handle == nil {
			continue
		}
		if reply := handle(ctx, msg); reply != nil {
			c.Send(*reply)
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	var expiry <-chan time.Time
	if !c.expiresAt.IsZero() {
		timer := time.NewTimer(time.Until(c.expiresAt))
		defer timer.Stop()
		expiry = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			closeWith(c.conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-c.done:
			_ = c.conn.Close()
			return
		case <-expiry:
			CloseUnauthorized(c.conn, "token expired")
			return
		case msg, ok := <-c.sub.C():
			if !ok {
				closeWith(c.conn, websocket.CloseNormalClosure, "")
				return
			}
			if err := c.write(msg); err != nil {
				_ = c.conn.Close()
				return
			}
		case msg := <-c.direct:
			if err := c.write(msg); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *Client) write(msg Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}
