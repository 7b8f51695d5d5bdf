package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"github.com/manpreetbhatti/inkwell/internal/ratelimit"
	"github.com/manpreetbhatti/inkwell/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection. It implements room.Peer.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	id          string
	rateLimiter *ratelimit.Limiter
	session     *session.Session
	logger      *slog.Logger
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	cfg := hub.config
	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		done:        make(chan struct{}),
		id:          ksuid.New().String(),
		rateLimiter: ratelimit.NewLimiter(cfg.MessagesPerSecond, cfg.MessageBurst),
	}
	client.logger = hub.logger.With("conn", client.id)
	client.session = hub.handler.NewSession(client)

	hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *Client) ID() string { return c.id }

// Send queues msg without blocking. A client whose buffer is full is
// disconnected.
func (c *Client) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn("send buffer full, disconnecting client")
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer c.hub.unregister(c)

	cfg := c.hub.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "err", err)
			}
			return
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				c.logger.Warn("rate limit exceeded", "room", c.session.RoomID(), "warnings", rateLimitWarnings)
			}
			if cfg.MaxViolations > 0 && rateLimitWarnings > cfg.MaxViolations {
				c.logger.Warn("disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}

		c.session.HandleMessage(message)
	}
}

func (c *Client) writePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
