package websocket

import (
	"bytes"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"keydash/internal/infrastructure"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// maxMessageSize caps inbound frames. Dashboards only send
	// heartbeats upstream.
	maxMessageSize = 512
)

// heartbeatFrame is what the dashboard script sends to keep proxies from
// idling the connection out.
var heartbeatFrame = []byte(`{"type":"heartbeat"}`)

// Client pumps messages between one dashboard socket and the hub. Every
// client belongs to exactly one admin session; the hub uses that to
// target action-state pushes.
type Client struct {
	hub  *Hub
	conn Connection
	send chan []byte

	id          string
	sessionID   string
	remoteAddr  string
	connectedAt time.Time

	logger *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// NewClient wraps a live gorilla connection for the given admin session.
func NewClient(hub *Hub, conn *websocket.Conn, sessionID string, logger *slog.Logger) *Client {
	return newClient(hub, wrapConn(conn), sessionID, logger)
}

// NewClientWithConnection builds a client over any Connection. Tests use
// this with a mock connection.
func NewClientWithConnection(hub *Hub, conn Connection, sessionID string, logger *slog.Logger) *Client {
	return newClient(hub, conn, sessionID, logger)
}

func newClient(hub *Hub, conn Connection, sessionID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		id:          id,
		sessionID:   sessionID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger: logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
		),
	}
}

// ReadPump consumes inbound frames until the socket errors or closes,
// then unregisters the client. Inbound traffic is heartbeats and pong
// frames; both only refresh the read deadline.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
		c.logger.Debug("read pump stopped",
			slog.Duration("connection_duration", time.Since(c.connectedAt)))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly",
					slog.String("error", err.Error()))
			}
			return
		}
		if bytes.Equal(bytes.TrimSpace(message), heartbeatFrame) {
			c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
			continue
		}
		// Anything else from the browser is ignored.
	}
}

// WritePump forwards hub messages to the socket and keeps the
// connection alive with pings. It exits when the hub closes the send
// channel or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("write pump stopped",
			slog.Int64("messages_sent", c.messagesSent),
			slog.Int64("bytes_sent", c.bytesSent))
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
				c.logger.Debug("websocket write failed",
					slog.String("error", err.Error()))
				return
			}
			c.messagesSent++
			c.bytesSent += int64(len(message))

			// Flush anything already queued as separate frames.
			for i := len(c.send); i > 0; i-- {
				queued, ok := <-c.send
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
				c.messagesSent++
				c.bytesSent += int64(len(queued))
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

// ServeWS registers an upgraded connection with the hub and starts its
// pumps. The caller resolves the session before upgrading.
func ServeWS(hub *Hub, conn *websocket.Conn, sessionID string, logger *slog.Logger) {
	client := NewClient(hub, conn, sessionID, logger)
	hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
