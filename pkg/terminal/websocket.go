package terminal

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antibyte/retroforth/pkg/configuration"
	"github.com/antibyte/retroforth/pkg/logger"
	"github.com/antibyte/retroforth/pkg/shared"
)

// WebSocket-Konfigurationswerte aus der [Network] Sektion in settings.cfg

func getWriteWait() time.Duration {
	return configuration.GetDuration("Network", "write_wait_timeout", 10*time.Second)
}

func getPongWait() time.Duration {
	return configuration.GetDuration("Network", "pong_timeout", 90*time.Second)
}

func getMaxMessageSize() int64 {
	return int64(configuration.GetInt("Network", "max_message_size_kb", 64) * 1024)
}

func getMaxChannelBuffer() int {
	return configuration.GetInt("Network", "max_channel_buffer", 1024)
}

// Client repräsentiert eine WebSocket-Verbindung zu einer Session
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	handler   *TerminalHandler
	session   *Session
	ipAddress string

	shutdown  chan struct{}
	closeOnce sync.Once
}

func newClient(h *TerminalHandler, conn *websocket.Conn, session *Session, ip string) *Client {
	return &Client{
		conn:      conn,
		send:      make(chan []byte, h.channelBuffer),
		handler:   h,
		session:   session,
		ipAddress: ip,
		shutdown:  make(chan struct{}),
	}
}

// Send queues msg without blocking. A client that cannot keep up is
// disconnected; its session keeps running.
func (c *Client) Send(msg shared.Message) {
	data, err := marshalMessage(msg)
	if err != nil {
		logger.Error(logger.AreaWebSocket, "%v", err)
		return
	}

	select {
	case <-c.shutdown:
	case c.send <- data:
	default:
		logger.Warn(logger.AreaWebSocket, "Send channel full for client %s, disconnecting", c.ipAddress)
		go c.close()
	}
}

// close beendet writePump, der die Verbindung schließt; mehrfacher Aufruf
// ist erlaubt
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.shutdown)
	})
}

// readPump liest Anfragen vom WebSocket und reicht sie an die Session weiter
func (c *Client) readPump() {
	defer c.handler.detach(c)

	c.conn.SetReadLimit(c.handler.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.handler.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.handler.pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn(logger.AreaWebSocket, "Unexpected close error for client %s: %v", c.ipAddress, err)
			} else {
				logger.Debug(logger.AreaWebSocket, "Connection closed for client %s: %v", c.ipAddress, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(c.handler.pongWait))

		if err := c.handler.resources.CheckSessionLimits(c.session.ID, len(message)); err != nil {
			logger.Warn(logger.AreaSecurity, "Session %s: %v", c.session.ID, err)
			c.Send(shared.LineMessage(" " + err.Error()))
			continue
		}

		req, err := c.handler.validator.ValidateRequest(message)
		if err != nil {
			logger.Warn(logger.AreaSecurity, "Invalid message from %s: %v", c.ipAddress, err)
			c.Send(shared.LineMessage(" " + err.Error()))
			continue
		}

		logger.Debug(logger.AreaTerminal, "Session %s request type=%d", c.session.ID, req.Type)
		if err := c.handler.dispatch(c, req); err != nil {
			c.Send(shared.LineMessage(" " + err.Error()))
		}
	}
}

// writePump schreibt Nachrichten und Pings zum WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(c.handler.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug(logger.AreaWebSocket, "Write failed for client %s: %v", c.ipAddress, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug(logger.AreaWebSocket, "Failed to send ping to client %s: %v", c.ipAddress, err)
				return
			}
		case <-c.shutdown:
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
