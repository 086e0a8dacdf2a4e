package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	submitTimeout  = 10 * time.Second
	closeGraceWait = time.Second
)

// Client is one WebSocket connection subscribed to a room. The read pump
// posts inbound frames through the hub's ingress; the write pump is the only
// writer of data frames and drains the connection's feed.
type Client struct {
	conn        *websocket.Conn
	feed        *chat.Feed
	hub         *Hub
	who         *chat.Identity
	validate    func(any) error
	rateLimiter *rateLimiter
	rateLimit   rateLimitSettings
	log         *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
}

type rateLimitSettings struct {
	burst    int
	interval time.Duration
}

func newClient(conn *websocket.Conn, feed *chat.Feed, hub *Hub, who *chat.Identity, s *Server, log *logrus.Entry) *Client {
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:        conn,
		feed:        feed,
		hub:         hub,
		who:         who,
		validate:    s.validate,
		rateLimiter: newRateLimiter(s.cfg.RateLimit.Burst, s.cfg.RateLimit.RefillInterval),
		rateLimit:   rateLimitSettings{burst: s.cfg.RateLimit.Burst, interval: s.cfg.RateLimit.RefillInterval},
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// run starts both pumps. The caller has already entered the hub once; that
// slot belongs to the write pump.
func (c *Client) run() {
	go func() {
		defer c.hub.leave()
		c.writePump()
	}()
	if !c.hub.spawn(c.readPump) {
		// shutdown raced the upgrade; the write pump sees the closed feed
		c.cancel()
		c.feed.Close()
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Debug("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the reason a read loop ends.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Inbound frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Debug("Client disconnected")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		c.log.WithError(err).Debug("Client connection closed")
	default:
		c.log.WithError(fmt.Errorf("%w: %w", chat.ErrTransport, err)).Warn("WebSocket read error")
	}
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter.allow() {
		return true
	}
	c.log.WithFields(logrus.Fields{
		"burst":    c.rateLimit.burst,
		"interval": c.rateLimit.interval.String(),
	}).Warn("Rate limit exceeded; discarding message")
	return false
}

// reply queues a direct error frame for this connection.
func (c *Client) reply(message string) {
	if err := c.feed.Send(chat.ErrorPayload(c.feed.Room(), message)); err != nil {
		c.log.WithError(err).Debug("Dropped reply to closing connection")
	}
}

// processMessage decodes one inbound frame and posts it to the room.
func (c *Client) processMessage(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.reply("invalid message: expected {\"content\": \"...\"}")
		return
	}
	if err := c.validate(&frame); err != nil {
		c.reply(err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, submitTimeout)
	defer cancel()

	msg, err := c.hub.ingress.Submit(ctx, c.feed.Room(), c.who, frame.Content, frame.IsAnonymous)
	if err != nil {
		if statusFor(err) >= 500 {
			c.log.WithError(err).Error("Failed to post message")
			c.reply("message could not be stored")
			return
		}
		c.reply(err.Error())
		return
	}
	c.log.WithField("message_id", msg.ID).Debug("Message posted over WebSocket")
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		// wakes the write pump, which sends the close frame and closes the socket
		c.feed.Close()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.checkRateLimit() {
			c.reply("rate limit exceeded")
			continue
		}
		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.feed.Close()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case <-c.feed.Ready():
		return c.drainFeed()
	case <-ticker.C:
		return c.handlePing()
	}
}

// drainFeed writes every queued payload, one frame each.
func (c *Client) drainFeed() bool {
	for {
		p, err := c.feed.Poll()
		if errors.Is(err, chat.ErrFeedClosed) {
			return c.writeCloseMessage()
		}
		if p == nil {
			return true
		}
		if !c.writeFrame(p.Frame()) {
			return false
		}
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Debug("Error closing connection")
	}
}

// writeCloseMessage tells the peer why the stream ends.
func (c *Client) writeCloseMessage() bool {
	code, text := websocket.CloseNormalClosure, ""
	if c.hub.registry.Closed() {
		code, text = websocket.CloseGoingAway, "server shutting down"
	}
	msg := websocket.FormatCloseMessage(code, text)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGraceWait)); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Debug("Error writing close message")
	}
	return false
}

func (c *Client) writeFrame(frame []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Debug("Error setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.log.WithError(fmt.Errorf("%w: %w", chat.ErrTransport, err)).Warn("WebSocket write failed")
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Debug("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.WithError(fmt.Errorf("%w: %w", chat.ErrTransport, err)).Debug("Error writing ping")
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
