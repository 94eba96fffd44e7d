package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/bookingdesk/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256

	// defaultProcessingWait bounds how long one inbound frame may keep the
	// read loop busy.
	defaultProcessingWait = 3 * time.Minute
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("client send buffer full")
)

// Client is one WebSocket connection. Outgoing frames are queued on a
// buffered channel and written by a dedicated pump so that Send never blocks
// on the network. Client implements session.Conn and auth.Closer.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	done           chan struct{}
	closeOnce      sync.Once
	addr           string
	maxMessageSize int64
	logger         *slog.Logger

	// pongWait is the liveness window between reads. processingWait is added
	// to it while a frame is being handled, because pongs are only consumed
	// by the next read.
	pongWait       time.Duration
	processingWait time.Duration
}

// NewClient wraps conn. Messages larger than maxMessageSize bytes are rejected
// by the read loop.
func NewClient(conn *websocket.Conn, addr string, maxMessageSize int64, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if conn != nil && maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		addr:           addr,
		maxMessageSize: maxMessageSize,
		logger:         logger.With("remote_addr", addr),
		pongWait:       pongWait,
		processingWait: defaultProcessingWait,
	}
}

// Send encodes msg as JSON and queues it for the write pump. It fails
// immediately when the client is closed or its queue is full.
func (c *Client) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", session.ErrEncode, err)
	}

	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendBufferFull
	}
}

// Close sends a going-away close frame and closes the connection. It is safe
// to call more than once and from any goroutine.
func (c *Client) Close() error {
	return c.CloseWithCode(websocket.CloseGoingAway, "connection closed")
}

// CloseWithCode sends a close frame carrying code and reason, then closes the
// underlying connection. Only the first call has any effect.
func (c *Client) CloseWithCode(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(code, reason)
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil && !isExpectedCloseError(werr) {
			c.logger.Debug("error writing close frame", "error", werr)
		}
		err = c.conn.Close()
		if isExpectedCloseError(err) {
			err = nil
		}
	})
	return err
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	c.extendReadDeadline(c.pongWait)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
}

func (c *Client) extendReadDeadline(d time.Duration) {
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		c.logger.Debug("error setting read deadline", "error", err)
	}
}

// readLoop reads frames until the connection fails and hands each one to
// handle. Frames are handled one at a time in arrival order. While handle
// runs the read deadline is pushed out by processingWait so a slow model call
// does not expire a live session.
func (c *Client) readLoop(handle func(raw []byte)) {
	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.extendReadDeadline(c.processingWait + c.pongWait)
		handle(raw)
		c.extendReadDeadline(c.pongWait)
	}
}

// handleReadError logs the reason the read loop is ending at a level that
// matches how surprising it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded maximum size", "limit_bytes", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived):
		c.logger.Debug("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err):
		c.logger.Warn("unexpected websocket close", "error", err)
	default:
		c.logger.Info("websocket read error", "error", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		return false
	}
}

// writeTextMessage writes one JSON frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Info("error writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Info("error writing ping", "error", err)
		}
		return false
	}
	return true
}
