package ws

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client wraps one websocket connection: a buffered outbound queue drained
// by a single writer goroutine, and a reader goroutine that decodes event
// frames and hands them to the gateway. It implements Conn.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	gw     *Gateway
	send   chan []byte
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var errConnClosed = errors.New("connection closed")

func newClient(id, userID string, conn *websocket.Conn, gw *Gateway, log zerolog.Logger) *Client {
	conn.SetReadLimit(gw.opts.MaxMessageSize)
	return &Client{
		id:     id,
		userID: userID,
		conn:   conn,
		gw:     gw,
		send:   make(chan []byte, gw.opts.SendBuffer),
		log:    log,
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// UserID returns the identity that authenticated this connection.
func (c *Client) UserID() string { return c.userID }

// Send queues one event frame for delivery. It fails when the connection
// is closed or its outbound queue is saturated; it never blocks, so a slow
// consumer cannot stall a fan-out.
func (c *Client) Send(event string, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// close marks the client closed and releases the writer goroutine. Safe to
// call more than once; it reports whether this call performed the close.
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings. It owns all writes to the underlying
// connection and closes it on exit.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.gw.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.gw.opts.WriteWait)); err != nil {
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.gw.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames, dispatching each event in its own
// goroutine so one slow handler never blocks the next read. On any read
// error the connection is unregistered and torn down.
func (c *Client) readPump() {
	defer c.gw.disconnect(c)

	c.conn.SetReadDeadline(time.Now().Add(c.gw.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.gw.opts.PongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) && !errors.Is(err, io.EOF) {
				c.log.Warn().Err(err).Msg("unexpected websocket error")
			} else {
				c.log.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
			c.log.Debug().Msg("dropping malformed frame")
			continue
		}
		go c.gw.Dispatch(c, c.userID, env)
	}
}
