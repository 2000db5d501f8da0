package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client represents a WebSocket connection watching one auction.
// It implements broadcast.Observer.
type Client struct {
	id         string
	auctionID  string
	credential string
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	log        zerolog.Logger
}

func newClient(id, auctionID, credential string, conn *websocket.Conn, log zerolog.Logger) *Client {
	return &Client{
		id:         id,
		auctionID:  auctionID,
		credential: credential,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		log:        log.With().Str("client_id", id).Str("auction_id", auctionID).Logger(),
	}
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// Deliver queues a message without blocking; false means the buffer is full
// or the connection is gone.
func (c *Client) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump pumps messages from the send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump reads client messages until the connection fails, passing each
// one to handle. Replies go back through the send buffer.
func (c *Client) readPump(ctx context.Context, handle func(context.Context, *Client, *inboundMessage)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(errorMessage("malformed message"))
			continue
		}
		handle(ctx, c, &msg)
	}
}

// reply sends a message to this client only
func (c *Client) reply(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	if !c.Deliver(payload) {
		c.log.Warn().Msg("send buffer full, dropping reply")
	}
}
