package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/meshroom/internal/dns"
	"github.com/BioHazard786/meshroom/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrClosed is returned by Send once the connection is gone.
var ErrClosed = errors.New("signaling connection closed")

// Client manages the WebSocket connection to the signaling relay.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	resolver  *dns.Resolver

	incoming chan *protocol.Message
	outgoing chan *protocol.Message
	done     chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewClient creates a client for serverURL. A nil resolver dials with the
// system resolver only.
func NewClient(serverURL string, resolver *dns.Resolver) *Client {
	return &Client{
		serverURL: serverURL,
		resolver:  resolver,
		incoming:  make(chan *protocol.Message, 32),
		outgoing:  make(chan *protocol.Message, 32),
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: 15 * time.Second,
	}
	if c.resolver != nil {
		dialer.NetDialContext = c.resolver.DialContext
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// readPump reads messages from the WebSocket connection. Incoming is closed
// when it returns.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.fail(err)
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.fail(err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if c.Err() == nil {
				c.flush()
			}
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before a local Close, so a final leave_room
// reaches the relay ahead of the close frame.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.outgoing:
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues a message for the relay.
func (c *Client) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the channel for receiving messages. It is closed when the
// connection drops.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Err reports why the connection ended, or nil after a local Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil && !c.closedLocally() {
		c.err = err
	}
	c.errMu.Unlock()
	c.shut()
}

func (c *Client) closedLocally() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) shut() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Close sends a close frame and tears down the connection. Safe to call more
// than once.
func (c *Client) Close() {
	c.shut()
}
