package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/meshroom/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // SDP with a full candidate list fits comfortably
)

// Client is one participant's websocket connection.
type Client struct {
	Hub *Hub

	Conn *websocket.Conn

	// ID is the session id issued on connect. It names the participant for the
	// lifetime of this connection only.
	ID string

	// Name is the optional display name sent with join_room.
	Name string

	// RoomID is empty until the client joins a room. Owned by the hub goroutine.
	RoomID string

	// Send is drained by WritePump. Only the hub closes it.
	Send chan *protocol.Message
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, id string, buffer int) *Client {
	return &Client{
		Hub:  hub,
		Conn: conn,
		ID:   id,
		Send: make(chan *protocol.Message, buffer),
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregisterClient(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Hub.log.Warn("read failed", "client", c.ID, "err", err)
			}
			return
		}

		if !c.Hub.dispatch(&Inbound{Client: c, Message: &msg}) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				c.Hub.log.Warn("write failed", "client", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) logAttrs() []any {
	return []any{"client", c.ID, "room", c.RoomID, "remote", remoteAddr(c)}
}

func remoteAddr(c *Client) string {
	if c.Conn == nil {
		return ""
	}
	return c.Conn.RemoteAddr().String()
}
