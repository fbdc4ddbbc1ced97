package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/emotichat/emotichat/internal/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket connection. An authenticated client carries
// the user identity established by the auth collaborator; an anonymous
// connection is accepted at transport level but every operation on it
// is dropped.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once

	// session is written by Connect and cleared by Disconnect, which
	// run on different goroutines than the read pump's Dispatch calls.
	sessionMu sync.Mutex
	session   *Session
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.QueueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		if err := c.chatServer.Dispatch(c, &msg); err != nil {
			// unauthenticated and unregistered operations are dropped,
			// not surfaced to the client
			if !errors.Is(err, ErrNotAuthenticated) && !errors.Is(err, ErrNotRegistered) {
				c.log.Printf("dispatch for %q: %v", c.user.Username, err)
			}
		}
	}
}

// QueueMessage implements TransportHandle. It never blocks; a full
// send buffer drops the message.
func (c *Client) QueueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) currentSession() *Session {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.session
}

func (c *Client) setSession(sess *Session) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	c.session = sess
}

// takeSession clears the client's session and returns what was set, so
// exactly one teardown path acts on it.
func (c *Client) takeSession() *Session {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	sess := c.session
	c.session = nil
	return sess
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.Disconnect(c)
	c.stopClient()
}
