package server

import (
	"log"
	"sync"

	"github.com/emotichat/emotichat/internal/database"
	"github.com/emotichat/emotichat/internal/stats"
)

// ChatServer owns the connect/disconnect lifecycle and dispatches
// inbound messages to the router. A connection is logically inert
// until Connect has registered a session for it; operations before
// that fail ErrNotAuthenticated and are dropped by the caller.
type ChatServer struct {
	log         *log.Logger
	db          database.ChatRepository
	registry    *SessionRegistry
	router      *Router
	presence    *PresenceBroadcaster
	stats       stats.StatsProvider
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, sp stats.StatsProvider, historyLimit int) (*ChatServer, error) {
	registry := NewSessionRegistry(logger)

	for _, metric := range []string{
		"NumActiveSessions",
		"RoomMessagesRouted",
		"DirectMessagesRouted",
		"PresenceEvents",
	} {
		sp.RegisterMetric(metric)
	}

	return &ChatServer{
		log:      logger,
		db:       db,
		registry: registry,
		router:   NewRouter(logger, db, registry, sp, historyLimit),
		presence: NewPresenceBroadcaster(logger, registry, sp),
		stats:    sp,
		clients:  make(map[*Client]struct{}),
	}, nil
}

// Registry exposes the session registry for presence reads.
func (cs *ChatServer) Registry() *SessionRegistry {
	return cs.registry
}

// Connect registers the client's identity, marks the user online,
// broadcasts presence and replays recent room history. An anonymous
// client stays connected but unregistered.
func (cs *ChatServer) Connect(c *Client) error {
	cs.addClient(c)

	if c.user.Id == 0 {
		cs.log.Println("anonymous connection accepted, no session registered")
		return ErrNotAuthenticated
	}

	sess, err := cs.registry.Register(c.user.Id, c.user.Username, c)
	if err != nil {
		return err
	}
	c.setSession(sess)

	cs.log.Printf("registered session %s for %q", sess.Id, sess.Username)
	cs.stats.Incr("NumActiveSessions")

	if err := cs.db.SetUserOnline(c.user.Id, true); err != nil {
		cs.log.Println("set user online:", err)
	}

	cs.presence.UserOnline(sess)

	c.QueueMessage(cs.router.RecentMessages(sess.Room))

	return nil
}

// Disconnect removes the client and, when it still holds the current
// session for its user, unregisters it, marks the user offline and
// broadcasts presence. Safe to call more than once.
func (cs *ChatServer) Disconnect(c *Client) {
	cs.removeClient(c)

	sess := c.takeSession()
	if sess == nil {
		return
	}

	if !cs.registry.Release(sess) {
		// a newer session superseded this one; presence belongs to it now
		cs.log.Printf("stale session %s for %q released without presence update", sess.Id, sess.Username)
		return
	}

	cs.log.Printf("unregistered session %s for %q", sess.Id, sess.Username)
	cs.stats.Decr("NumActiveSessions")

	if err := cs.db.SetUserOnline(sess.UserId, false); err != nil {
		cs.log.Println("set user offline:", err)
	}

	cs.presence.UserOffline(sess)
}

// Dispatch routes one inbound envelope. Operations from a connection
// without a registered session fail ErrNotAuthenticated.
func (cs *ChatServer) Dispatch(c *Client, msg *ClientMessage) error {
	sess := c.currentSession()
	if sess == nil {
		return ErrNotAuthenticated
	}

	switch {
	case msg.Publish != nil:
		cs.router.RouteRoomMessage(sess, msg.Publish.Room, msg.Publish.Body,
			msg.Publish.Kind, msg.Publish.AttachmentRef)
	case msg.Direct != nil:
		cs.router.RouteDirectMessage(sess, msg.Direct.Recipient, msg.Direct.Body,
			msg.Direct.Kind, msg.Direct.Extra)
	case msg.Join != nil:
		return cs.router.JoinRoom(sess, msg.Join.Room)
	case msg.History != nil:
		c.QueueMessage(cs.router.ConversationHistory(sess, msg.History.Recipient, msg.History.Limit))
	default:
		c.QueueMessage(ErrInvalidMessage(msg.Id))
	}

	return nil
}

// DisconnectUser tears down the live session for a user id, if any.
// Used by the logout handler.
func (cs *ChatServer) DisconnectUser(userId int) {
	cs.clientsLock.Lock()
	var target *Client
	for c := range cs.clients {
		if sess := c.currentSession(); sess != nil && sess.UserId == userId {
			target = c
			break
		}
	}
	cs.clientsLock.Unlock()

	if target != nil {
		cs.Disconnect(target)
		target.stopClient()
	}
}

// Shutdown tells every connected client the service is going away,
// then tears its session down.
func (cs *ChatServer) Shutdown() {
	cs.log.Println("shutting down chat server")

	cs.clientsLock.Lock()
	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	cs.clientsLock.Unlock()

	for _, c := range clients {
		c.QueueMessage(ErrServiceUnavailable(0))
		cs.Disconnect(c)
		c.stopClient()
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}
