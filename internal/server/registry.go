package server

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/emotichat/emotichat/internal/types"
	"github.com/teris-io/shortid"
)

// DefaultRoom is the broadcast room every session starts in. It always
// exists; other rooms come into being when someone joins them.
const DefaultRoom = "general"

var (
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrNotRegistered    = errors.New("session not registered")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// TransportHandle is an opaque delivery target for one connected
// transport. QueueMessage must not block; it reports false when the
// message was dropped.
type TransportHandle interface {
	QueueMessage(msg *ServerMessage) bool
}

// Session is one authenticated, connected transport for a user. A user
// has at most one live session; a second connect replaces the first.
type Session struct {
	Id       string
	UserId   int
	Username string
	Room     string
	handle   TransportHandle
}

func (s *Session) Handle() TransportHandle {
	return s.handle
}

// SessionRegistry is the process-wide table of connected sessions. It
// is the only shared mutable presence state; all access goes through
// its methods, guarded by a single lock.
type SessionRegistry struct {
	log    *log.Logger
	mu     sync.Mutex
	byUser map[int]*Session
	byName map[string]*Session
}

func NewSessionRegistry(logger *log.Logger) *SessionRegistry {
	return &SessionRegistry{
		log:    logger,
		byUser: make(map[int]*Session),
		byName: make(map[string]*Session),
	}
}

// Register inserts a session for the identity, replacing any existing
// one. The superseded handle receives no further deliveries and no
// notification. The new session starts in DefaultRoom.
func (r *SessionRegistry) Register(userId int, username string, handle TransportHandle) (*Session, error) {
	if userId <= 0 || username == "" {
		return nil, ErrInvalidIdentity
	}

	sid, err := shortid.Generate()
	if err != nil {
		// ids are only used for diagnostics and supersede checks
		sid = fmt.Sprintf("u%d", userId)
	}

	sess := &Session{
		Id:       sid,
		UserId:   userId,
		Username: username,
		Room:     DefaultRoom,
		handle:   handle,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[userId]; ok {
		r.log.Printf("session %s for %q superseded by %s", old.Id, old.Username, sess.Id)
		delete(r.byName, old.Username)
	}

	r.byUser[userId] = sess
	r.byName[username] = sess

	return sess, nil
}

// Unregister removes the session for the user. It is a no-op if the
// user has no live session.
func (r *SessionRegistry) Unregister(userId int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byUser[userId]
	if !ok {
		return false
	}

	delete(r.byUser, userId)
	delete(r.byName, sess.Username)

	return true
}

// Release removes the session only if it is still the current one for
// its user. A stale session left over after a supersede is not removed,
// so a disconnect of the old transport cannot evict the new session.
func (r *SessionRegistry) Release(sess *Session) bool {
	if sess == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byUser[sess.UserId]
	if !ok || cur.Id != sess.Id {
		return false
	}

	delete(r.byUser, sess.UserId)
	delete(r.byName, sess.Username)

	return true
}

// SetRoom moves the user's session to room and returns the previous
// room.
func (r *SessionRegistry) SetRoom(userId int, room string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byUser[userId]
	if !ok {
		return "", ErrNotRegistered
	}

	prev := sess.Room
	sess.Room = room

	return prev, nil
}

// Lookup returns the transport handle for a username, if the user has
// a live session.
func (r *SessionRegistry) Lookup(username string) (TransportHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byName[username]
	if !ok {
		return nil, false
	}

	return sess.handle, true
}

// Snapshot returns a point-in-time list of registered identities.
// Iteration order is not stable across calls.
func (r *SessionRegistry) Snapshot() []types.PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]types.PresenceEntry, 0, len(r.byUser))
	for _, sess := range r.byUser {
		entries = append(entries, types.PresenceEntry{
			UserId:   sess.UserId,
			Username: sess.Username,
		})
	}

	return entries
}

// HandlesInRoom returns the transport handles of every session whose
// current room is room.
func (r *SessionRegistry) HandlesInRoom(room string) []TransportHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var handles []TransportHandle
	for _, sess := range r.byUser {
		if sess.Room == room {
			handles = append(handles, sess.handle)
		}
	}

	return handles
}
