package server

import (
	"log"

	"github.com/emotichat/emotichat/internal/stats"
)

// PresenceBroadcaster turns registry mutations into presence
// notifications for the affected room. It holds no state of its own
// and must be called synchronously with the mutation so observers
// never see a stale snapshot.
type PresenceBroadcaster struct {
	log      *log.Logger
	registry *SessionRegistry
	stats    stats.StatsProvider
}

func NewPresenceBroadcaster(logger *log.Logger, registry *SessionRegistry, sp stats.StatsProvider) *PresenceBroadcaster {
	return &PresenceBroadcaster{
		log:      logger,
		registry: registry,
		stats:    sp,
	}
}

func (pb *PresenceBroadcaster) UserOnline(sess *Session) {
	pb.broadcast(sess, true)
}

func (pb *PresenceBroadcaster) UserOffline(sess *Session) {
	pb.broadcast(sess, false)
}

func (pb *PresenceBroadcaster) broadcast(sess *Session, online bool) {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Presence: &Presence{
				Online:      online,
				UserId:      sess.UserId,
				Username:    sess.Username,
				Room:        sess.Room,
				OnlineUsers: pb.registry.Snapshot(),
			},
		},
	}

	for _, handle := range pb.registry.HandlesInRoom(sess.Room) {
		if !handle.QueueMessage(msg) {
			pb.log.Printf("dropped presence notification in room %q", sess.Room)
		}
	}

	pb.stats.Incr("PresenceEvents")
}
