package server

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/emotichat/emotichat/internal/database"
	"github.com/emotichat/emotichat/internal/stats"
	"github.com/emotichat/emotichat/internal/types"
)

// DeliveryPlan is the resolved fan-out for one message: the outbound
// envelope and the transport handles it goes to.
type DeliveryPlan struct {
	Message *ServerMessage
	Targets []TransportHandle
}

// Router resolves a message's destination set and fans it out. It is
// the only component that computes delivery targets.
type Router struct {
	log          *log.Logger
	db           database.ChatRepository
	registry     *SessionRegistry
	stats        stats.StatsProvider
	historyLimit int
}

func NewRouter(logger *log.Logger, db database.ChatRepository, registry *SessionRegistry,
	sp stats.StatsProvider, historyLimit int) *Router {
	if historyLimit <= 0 {
		historyLimit = database.DefaultHistoryLimit
	}

	return &Router{
		log:          logger,
		db:           db,
		registry:     registry,
		stats:        sp,
		historyLimit: historyLimit,
	}
}

// RouteRoomMessage persists a room message and fans it out to every
// session currently in the room, the sender included. An empty body
// after trimming is dropped with no side effects. Persistence is best
// effort: a storage error is logged and delivery proceeds.
func (rt *Router) RouteRoomMessage(sess *Session, room, body, kind, attachmentRef string) *DeliveryPlan {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	if room == "" {
		room = sess.Room
	}
	if kind == "" {
		kind = types.KindText
	}

	record := database.RoomMessage{
		UserId:        sess.UserId,
		Username:      sess.Username,
		Room:          room,
		Body:          body,
		Kind:          kind,
		AttachmentRef: attachmentRef,
		CreatedAt:     Now(),
	}

	saved, err := rt.db.AppendRoomMessage(record)
	if err != nil {
		rt.log.Println("append room message:", err)
		saved = record
	}

	plan := &DeliveryPlan{
		Message: &ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: saved.CreatedAt,
			},
			Message: &types.Message{
				Id:            saved.Id,
				UserId:        saved.UserId,
				Username:      saved.Username,
				Room:          saved.Room,
				Body:          saved.Body,
				Kind:          saved.Kind,
				AttachmentRef: saved.AttachmentRef,
				Timestamp:     saved.CreatedAt,
			},
		},
		Targets: rt.roomTargets(sess, room),
	}

	rt.deliver(plan)
	rt.stats.Incr("RoomMessagesRouted")

	return plan
}

// RouteDirectMessage persists a direct message and delivers it to the
// sender's own handle and, when the recipient is online and distinct
// from the sender, to the recipient's handle.
func (rt *Router) RouteDirectMessage(sess *Session, recipient, body, kind string, extra json.RawMessage) *DeliveryPlan {
	body = strings.TrimSpace(body)
	if body == "" || recipient == "" {
		return nil
	}

	if kind == "" {
		kind = types.KindText
	}

	record := database.DirectMessage{
		Sender:    sess.Username,
		Recipient: recipient,
		Body:      body,
		Kind:      kind,
		Extra:     extra,
		CreatedAt: Now(),
	}

	saved, err := rt.db.AppendDirectMessage(record)
	if err != nil {
		rt.log.Println("append direct message:", err)
		saved = record
	}

	targets := []TransportHandle{sess.handle}
	if recipient != sess.Username {
		if h, ok := rt.registry.Lookup(recipient); ok {
			targets = append(targets, h)
		}
	}

	plan := &DeliveryPlan{
		Message: &ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: saved.CreatedAt,
			},
			Direct: &types.DirectMessage{
				Sender:    saved.Sender,
				Recipient: saved.Recipient,
				Body:      saved.Body,
				Kind:      saved.Kind,
				Extra:     saved.Extra,
				Timestamp: saved.CreatedAt,
			},
		},
		Targets: targets,
	}

	rt.deliver(plan)
	rt.stats.Incr("DirectMessagesRouted")

	return plan
}

// JoinRoom moves the session into room, creating the room lazily by
// virtue of it being named, notifies the room's current members and
// replays recent history to the joining session.
func (rt *Router) JoinRoom(sess *Session, room string) error {
	if room == "" {
		room = DefaultRoom
	}

	prev, err := rt.registry.SetRoom(sess.UserId, room)
	if err != nil {
		return err
	}

	if prev != room {
		rt.log.Printf("%q moved from room %q to %q", sess.Username, prev, room)
	}

	joined := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			RoomJoined: &RoomJoined{
				Room:     room,
				Username: sess.Username,
			},
		},
	}

	for _, handle := range rt.registry.HandlesInRoom(room) {
		handle.QueueMessage(joined)
	}

	sess.handle.QueueMessage(rt.RecentMessages(room))

	return nil
}

// ConversationHistory is a synchronous bounded read of the direct
// messages exchanged with recipient, in either direction, oldest
// first. A storage failure yields an empty result.
func (rt *Router) ConversationHistory(sess *Session, recipient string, limit int) *ServerMessage {
	if limit <= 0 || limit > rt.historyLimit {
		limit = rt.historyLimit
	}

	history := &ChatHistory{
		Recipient: recipient,
		Messages:  []types.DirectMessage{},
	}

	if recipient != "" {
		records, err := rt.db.ConversationHistory(sess.Username, recipient, limit)
		if err != nil {
			rt.log.Println("conversation history:", err)
		}

		for _, rec := range records {
			history.Messages = append(history.Messages, types.DirectMessage{
				Sender:    rec.Sender,
				Recipient: rec.Recipient,
				Body:      rec.Body,
				Kind:      rec.Kind,
				Extra:     rec.Extra,
				Timestamp: rec.CreatedAt,
			})
		}
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		History: history,
	}
}

// RecentMessages builds the replay envelope for a room.
func (rt *Router) RecentMessages(room string) *ServerMessage {
	recent := &RecentMessages{
		Room:     room,
		Messages: []types.Message{},
	}

	records, err := rt.db.RecentRoomMessages(room, rt.historyLimit)
	if err != nil {
		rt.log.Println("recent room messages:", err)
	}

	for _, rec := range records {
		recent.Messages = append(recent.Messages, types.Message{
			Id:            rec.Id,
			UserId:        rec.UserId,
			Username:      rec.Username,
			Room:          rec.Room,
			Body:          rec.Body,
			Kind:          rec.Kind,
			AttachmentRef: rec.AttachmentRef,
			Timestamp:     rec.CreatedAt,
		})
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Recent: recent,
	}
}

// roomTargets is every handle in the room; the sender is always
// included even if it has since moved rooms.
func (rt *Router) roomTargets(sess *Session, room string) []TransportHandle {
	targets := rt.registry.HandlesInRoom(room)
	for _, t := range targets {
		if t == sess.handle {
			return targets
		}
	}

	return append(targets, sess.handle)
}

// deliver queues the plan's message to each target. A full or closed
// handle drops the message; there are no retries.
func (rt *Router) deliver(plan *DeliveryPlan) {
	for _, handle := range plan.Targets {
		if !handle.QueueMessage(plan.Message) {
			rt.log.Println("dropped message to slow or disconnected session")
		}
	}
}
