package types

import (
	"encoding/json"
	"time"
)

// Message kinds carried in room and direct messages. Non-text kinds
// carry an opaque payload produced by an external classifier; the
// server stores and relays it without interpreting it.
const (
	KindText    = "text"
	KindEmotion = "emotion"
	KindSystem  = "system"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	IsOnline     bool      `json:"is_online,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	LastLogin    time.Time `json:"last_login,omitempty"`
}

type Message struct {
	Id            int       `json:"id,omitempty"`
	UserId        int       `json:"user_id"`
	Username      string    `json:"username"`
	Room          string    `json:"room"`
	Body          string    `json:"body"`
	Kind          string    `json:"kind"`
	AttachmentRef string    `json:"attachment_ref,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type DirectMessage struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Body      string          `json:"body"`
	Kind      string          `json:"kind"`
	Extra     json.RawMessage `json:"extra,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// PresenceEntry is one row of the online-users snapshot included in
// presence notifications.
type PresenceEntry struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
}
