package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/emotichat/emotichat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound envelope. Exactly one of the pointer
// fields is expected to be set.
type ClientMessage struct {
	BaseMessage
	Publish *Publish `json:"publish,omitempty"`
	Direct  *Direct  `json:"direct,omitempty"`
	Join    *Join    `json:"join,omitempty"`
	History *History `json:"history,omitempty"`
	client  *Client
}

type Publish struct {
	Room          string `json:"room,omitempty"`
	Body          string `json:"body"`
	Kind          string `json:"kind,omitempty"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
}

type Direct struct {
	Recipient string          `json:"recipient"`
	Body      string          `json:"body"`
	Kind      string          `json:"kind,omitempty"`
	Extra     json.RawMessage `json:"extra,omitempty"`
}

type Join struct {
	Room string `json:"room"`
}

type History struct {
	Recipient string `json:"recipient"`
	Limit     int    `json:"limit,omitempty"`
}

// ServerMessage is the outbound envelope.
type ServerMessage struct {
	BaseMessage
	Response     *Response            `json:"response,omitempty"`
	Message      *types.Message       `json:"message,omitempty"`
	Direct       *types.DirectMessage `json:"private_message,omitempty"`
	History      *ChatHistory         `json:"chat_history,omitempty"`
	Recent       *RecentMessages      `json:"recent_messages,omitempty"`
	Notification *Notification        `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

type Notification struct {
	Presence   *Presence   `json:"presence,omitempty"`
	RoomJoined *RoomJoined `json:"room_joined,omitempty"`
}

// Presence is emitted as user_online when Online is true and
// user_offline otherwise. OnlineUsers is a point-in-time snapshot of
// the session registry.
type Presence struct {
	Online      bool                  `json:"online"`
	UserId      int                   `json:"user_id"`
	Username    string                `json:"username"`
	Room        string                `json:"room"`
	OnlineUsers []types.PresenceEntry `json:"online_users"`
}

type RoomJoined struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type ChatHistory struct {
	Recipient string                `json:"recipient"`
	Messages  []types.DirectMessage `json:"messages"`
}

type RecentMessages struct {
	Room     string          `json:"room"`
	Messages []types.Message `json:"messages"`
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
