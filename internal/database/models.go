package database

import (
	"encoding/json"
	"time"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	IsOnline     bool
	CreatedAt    time.Time
	LastLogin    time.Time
}

type RoomMessage struct {
	Id int
	// Username is denormalized at write time; later username changes
	// do not rewrite history.
	UserId        int
	Username      string
	Room          string
	Body          string
	Kind          string
	AttachmentRef string
	CreatedAt     time.Time
}

type DirectMessage struct {
	Id        int
	Sender    string
	Recipient string
	Body      string
	Kind      string
	Extra     json.RawMessage
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}
