package database

import "errors"

// DefaultHistoryLimit bounds history reads when the caller does not
// supply a limit.
const DefaultHistoryLimit = 50

var ErrDuplicateAccount = errors.New("account already exists")

type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(userId int) (User, error)
	// GetAccountByLogin resolves a username or an email address.
	GetAccountByLogin(login string) (User, error)
	SetUserOnline(userId int, online bool) error
	AppendRoomMessage(msg RoomMessage) (RoomMessage, error)
	// RecentRoomMessages returns at most limit messages for the room,
	// oldest first.
	RecentRoomMessages(room string, limit int) ([]RoomMessage, error)
	AppendDirectMessage(msg DirectMessage) (DirectMessage, error)
	// ConversationHistory returns messages exchanged between the two
	// usernames in either direction, oldest first.
	ConversationHistory(userA, userB string, limit int) ([]DirectMessage, error)
}
