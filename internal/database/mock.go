package database

import (
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(userId int) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByLogin(login string) (User, error) {
	args := m.Called(login)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) SetUserOnline(userId int, online bool) error {
	args := m.Called(userId, online)
	return args.Error(0)
}
func (m *MockChatRepository) AppendRoomMessage(msg RoomMessage) (RoomMessage, error) {
	args := m.Called(msg)
	return args.Get(0).(RoomMessage), args.Error(1)
}
func (m *MockChatRepository) RecentRoomMessages(room string, limit int) ([]RoomMessage, error) {
	args := m.Called(room, limit)
	if msgs, ok := args.Get(0).([]RoomMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) AppendDirectMessage(msg DirectMessage) (DirectMessage, error) {
	args := m.Called(msg)
	return args.Get(0).(DirectMessage), args.Error(1)
}
func (m *MockChatRepository) ConversationHistory(userA, userB string, limit int) ([]DirectMessage, error) {
	args := m.Called(userA, userB, limit)
	if msgs, ok := args.Get(0).([]DirectMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
