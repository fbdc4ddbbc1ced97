package database

import (
	"database/sql"
	"sync"
)

// DefaultRingCapacity bounds the number of room messages retained per
// room in the in-memory deployment mode.
const DefaultRingCapacity = 500

// MemoryRepository is an in-process ChatRepository used when no
// database is configured and in tests. Room messages are kept in a
// bounded ring per room, oldest evicted first; it exists purely to
// serve recent-history replay, not durability.
type MemoryRepository struct {
	mu       sync.Mutex
	capacity int
	nextId   int
	accounts []User
	rooms    map[string][]RoomMessage
	directs  []DirectMessage
}

func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}

	return &MemoryRepository{
		capacity: capacity,
		rooms:    make(map[string][]RoomMessage),
	}
}

func (m *MemoryRepository) Ping() error { return nil }

func (m *MemoryRepository) CreateAccount(params CreateAccountParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.accounts {
		if u.Username == params.Username || u.EmailAddress == params.EmailAddress {
			return User{}, ErrDuplicateAccount
		}
	}

	m.nextId++
	u := User{
		Id:           m.nextId,
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		PasswordHash: params.PasswordHash,
	}
	m.accounts = append(m.accounts, u)

	return u, nil
}

func (m *MemoryRepository) GetAccountById(userId int) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.accounts {
		if u.Id == userId {
			return u, nil
		}
	}

	return User{}, sql.ErrNoRows
}

func (m *MemoryRepository) GetAccountByLogin(login string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.accounts {
		if u.Username == login || u.EmailAddress == login {
			return u, nil
		}
	}

	return User{}, sql.ErrNoRows
}

func (m *MemoryRepository) SetUserOnline(userId int, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.accounts {
		if m.accounts[i].Id == userId {
			m.accounts[i].IsOnline = online
			return nil
		}
	}

	return sql.ErrNoRows
}

func (m *MemoryRepository) AppendRoomMessage(msg RoomMessage) (RoomMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextId++
	msg.Id = m.nextId

	ring := append(m.rooms[msg.Room], msg)
	if len(ring) > m.capacity {
		ring = ring[len(ring)-m.capacity:]
	}
	m.rooms[msg.Room] = ring

	return msg, nil
}

func (m *MemoryRepository) RecentRoomMessages(room string, limit int) ([]RoomMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ring := m.rooms[room]
	if len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}

	out := make([]RoomMessage, len(ring))
	copy(out, ring)

	return out, nil
}

func (m *MemoryRepository) AppendDirectMessage(msg DirectMessage) (DirectMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextId++
	msg.Id = m.nextId
	m.directs = append(m.directs, msg)

	return msg, nil
}

func (m *MemoryRepository) ConversationHistory(userA, userB string, limit int) ([]DirectMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DirectMessage, 0, limit)
	for _, msg := range m.directs {
		if len(out) == limit {
			break
		}

		if samePair(msg.Sender, msg.Recipient, userA, userB) {
			out = append(out, msg)
		}
	}

	return out, nil
}

// samePair reports whether {s, r} and {a, b} are the same unordered
// pair of usernames. Usernames are unique and compared exactly, the
// same way the SQL queries compare them.
func samePair(s, r, a, b string) bool {
	return (s == a && r == b) || (s == b && r == a)
}
