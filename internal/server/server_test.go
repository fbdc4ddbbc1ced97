package server

import (
	"sync"
	"testing"

	"github.com/emotichat/emotichat/internal/database"
	"github.com/emotichat/emotichat/internal/stats"
	"github.com/emotichat/emotichat/internal/testutil"
	"github.com/emotichat/emotichat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestChatServer(t *testing.T, db database.ChatRepository) *ChatServer {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	cs, err := NewChatServer(testutil.TestLogger(t), db, su, 50)
	require.NoError(t, err, "failed to create test ChatServer")
	return cs
}

func connectTestClient(t *testing.T, cs *ChatServer, userId int, username string) *Client {
	c := NewClient(types.User{Id: userId, Username: username}, nil, cs, testutil.TestLogger(t))
	require.NoError(t, cs.Connect(c), "expected client to connect")
	return c
}

// drain empties the client's send buffer and returns what was queued.
func drain(c *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestConnect(t *testing.T) {
	t.Run("registers session and replays history", func(t *testing.T) {
		repo := database.NewMemoryRepository(0)
		_, err := repo.AppendRoomMessage(database.RoomMessage{
			UserId: 9, Username: "earlier", Room: DefaultRoom, Body: "old news", Kind: types.KindText,
		})
		require.NoError(t, err)

		cs := newTestChatServer(t, repo)
		alice := connectTestClient(t, cs, 1, "alice")

		sess := alice.currentSession()
		require.NotNil(t, sess, "expected a session to be registered")
		assert.Equal(t, DefaultRoom, sess.Room, "expected the default room")

		msgs := drain(alice)
		var sawPresence, sawRecent bool
		for _, msg := range msgs {
			if msg.Notification != nil && msg.Notification.Presence != nil {
				sawPresence = true
				assert.True(t, msg.Notification.Presence.Online, "expected an online event")
			}
			if msg.Recent != nil {
				sawRecent = true
				require.Len(t, msg.Recent.Messages, 1, "expected replayed history")
				assert.Equal(t, "old news", msg.Recent.Messages[0].Body, "expected the stored message")
			}
		}
		assert.True(t, sawPresence, "expected a presence broadcast on connect")
		assert.True(t, sawRecent, "expected recent history replay on connect")
	})

	t.Run("anonymous connection stays unregistered", func(t *testing.T) {
		cs := newTestChatServer(t, database.NewMemoryRepository(0))

		c := NewClient(types.User{}, nil, cs, testutil.TestLogger(t))
		err := cs.Connect(c)
		assert.ErrorIs(t, err, ErrNotAuthenticated, "expected anonymous connect to be inert")
		assert.Nil(t, c.currentSession(), "expected no session for an anonymous connection")
		assert.Empty(t, cs.registry.Snapshot(), "expected no registry entry")

		err = cs.Dispatch(c, &ClientMessage{Publish: &Publish{Body: "hi"}})
		assert.ErrorIs(t, err, ErrNotAuthenticated, "expected operations to be dropped")
	})
}

// Exercises the session field from the goroutines that share it in
// production: the read pump dispatching while Connect registers and
// Disconnect tears down. Meaningful under -race.
func TestSessionLifecycleConcurrency(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryRepository(0))
	c := NewClient(types.User{Id: 1, Username: "alice"}, nil, cs, testutil.TestLogger(t))

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = cs.Dispatch(c, &ClientMessage{Publish: &Publish{Body: "hi"}})
			drain(c)
		}
	}()

	go func() {
		defer wg.Done()
		_ = cs.Connect(c)
		cs.Disconnect(c)
		_ = cs.Connect(c)
	}()

	wg.Wait()

	require.NotNil(t, c.currentSession(), "expected the reconnect to leave a session in place")
	assert.Len(t, cs.registry.Snapshot(), 1, "expected a single registered session")
}

func TestDisconnect(t *testing.T) {
	t.Run("unregisters and broadcasts offline", func(t *testing.T) {
		cs := newTestChatServer(t, database.NewMemoryRepository(0))

		alice := connectTestClient(t, cs, 1, "alice")
		bob := connectTestClient(t, cs, 2, "bob")
		drain(bob)

		cs.Disconnect(alice)
		assert.Empty(t, drain(alice), "expected no deliveries to the departed session")

		var sawOffline bool
		for _, msg := range drain(bob) {
			if msg.Notification != nil && msg.Notification.Presence != nil && !msg.Notification.Presence.Online {
				sawOffline = true
				assert.Equal(t, "alice", msg.Notification.Presence.Username, "expected alice to go offline")
			}
		}
		assert.True(t, sawOffline, "expected an offline broadcast")

		// idempotent
		cs.Disconnect(alice)
		assert.Len(t, cs.registry.Snapshot(), 1, "expected bob's session to remain")
	})

	t.Run("stale transport does not evict its successor", func(t *testing.T) {
		cs := newTestChatServer(t, database.NewMemoryRepository(0))

		first := connectTestClient(t, cs, 1, "alice")
		second := connectTestClient(t, cs, 1, "alice")
		bob := connectTestClient(t, cs, 2, "bob")

		drain(first)
		drain(second)

		// the superseded transport goes away
		cs.Disconnect(first)
		assert.Len(t, cs.registry.Snapshot(), 2, "expected the new session to survive")

		require.NoError(t, cs.Dispatch(bob, &ClientMessage{Publish: &Publish{Body: "hi"}}))

		assert.Empty(t, drain(first), "expected no deliveries to the superseded handle")

		var delivered bool
		for _, msg := range drain(second) {
			if msg.Message != nil && msg.Message.Body == "hi" {
				delivered = true
			}
		}
		assert.True(t, delivered, "expected the replacing session to receive room traffic")
	})
}

func TestDispatch_RoomScenario(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryRepository(0))

	alice := connectTestClient(t, cs, 1, "alice")
	bob := connectTestClient(t, cs, 2, "bob")
	drain(alice)
	drain(bob)

	require.NoError(t, cs.Dispatch(alice, &ClientMessage{Publish: &Publish{Body: "hi"}}))

	for name, c := range map[string]*Client{"alice": alice, "bob": bob} {
		msgs := drain(c)
		require.Len(t, msgs, 1, "expected exactly one delivery for %s", name)
		require.NotNil(t, msgs[0].Message, "expected a room message for %s", name)
		assert.Equal(t, "alice", msgs[0].Message.Username, "expected sender username")
		assert.Equal(t, "hi", msgs[0].Message.Body, "expected body")
	}
}

func TestDispatch_RoomSwitchScenario(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryRepository(0))

	alice := connectTestClient(t, cs, 1, "alice")
	bob := connectTestClient(t, cs, 2, "bob")
	dana := connectTestClient(t, cs, 3, "dana")
	require.NoError(t, cs.Dispatch(dana, &ClientMessage{Join: &Join{Room: "sports"}}))

	require.NoError(t, cs.Dispatch(alice, &ClientMessage{Join: &Join{Room: "sports"}}))
	drain(alice)
	drain(bob)
	drain(dana)

	require.NoError(t, cs.Dispatch(alice, &ClientMessage{Publish: &Publish{Body: "goal!"}}))

	assert.Empty(t, drain(bob), "expected no delivery to the previous room")

	var delivered bool
	for _, msg := range drain(dana) {
		if msg.Message != nil {
			delivered = true
			assert.Equal(t, "sports", msg.Message.Room, "expected the message in the new room")
		}
	}
	assert.True(t, delivered, "expected delivery to the new room's members")
}

func TestDispatch_OfflineDirectScenario(t *testing.T) {
	repo := database.NewMemoryRepository(0)
	cs := newTestChatServer(t, repo)

	alice := connectTestClient(t, cs, 1, "alice")
	drain(alice)

	// carol is offline
	require.NoError(t, cs.Dispatch(alice, &ClientMessage{Direct: &Direct{Recipient: "carol", Body: "yo"}}))

	msgs := drain(alice)
	require.Len(t, msgs, 1, "expected only the sender echo")
	require.NotNil(t, msgs[0].Direct, "expected a direct message echo")

	carol := connectTestClient(t, cs, 3, "carol")
	drain(carol)

	require.NoError(t, cs.Dispatch(carol, &ClientMessage{History: &History{Recipient: "alice"}}))

	replies := drain(carol)
	require.Len(t, replies, 1, "expected a synchronous history reply")
	require.NotNil(t, replies[0].History, "expected a chat history payload")
	require.Len(t, replies[0].History.Messages, 1, "expected the stored message")
	assert.Equal(t, "yo", replies[0].History.Messages[0].Body, "expected the offline message to appear")
	assert.Equal(t, "alice", replies[0].History.Messages[0].Sender, "expected the original sender")
}

func TestDispatch_InvalidEnvelope(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryRepository(0))

	alice := connectTestClient(t, cs, 1, "alice")
	drain(alice)

	require.NoError(t, cs.Dispatch(alice, &ClientMessage{BaseMessage: BaseMessage{Id: 7}}))

	msgs := drain(alice)
	require.Len(t, msgs, 1, "expected an error response")
	require.NotNil(t, msgs[0].Response, "expected a response payload")
	assert.Equal(t, 400, msgs[0].Response.ResponseCode, "expected a bad request response")
}

func TestShutdown(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryRepository(0))

	alice := connectTestClient(t, cs, 1, "alice")
	bob := connectTestClient(t, cs, 2, "bob")

	cs.Shutdown()

	assert.Empty(t, cs.registry.Snapshot(), "expected all sessions released")
	for _, c := range []*Client{alice, bob} {
		select {
		case <-c.stop:
		default:
			t.Error("expected client stop channel to be closed")
		}

		var notified bool
		for _, msg := range drain(c) {
			if msg.Response != nil && msg.Response.ResponseCode == 503 {
				notified = true
			}
		}
		assert.True(t, notified, "expected a service unavailable notice before teardown")
	}
}

func TestDisconnectUser(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryRepository(0))

	alice := connectTestClient(t, cs, 1, "alice")
	connectTestClient(t, cs, 2, "bob")

	cs.DisconnectUser(1)

	assert.Len(t, cs.registry.Snapshot(), 1, "expected only bob's session to remain")
	select {
	case <-alice.stop:
	default:
		t.Error("expected alice's client to be stopped")
	}
}
