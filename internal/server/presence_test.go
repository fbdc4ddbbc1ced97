package server

import (
	"testing"

	"github.com/emotichat/emotichat/internal/stats"
	"github.com/emotichat/emotichat/internal/testutil"
	"github.com/emotichat/emotichat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroadcaster(t *testing.T) (*PresenceBroadcaster, *SessionRegistry) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "PresenceEvents").Maybe()

	registry := NewSessionRegistry(testutil.TestLogger(t))
	return NewPresenceBroadcaster(testutil.TestLogger(t), registry, su), registry
}

func TestUserOnline(t *testing.T) {
	pb, registry := newTestBroadcaster(t)

	_, bobHandle := registerTestSession(t, registry, 2, "bob")
	alice, aliceHandle := registerTestSession(t, registry, 1, "alice")

	pb.UserOnline(alice)

	require.Len(t, bobHandle.messages, 1, "expected room member to receive the presence event")
	require.Len(t, aliceHandle.messages, 1, "expected the joining session to receive the presence event")

	presence := bobHandle.messages[0].Notification.Presence
	require.NotNil(t, presence, "expected a presence notification")
	assert.True(t, presence.Online, "expected an online event")
	assert.Equal(t, 1, presence.UserId, "expected the joining user id")
	assert.Equal(t, "alice", presence.Username, "expected the joining username")
	assert.Equal(t, DefaultRoom, presence.Room, "expected the affected room")
	assert.ElementsMatch(t, []types.PresenceEntry{
		{UserId: 1, Username: "alice"},
		{UserId: 2, Username: "bob"},
	}, presence.OnlineUsers, "expected the snapshot to include both sessions")
}

func TestUserOffline(t *testing.T) {
	pb, registry := newTestBroadcaster(t)

	alice, _ := registerTestSession(t, registry, 1, "alice")
	_, bobHandle := registerTestSession(t, registry, 2, "bob")
	_, carolHandle := registerTestSession(t, registry, 3, "carol")
	_, err := registry.SetRoom(3, "sports")
	require.NoError(t, err)

	require.True(t, registry.Release(alice), "expected alice's session to release")
	pb.UserOffline(alice)

	require.Len(t, bobHandle.messages, 1, "expected room member to receive the offline event")
	assert.Empty(t, carolHandle.messages, "expected no event in an unaffected room")

	presence := bobHandle.messages[0].Notification.Presence
	require.NotNil(t, presence, "expected a presence notification")
	assert.False(t, presence.Online, "expected an offline event")
	assert.ElementsMatch(t, []types.PresenceEntry{
		{UserId: 2, Username: "bob"},
		{UserId: 3, Username: "carol"},
	}, presence.OnlineUsers, "expected the snapshot to exclude the departed session")
}
