package lobby

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRecipient struct {
	mu     sync.Mutex
	frames [][]byte
}

func (m *mockRecipient) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
	return nil
}

func (m *mockRecipient) received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.frames))
	for _, f := range m.frames {
		out = append(out, string(f))
	}
	return out
}

// envelopes decodes every received frame that parses as an envelope.
func (m *mockRecipient) envelopes(t *testing.T) []wireEnvelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wireEnvelope, 0, len(m.frames))
	for _, f := range m.frames {
		var env wireEnvelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

type presenceCall struct {
	userID   string
	online   bool
	lastSeen time.Time
}

type mockPresence struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (m *mockPresence) SetPresence(_ context.Context, userID string, online bool, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, presenceCall{userID: userID, online: online, lastSeen: lastSeen})
	return nil
}

func (m *mockPresence) snapshot() []presenceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]presenceCall(nil), m.calls...)
}

func newTestLobby(t *testing.T) (*Lobby, *mockPresence) {
	t.Helper()
	presence := &mockPresence{}
	l := New(presence)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Run(ctx)
	return l, presence
}

func connect(t *testing.T, l *Lobby, userID string, rooms ...string) *mockRecipient {
	t.Helper()
	rec := &mockRecipient{}
	require.NoError(t, l.Send(Connect{UserID: userID, Rooms: rooms, Addr: rec}))
	return rec
}

// barrier waits until every previously sent message has been handled.
func barrier(t *testing.T, l *Lobby) Snapshot {
	t.Helper()
	snap, err := l.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestLobby_SessionTableFollowsLastOperation(t *testing.T) {
	l, _ := newTestLobby(t)

	connect(t, l, "u1", "r1")
	snap := barrier(t, l)
	assert.Equal(t, []string{"u1"}, snap.Sessions)

	require.NoError(t, l.Send(Disconnect{UserID: "u1", Rooms: []string{"r1"}}))
	snap = barrier(t, l)
	assert.Empty(t, snap.Sessions)

	// Double disconnect is a tolerated no-op.
	require.NoError(t, l.Send(Disconnect{UserID: "u1", Rooms: []string{"r1"}}))
	snap = barrier(t, l)
	assert.Empty(t, snap.Sessions)

	connect(t, l, "u1", "r1")
	snap = barrier(t, l)
	assert.Equal(t, []string{"u1"}, snap.Sessions)
}

func TestLobby_RoomMembershipDedup(t *testing.T) {
	l, _ := newTestLobby(t)

	connect(t, l, "u1", "r1")
	connect(t, l, "u2", "r1")
	connect(t, l, "u3", "r1")
	// Repeat connect must not duplicate the member.
	connect(t, l, "u2", "r1")

	snap := barrier(t, l)
	assert.Equal(t, []string{"u1", "u2", "u3"}, snap.Rooms["r1"])
}

func TestLobby_ConnectNotifiesExistingMembersOnce(t *testing.T) {
	l, _ := newTestLobby(t)

	u1 := connect(t, l, "u1", "r1", "r2")
	// u2 shares both rooms with u1; u1 must still get a single connect event.
	connect(t, l, "u2", "r1", "r2")
	barrier(t, l)

	envs := u1.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, "connect", envs[0].Type)
	assert.JSONEq(t, `{"user_id":"u2"}`, string(envs[0].Payload))
}

func TestLobby_DisconnectCleansRooms(t *testing.T) {
	l, _ := newTestLobby(t)

	connect(t, l, "u1", "r1")
	u2 := connect(t, l, "u2", "r1")
	connect(t, l, "u3", "r1")

	require.NoError(t, l.Send(Disconnect{UserID: "u3", Rooms: []string{"r1"}}))
	snap := barrier(t, l)
	assert.Equal(t, []string{"u1", "u2"}, snap.Rooms["r1"])

	// Dropping to a single remaining member deletes the room entirely.
	require.NoError(t, l.Send(Disconnect{UserID: "u1", Rooms: []string{"r1"}}))
	snap = barrier(t, l)
	_, ok := snap.Rooms["r1"]
	assert.False(t, ok, "room with one stale member must be deleted")

	var disconnects []wireEnvelope
	for _, env := range u2.envelopes(t) {
		if env.Type == "disconnect" {
			disconnects = append(disconnects, env)
		}
	}
	require.Len(t, disconnects, 2)
	assert.JSONEq(t, `{"user_id":"u3"}`, string(disconnects[0].Payload))
	assert.JSONEq(t, `{"user_id":"u1"}`, string(disconnects[1].Payload))
}

func TestLobby_RoomBroadcastIncludesSender(t *testing.T) {
	l, _ := newTestLobby(t)

	u1 := connect(t, l, "u1", "r1")
	u2 := connect(t, l, "u2", "r1")

	// Typing indicators travel as the raw wire string.
	raw := "typing::r1"
	require.NoError(t, l.Send(ClientActorMessage{
		UserID:   "u1",
		RoomID:   "r1",
		Envelope: RawEnvelope([]byte(raw)),
	}))
	barrier(t, l)

	assert.Contains(t, u1.received(), raw)
	assert.Contains(t, u2.received(), raw)
}

func TestLobby_RoomBroadcastUntrackedRoomIsNoop(t *testing.T) {
	l, _ := newTestLobby(t)

	u1 := connect(t, l, "u1", "r1")
	env, err := NewEnvelope("text", map[string]string{"text": "hi"})
	require.NoError(t, err)

	require.NoError(t, l.Send(ClientActorMessage{UserID: "u1", RoomID: "nope", Envelope: env}))
	barrier(t, l)

	assert.Empty(t, u1.received())
}

func TestLobby_DirectMessageOfflinePeer(t *testing.T) {
	l, _ := newTestLobby(t)

	u1 := connect(t, l, "u1", "r1")
	u3 := connect(t, l, "u3", "r2")

	env, err := NewEnvelope("call_signal", map[string]string{"type": "offer", "from": "u1"})
	require.NoError(t, err)
	require.NoError(t, l.Send(DirectMessage{From: "u1", To: "u2", Envelope: env}))
	barrier(t, l)

	envs := u1.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, "call_signal", envs[0].Type)
	assert.JSONEq(t, `{"type":"peer_offline","from":"u2"}`, string(envs[0].Payload))

	assert.Empty(t, u3.received(), "no one but the sender may see the bounce")
}

func TestLobby_DirectMessageOnlinePeer(t *testing.T) {
	l, _ := newTestLobby(t)

	u1 := connect(t, l, "u1", "r1")
	u2 := connect(t, l, "u2", "r1")

	env, err := NewEnvelope("call_signal", map[string]string{"type": "answer", "from": "u1"})
	require.NoError(t, err)
	require.NoError(t, l.Send(DirectMessage{From: "u1", To: "u2", Envelope: env}))
	barrier(t, l)

	// connect event + direct envelope
	envs := u2.envelopes(t)
	require.NotEmpty(t, envs)
	last := envs[len(envs)-1]
	assert.Equal(t, "call_signal", last.Type)

	for _, env := range u1.envelopes(t) {
		assert.NotEqual(t, "call_signal", env.Type, "sender must not receive its own direct message")
	}
}

func callSignalEnvelope(t *testing.T, signalType, from, roomID string) Envelope {
	t.Helper()
	env, err := NewEnvelope("call_signal", map[string]string{
		"type":    signalType,
		"from":    from,
		"room_id": roomID,
	})
	require.NoError(t, err)
	return env
}

func TestLobby_CallStartBroadcastsToRoom(t *testing.T) {
	l, _ := newTestLobby(t)

	u1 := connect(t, l, "u1", "r1")
	u2 := connect(t, l, "u2", "r1")
	u3 := connect(t, l, "u3", "r1")

	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u1", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_start", "u1", "r1"),
	}))
	snap := barrier(t, l)

	assert.Equal(t, []string{"u1"}, snap.ActiveCalls["r1"])
	for _, rec := range []*mockRecipient{u2, u3} {
		envs := rec.envelopes(t)
		last := envs[len(envs)-1]
		assert.Equal(t, "call_signal", last.Type)
	}
	for _, env := range u1.envelopes(t) {
		assert.NotEqual(t, "call_signal", env.Type, "call_start must not echo to the caller")
	}
}

func TestLobby_CallJoinSnapshotsParticipants(t *testing.T) {
	l, _ := newTestLobby(t)

	u1 := connect(t, l, "u1", "r1")
	u2 := connect(t, l, "u2", "r1")
	u3 := connect(t, l, "u3", "r1")

	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u1", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_start", "u1", "r1"),
	}))
	barrier(t, l)
	u1Before, u3Before := len(u1.envelopes(t)), len(u3.envelopes(t))

	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u2", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_join", "u2", "r1"),
	}))
	snap := barrier(t, l)

	assert.Equal(t, []string{"u1", "u2"}, snap.ActiveCalls["r1"])

	// The joiner gets exactly the pre-join participant set.
	envs := u2.envelopes(t)
	last := envs[len(envs)-1]
	require.Equal(t, "call_signal", last.Type)
	var p callParticipants
	require.NoError(t, json.Unmarshal(last.Payload, &p))
	assert.Equal(t, "call_participants", p.Type)
	assert.Equal(t, "system", p.From)
	assert.Equal(t, []string{"u1"}, p.Participants)
	assert.Equal(t, "r1", p.RoomID)

	// u1 (in the call) hears the join; u3 (outside the call) hears nothing.
	assert.Len(t, u1.envelopes(t), u1Before+1)
	assert.Len(t, u3.envelopes(t), u3Before)
}

func TestLobby_CallLeave(t *testing.T) {
	l, _ := newTestLobby(t)

	connect(t, l, "u1", "r1")
	u2 := connect(t, l, "u2", "r1")

	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u1", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_start", "u1", "r1"),
	}))
	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u2", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_join", "u2", "r1"),
	}))
	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u2", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_leave", "u2", "r1"),
	}))
	snap := barrier(t, l)
	assert.Equal(t, []string{"u1"}, snap.ActiveCalls["r1"])

	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u1", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_leave", "u1", "r1"),
	}))
	snap = barrier(t, l)
	_, ok := snap.ActiveCalls["r1"]
	assert.False(t, ok, "empty call set must be removed")

	// Leaving a call you are not in is a no-op.
	before := len(u2.received())
	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u1", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_leave", "u1", "r1"),
	}))
	barrier(t, l)
	assert.Len(t, u2.received(), before)
}

func TestLobby_DisconnectLeavesActiveCalls(t *testing.T) {
	l, _ := newTestLobby(t)

	connect(t, l, "u1", "r1")
	connect(t, l, "u2", "r1")
	u3 := connect(t, l, "u3", "r1")

	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u1", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_start", "u1", "r1"),
	}))
	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u2", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_join", "u2", "r1"),
	}))

	// A dropped connection must vacate the call, not just the room.
	require.NoError(t, l.Send(Disconnect{UserID: "u1", Rooms: []string{"r1"}}))
	snap := barrier(t, l)
	assert.Equal(t, []string{"u2"}, snap.ActiveCalls["r1"])

	// A later joiner must not be told about the departed participant.
	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u3", RoomID: "r1", Envelope: callSignalEnvelope(t, "call_join", "u3", "r1"),
	}))
	barrier(t, l)
	envs := u3.envelopes(t)
	last := envs[len(envs)-1]
	var p callParticipants
	require.NoError(t, json.Unmarshal(last.Payload, &p))
	assert.Equal(t, []string{"u2"}, p.Participants)

	// The last participant dropping removes the call set entirely.
	require.NoError(t, l.Send(Disconnect{UserID: "u2", Rooms: []string{"r1"}}))
	require.NoError(t, l.Send(Disconnect{UserID: "u3", Rooms: []string{"r1"}}))
	snap = barrier(t, l)
	_, ok := snap.ActiveCalls["r1"]
	assert.False(t, ok, "call set with no live members must be removed")
}

func TestLobby_UnknownRoomSignalDropped(t *testing.T) {
	l, _ := newTestLobby(t)

	connect(t, l, "u1", "r1")
	u2 := connect(t, l, "u2", "r1")
	before := len(u2.received())

	require.NoError(t, l.Send(RoomSignalMessage{
		From: "u1", RoomID: "r1", Envelope: callSignalEnvelope(t, "warp_drive", "u1", "r1"),
	}))
	barrier(t, l)
	assert.Len(t, u2.received(), before)
}

func TestLobby_PresenceSideEffects(t *testing.T) {
	l, presence := newTestLobby(t)

	connect(t, l, "u1", "r1")
	require.NoError(t, l.Send(Disconnect{UserID: "u1", Rooms: []string{"r1"}}))
	barrier(t, l)

	require.Eventually(t, func() bool {
		return len(presence.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)

	// The writes are detached goroutines, so arrival order is not guaranteed.
	var sawOnline, sawOffline bool
	for _, call := range presence.snapshot() {
		require.Equal(t, "u1", call.userID)
		if call.online {
			sawOnline = true
			assert.True(t, call.lastSeen.IsZero())
		} else {
			sawOffline = true
			assert.False(t, call.lastSeen.IsZero())
		}
	}
	assert.True(t, sawOnline)
	assert.True(t, sawOffline)
}

func TestLobby_SendAfterStop(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()

	require.Eventually(t, func() bool {
		return l.Send(Connect{UserID: "u1", Addr: &mockRecipient{}}) == ErrClosed
	}, time.Second, 10*time.Millisecond)
}
