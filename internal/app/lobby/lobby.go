// Package lobby is the single source of truth for who is online, which rooms
// they belong to, and who is in which active call. One goroutine owns the
// maps; everything reaches them through the inbox channel.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultInboxSize     = 256
	presenceWriteTimeout = 5 * time.Second
)

var ErrClosed = errors.New("lobby closed")

// PresenceStore is the asynchronous side-effect sink for online/offline
// flags. The lobby never waits on it.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

type Lobby struct {
	inbox chan Message
	done  chan struct{}

	// Owned exclusively by the Run goroutine.
	sessions    map[string]Recipient
	rooms       map[string]map[string]struct{}
	activeCalls map[string]map[string]struct{}

	presence PresenceStore
}

// Snapshot is a deep copy of the registry state, taken inside a lobby turn.
type Snapshot struct {
	Sessions    []string
	Rooms       map[string][]string
	ActiveCalls map[string][]string
}

func New(presence PresenceStore) *Lobby {
	return &Lobby{
		inbox:       make(chan Message, defaultInboxSize),
		done:        make(chan struct{}),
		sessions:    make(map[string]Recipient),
		rooms:       make(map[string]map[string]struct{}),
		activeCalls: make(map[string]map[string]struct{}),
		presence:    presence,
	}
}

// Run processes inbox messages strictly one at a time until ctx is canceled.
func (l *Lobby) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "lobby").Msg("lobby stopped")
			return
		case msg := <-l.inbox:
			l.dispatch(msg)
		}
	}
}

// Send queues a message for the lobby goroutine. Queueing preserves
// per-sender order; the caller never waits for the message to be handled.
func (l *Lobby) Send(msg Message) error {
	select {
	case <-l.done:
		return ErrClosed
	case l.inbox <- msg:
		return nil
	}
}

// Snapshot asks the lobby for a copy of its state. Because the inbox is
// processed in order, the reply also acts as a barrier for everything the
// caller sent before.
func (l *Lobby) Snapshot() (Snapshot, error) {
	req := snapshotRequest{reply: make(chan Snapshot, 1)}
	if err := l.Send(req); err != nil {
		return Snapshot{}, err
	}
	select {
	case <-l.done:
		return Snapshot{}, ErrClosed
	case snap := <-req.reply:
		return snap, nil
	}
}

func (l *Lobby) dispatch(msg Message) {
	switch m := msg.(type) {
	case Connect:
		l.handleConnect(m)
	case Disconnect:
		l.handleDisconnect(m)
	case ClientActorMessage:
		l.handleRoomBroadcast(m)
	case DirectMessage:
		l.handleDirect(m)
	case RoomSignalMessage:
		l.handleRoomSignal(m)
	case snapshotRequest:
		m.reply <- l.snapshot()
	default:
		log.Warn().Str("module", "lobby").Msgf("unknown lobby message %T", msg)
	}
}

type presencePayload struct {
	UserID string `json:"user_id"`
}

func (l *Lobby) handleConnect(c Connect) {
	notify := make([]string, 0)
	seen := make(map[string]struct{})

	for _, roomID := range c.Rooms {
		members, ok := l.rooms[roomID]
		if !ok {
			members = make(map[string]struct{})
			l.rooms[roomID] = members
		}
		members[c.UserID] = struct{}{}

		for userID := range members {
			if userID == c.UserID {
				continue
			}
			if _, dup := seen[userID]; !dup {
				seen[userID] = struct{}{}
				notify = append(notify, userID)
			}
		}
	}

	env, err := NewEnvelope("connect", presencePayload{UserID: c.UserID})
	if err != nil {
		log.Error().Err(err).Str("module", "lobby").Msg("connect envelope")
		return
	}
	for _, userID := range notify {
		l.sendTo(env, userID)
	}

	// Last-connect-wins: a reconnect silently replaces the old handle.
	l.sessions[c.UserID] = c.Addr

	log.Info().Str("module", "lobby").Str("user_id", c.UserID).Int("rooms", len(c.Rooms)).Msg("user connected")
	l.persistPresence(c.UserID, true, time.Time{})
}

func (l *Lobby) handleDisconnect(d Disconnect) {
	if _, ok := l.sessions[d.UserID]; !ok {
		// Double disconnect is tolerated; rooms were already cleaned.
		return
	}
	delete(l.sessions, d.UserID)

	notify := make([]string, 0)
	seen := make(map[string]struct{})

	for _, roomID := range d.Rooms {
		// A dropped connection also leaves whatever call it was in, or the
		// call set would keep addressing a dead session.
		if call, ok := l.activeCalls[roomID]; ok {
			delete(call, d.UserID)
			if len(call) == 0 {
				delete(l.activeCalls, roomID)
			}
		}

		members, ok := l.rooms[roomID]
		if !ok {
			continue
		}
		for userID := range members {
			if userID == d.UserID {
				continue
			}
			if _, dup := seen[userID]; !dup {
				seen[userID] = struct{}{}
				notify = append(notify, userID)
			}
		}

		// A room with one remaining member is no longer worth tracking.
		if len(members) > 1 {
			delete(members, d.UserID)
			if len(members) == 1 {
				delete(l.rooms, roomID)
			}
		} else {
			delete(l.rooms, roomID)
		}
	}

	// The durable offline flag must not depend on the notification path.
	l.persistPresence(d.UserID, false, time.Now())
	log.Info().Str("module", "lobby").Str("user_id", d.UserID).Msg("user disconnected")

	env, err := NewEnvelope("disconnect", presencePayload{UserID: d.UserID})
	if err != nil {
		log.Error().Err(err).Str("module", "lobby").Msg("disconnect envelope")
		return
	}
	for _, userID := range notify {
		l.sendTo(env, userID)
	}
}

func (l *Lobby) handleRoomBroadcast(m ClientActorMessage) {
	members, ok := l.rooms[m.RoomID]
	if !ok {
		// A late broadcast can race disconnect cleanup; drop it.
		log.Warn().Str("module", "lobby").Str("room_id", m.RoomID).Msg("broadcast to untracked room")
		return
	}
	for userID := range members {
		l.sendTo(m.Envelope, userID)
	}
}

func (l *Lobby) handleDirect(m DirectMessage) {
	if _, ok := l.sessions[m.To]; !ok {
		env, err := NewEnvelope("call_signal", map[string]string{
			"type": "peer_offline",
			"from": m.To,
		})
		if err != nil {
			log.Error().Err(err).Str("module", "lobby").Msg("peer_offline envelope")
			return
		}
		l.sendTo(env, m.From)
		return
	}
	l.sendTo(m.Envelope, m.To)
}

type callParticipants struct {
	Type         string   `json:"type"`
	From         string   `json:"from"`
	Participants []string `json:"participants"`
	RoomID       string   `json:"room_id"`
}

func (l *Lobby) handleRoomSignal(m RoomSignalMessage) {
	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(m.Envelope.Payload, &disc); err != nil {
		log.Error().Err(err).Str("module", "lobby").Msg("room signal payload")
		return
	}

	switch disc.Type {
	case "call_start":
		call, ok := l.activeCalls[m.RoomID]
		if !ok {
			call = make(map[string]struct{})
			l.activeCalls[m.RoomID] = call
		}
		call[m.From] = struct{}{}
		l.broadcastToRoom(m.Envelope, m.RoomID, m.From)

	case "call_join":
		// Snapshot before adding the joiner: the joiner learns who was
		// already in, and only those participants hear the join.
		existing := sortedKeys(l.activeCalls[m.RoomID])

		call, ok := l.activeCalls[m.RoomID]
		if !ok {
			call = make(map[string]struct{})
			l.activeCalls[m.RoomID] = call
		}
		call[m.From] = struct{}{}

		env, err := NewEnvelope("call_signal", callParticipants{
			Type:         "call_participants",
			From:         "system",
			Participants: existing,
			RoomID:       m.RoomID,
		})
		if err != nil {
			log.Error().Err(err).Str("module", "lobby").Msg("call_participants envelope")
			return
		}
		l.sendTo(env, m.From)
		l.broadcastToCall(m.Envelope, m.RoomID, m.From)

	case "call_leave":
		if call, ok := l.activeCalls[m.RoomID]; ok {
			delete(call, m.From)
			if len(call) == 0 {
				delete(l.activeCalls, m.RoomID)
			}
		}
		l.broadcastToCall(m.Envelope, m.RoomID, m.From)

	case "video_toggle", "audio_toggle":
		l.broadcastToCall(m.Envelope, m.RoomID, m.From)

	default:
		log.Warn().Str("module", "lobby").Str("type", disc.Type).Msg("unknown room signal type")
	}
}

func (l *Lobby) sendTo(env Envelope, userID string) {
	rec, ok := l.sessions[userID]
	if !ok {
		log.Error().Str("module", "lobby").Str("user_id", userID).Msg("attempted to send message to non-existent user")
		return
	}
	if err := rec.Send(env.Frame()); err != nil {
		log.Warn().Err(err).Str("module", "lobby").Str("user_id", userID).Msg("delivery failed")
	}
}

func (l *Lobby) broadcastToRoom(env Envelope, roomID, exceptUserID string) {
	for userID := range l.rooms[roomID] {
		if userID != exceptUserID {
			l.sendTo(env, userID)
		}
	}
}

func (l *Lobby) broadcastToCall(env Envelope, roomID, exceptUserID string) {
	for userID := range l.activeCalls[roomID] {
		if userID != exceptUserID {
			l.sendTo(env, userID)
		}
	}
}

func (l *Lobby) persistPresence(userID string, online bool, lastSeen time.Time) {
	if l.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
		defer cancel()
		if err := l.presence.SetPresence(ctx, userID, online, lastSeen); err != nil {
			log.Error().Err(err).Str("module", "lobby").Str("user_id", userID).Msg("presence update failed")
		}
	}()
}

func (l *Lobby) snapshot() Snapshot {
	snap := Snapshot{
		Sessions:    sortedKeys(l.sessions),
		Rooms:       make(map[string][]string, len(l.rooms)),
		ActiveCalls: make(map[string][]string, len(l.activeCalls)),
	}
	for roomID, members := range l.rooms {
		snap.Rooms[roomID] = sortedKeys(members)
	}
	for roomID, call := range l.activeCalls {
		snap.ActiveCalls[roomID] = sortedKeys(call)
	}
	return snap
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
