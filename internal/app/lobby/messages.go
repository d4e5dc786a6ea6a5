package lobby

// Recipient is the capability the lobby holds for pushing a serialized
// envelope onto one connection's outbound stream. It is the only way the
// lobby talks back to a specific connection.
type Recipient interface {
	Send(frame []byte) error
}

// Message is the sealed set of inputs the lobby accepts.
type Message interface {
	lobbyMessage()
}

// Connect registers a user's live connection together with its precomputed
// room memberships.
type Connect struct {
	UserID string
	Rooms  []string
	Addr   Recipient
}

// Disconnect removes a user's session and cleans its room memberships.
type Disconnect struct {
	UserID string
	Rooms  []string
}

// ClientActorMessage is a room broadcast, delivered to every member of the
// room including the sender.
type ClientActorMessage struct {
	UserID   string
	RoomID   string
	Envelope Envelope
}

// DirectMessage is 1:1 delivery; an offline target bounces a peer_offline
// signal back to the sender instead.
type DirectMessage struct {
	From     string
	To       string
	Envelope Envelope
}

// RoomSignalMessage carries a call signal whose routing depends on the
// discriminant inside the envelope payload.
type RoomSignalMessage struct {
	From     string
	RoomID   string
	Envelope Envelope
}

// snapshotRequest is the internal query surface; answered on the reply
// channel from inside the lobby turn so reads never race with mutation.
type snapshotRequest struct {
	reply chan Snapshot
}

func (Connect) lobbyMessage()            {}
func (Disconnect) lobbyMessage()         {}
func (ClientActorMessage) lobbyMessage() {}
func (DirectMessage) lobbyMessage()      {}
func (RoomSignalMessage) lobbyMessage()  {}
func (snapshotRequest) lobbyMessage()    {}
