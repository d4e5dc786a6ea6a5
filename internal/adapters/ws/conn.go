// Package ws owns one physical WebSocket connection per Conn: its read/write
// pumps, heartbeat, and the parsing of inbound frames into lobby messages.
package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/SabbirMurad/fanari-backend/internal/app/lobby"
	"github.com/SabbirMurad/fanari-backend/internal/domain"
)

const (
	defaultHeartbeat     = 5 * time.Second
	defaultClientTimeout = 10 * time.Second

	writeWait        = 5 * time.Second
	persistTimeout   = 10 * time.Second
	defaultSendQueue = 32
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

var validate = validator.New()

// LobbySender is the one-way handle a connection holds on the lobby.
type LobbySender interface {
	Send(msg lobby.Message) error
}

// MessageStore persists chat messages. Writes are fire-and-forget from the
// connection's point of view.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *domain.Message) error
}

type Options struct {
	ReadLimit     int64
	SendQueue     int
	RateLimit     int           // frames per RateWindow, 0 disables
	RateWin       time.Duration // sliding window for RateLimit
	Heartbeat     time.Duration // ping interval, defaults to 5s
	ClientTimeout time.Duration // pong silence before teardown, defaults to 10s
}

// Conn is the connection actor. The lobby addresses it only through Send.
type Conn struct {
	userID string
	rooms  []string

	sock    *websocket.Conn
	send    chan []byte
	lobby   LobbySender
	store   MessageStore
	limiter *frameRateLimiter
	opts    Options

	lastPong atomic.Int64 // unix nanos of the last liveness signal

	mu       sync.RWMutex
	closed   bool
	teardown sync.Once
}

func NewConn(sock *websocket.Conn, userID string, rooms []string, lb LobbySender, store MessageStore, opts Options) *Conn {
	if opts.SendQueue <= 0 {
		opts.SendQueue = defaultSendQueue
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = defaultClientTimeout
	}
	c := &Conn{
		userID:  userID,
		rooms:   rooms,
		sock:    sock,
		send:    make(chan []byte, opts.SendQueue),
		lobby:   lb,
		store:   store,
		limiter: newFrameRateLimiter(opts.RateLimit, opts.RateWin),
		opts:    opts,
	}
	c.lastPong.Store(time.Now().UnixNano())
	return c
}

// Start registers the connection with the lobby and launches both pumps.
// A failed registration tears the socket down immediately.
func (c *Conn) Start(ctx context.Context) error {
	if err := c.lobby.Send(lobby.Connect{UserID: c.userID, Rooms: c.rooms, Addr: c}); err != nil {
		c.close()
		return err
	}
	go c.writePump(ctx)
	go c.readPump()
	return nil
}

// Send implements lobby.Recipient. It never blocks the lobby: a full queue
// or a closed connection is the recipient's problem, not the router's.
func (c *Conn) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// stop emits exactly one Disconnect per connection lifetime and closes the
// socket. Safe to call from either pump.
func (c *Conn) stop() {
	c.teardown.Do(func() {
		if err := c.lobby.Send(lobby.Disconnect{UserID: c.userID, Rooms: c.rooms}); err != nil {
			log.Warn().Err(err).Str("module", "ws").Str("user_id", c.userID).Msg("disconnect not delivered")
		}
		c.close()
	})
}

func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.sock.Close()
	c.mu.Unlock()
}

func (c *Conn) readPump() {
	defer c.stop()

	if c.opts.ReadLimit > 0 {
		c.sock.SetReadLimit(c.opts.ReadLimit)
	}
	c.sock.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return nil
	})
	c.sock.SetPingHandler(func(appData string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return c.sock.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		msgType, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Str("module", "ws").Str("user_id", c.userID).Msg("connection closed by peer")
			} else {
				log.Warn().Err(err).Str("module", "ws").Str("user_id", c.userID).Msg("read error")
			}
			return
		}
		switch msgType {
		case websocket.TextMessage:
			c.handleFrame(string(data))
		case websocket.BinaryMessage:
			// Binary frames carry no protocol content.
			log.Debug().Str("module", "ws").Str("user_id", c.userID).Msg("ignoring binary frame")
		}
	}
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer func() {
		ticker.Stop()
		c.stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("set write deadline")
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warn().Err(err).Str("module", "ws").Str("user_id", c.userID).Msg("write error")
				return
			}
		case <-ticker.C:
			if time.Since(time.Unix(0, c.lastPong.Load())) > c.opts.ClientTimeout {
				log.Warn().Str("module", "ws").Str("user_id", c.userID).Msg("disconnecting due to failed heartbeat")
				return
			}
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("set write deadline")
				return
			}
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "ws").Str("user_id", c.userID).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Conn) handleFrame(raw string) {
	tag, payload, ok := splitFrame(raw)
	if !ok {
		log.Error().Str("module", "ws").Str("user_id", c.userID).Msg("unsupported websocket frame")
		return
	}
	if !c.limiter.allow() {
		log.Warn().Str("module", "ws").Str("user_id", c.userID).Msg("rate limit exceeded, frame dropped")
		return
	}

	switch tag {
	case tagText:
		c.handleText(payload)
	case tagTyping:
		c.handleTyping(raw, payload)
	case tagCallSignal:
		c.handleCallSignal(payload)
	default:
		log.Warn().Str("module", "ws").Str("tag", tag).Msg("unknown frame tag")
	}
}

func (c *Conn) handleText(payload string) {
	var in incomingText
	if err := unmarshalAndValidate(payload, &in); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("user_id", c.userID).Msg("invalid text payload")
		return
	}

	msg := &domain.Message{
		UUID:           uuid.NewString(),
		Owner:          c.userID,
		ConversationID: in.ConversationID,
		Text:           in.Text,
		Mentions:       in.Mentions,
		Images:         in.Images,
		Audio:          in.Audio,
		Video:          in.Video,
		Attachment:     in.Attachment,
		Emoji:          in.Emoji,
		Type:           in.Type,
		ReplyTo:        in.ReplyTo,
		SeenBy:         []string{},
		CreatedAt:      time.Now().UnixMilli(),
	}

	// Persistence must never delay fan-out; failures are only logged.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := c.store.SaveMessage(ctx, msg); err != nil {
			log.Error().Err(err).Str("module", "ws").Str("message_id", msg.UUID).Msg("message save failed")
		}
	}()

	env, err := lobby.NewEnvelope("text", msg)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("text envelope")
		return
	}
	c.sendToLobby(lobby.ClientActorMessage{UserID: c.userID, RoomID: in.ConversationID, Envelope: env})
}

// handleTyping forwards the original wire string untouched; it is the lowest
// latency path and deliberately skips enveloping and persistence.
func (c *Conn) handleTyping(raw, roomID string) {
	c.sendToLobby(lobby.ClientActorMessage{
		UserID:   c.userID,
		RoomID:   roomID,
		Envelope: lobby.RawEnvelope([]byte(raw)),
	})
}

func (c *Conn) handleCallSignal(payload string) {
	var in incomingSignal
	if err := unmarshalAndValidate(payload, &in); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("user_id", c.userID).Msg("invalid call signal")
		return
	}

	env, err := lobby.NewEnvelope("call_signal", in.outgoing(c.userID))
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("call signal envelope")
		return
	}

	switch in.Type {
	case "offer", "answer", "ice_candidate",
		"call_request", "call_accept", "call_reject", "call_end":
		if in.To == "" {
			log.Error().Str("module", "ws").Str("type", in.Type).Msg("signal missing 'to' field")
			return
		}
		c.sendToLobby(lobby.DirectMessage{From: c.userID, To: in.To, Envelope: env})

	case "call_start", "call_join", "call_leave", "video_toggle", "audio_toggle":
		if in.RoomID == "" {
			log.Error().Str("module", "ws").Str("type", in.Type).Msg("signal missing 'room_id' field")
			return
		}
		c.sendToLobby(lobby.RoomSignalMessage{From: c.userID, RoomID: in.RoomID, Envelope: env})

	default:
		log.Warn().Str("module", "ws").Str("type", in.Type).Msg("unknown call signal type")
	}
}

func (c *Conn) sendToLobby(msg lobby.Message) {
	if err := c.lobby.Send(msg); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("user_id", c.userID).Msg("lobby unavailable, frame dropped")
	}
}
