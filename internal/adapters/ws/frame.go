package ws

import (
	"encoding/json"
	"strings"

	"github.com/SabbirMurad/fanari-backend/internal/domain"
)

// Wire frames look like "<tag>::<json-payload>". Only the first "::" is a
// boundary; the payload may legitimately contain the delimiter itself.
const frameDelimiter = "::"

const (
	tagText       = "text"
	tagTyping     = "typing"
	tagCallSignal = "call_signal"
)

func splitFrame(raw string) (tag, payload string, ok bool) {
	parts := strings.SplitN(raw, frameDelimiter, 2)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// incomingText is the client's view of a chat message. The server synthesizes
// uuid, owner, seen_by and created_at before fan-out.
type incomingText struct {
	ConversationID string             `json:"conversation_id" validate:"required"`
	Text           *string            `json:"text"`
	Images         []string           `json:"images"`
	Audio          *domain.Audio      `json:"audio"`
	Video          *domain.Video      `json:"video"`
	Attachment     *domain.Attachment `json:"attachment"`
	Type           domain.TextType    `json:"type" validate:"required"`
	ReplyTo        *string            `json:"reply_to"`
	Mentions       []domain.Mention   `json:"mentions"`
	Emoji          *string            `json:"emoji"`
}

// incomingSignal is a call signal as sent by the client. All fields except
// the discriminant are optional; which ones matter depends on the type.
type incomingSignal struct {
	Type      string          `json:"type" validate:"required"`
	To        string          `json:"to,omitempty"`      // present for directed signals
	RoomID    string          `json:"room_id,omitempty"` // present for room-wide signals
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	CallType  string          `json:"call_type,omitempty"`
	Enabled   *bool           `json:"enabled,omitempty"`
	Muted     *bool           `json:"muted,omitempty"`
}

// outgoingSignal is the relayed form: same optional fields plus the verified
// sender identity.
type outgoingSignal struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	CallType  string          `json:"call_type,omitempty"`
	Enabled   *bool           `json:"enabled,omitempty"`
	Muted     *bool           `json:"muted,omitempty"`
	RoomID    string          `json:"room_id,omitempty"`
	To        string          `json:"to,omitempty"`
}

func unmarshalAndValidate(payload string, v any) error {
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func (s incomingSignal) outgoing(from string) outgoingSignal {
	return outgoingSignal{
		Type:      s.Type,
		From:      from,
		SDP:       s.SDP,
		Candidate: s.Candidate,
		CallType:  s.CallType,
		Enabled:   s.Enabled,
		Muted:     s.Muted,
		RoomID:    s.RoomID,
		To:        s.To,
	}
}
