package lobby

import "encoding/json"

// Envelope is the unit of delivery: a type discriminant plus an opaque JSON
// payload. It is encoded once at construction so fanning the same envelope to
// many recipients is a byte-slice share, not a marshal per recipient.
type Envelope struct {
	Type    string
	Payload json.RawMessage

	frame []byte
}

type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewEnvelope(msgType string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	frame, err := json.Marshal(wireEnvelope{Type: msgType, Payload: body})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: body, frame: frame}, nil
}

// RawEnvelope wraps an already-framed wire string. Typing indicators use this:
// the original frame is forwarded byte for byte, not re-enveloped.
func RawEnvelope(frame []byte) Envelope {
	return Envelope{frame: frame}
}

// Frame returns the serialized form pushed to recipient connections.
func (e Envelope) Frame() []byte {
	return e.frame
}
