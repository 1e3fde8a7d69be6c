// Package message defines the AXON wire envelope: schema, validation,
// encoding, and auto-response construction (spec §3, §4.6).
package message

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind is the envelope's kind tag. Unknown kinds MUST be accepted
// without panicking and their literal preserved for forwarding, so Kind
// is a plain string rather than a closed enum.
type Kind string

const (
	KindHello        Kind = "hello"
	KindPing         Kind = "ping"
	KindPong         Kind = "pong"
	KindQuery        Kind = "query"
	KindResponse     Kind = "response"
	KindDelegate     Kind = "delegate"
	KindAck          Kind = "ack"
	KindResult       Kind = "result"
	KindNotify       Kind = "notify"
	KindCancel       Kind = "cancel"
	KindDiscover     Kind = "discover"
	KindCapabilities Kind = "capabilities"
	KindMessage      Kind = "message"
	KindRequest      Kind = "request"
	KindError        Kind = "error"
)

// MaxEnvelopeBytes is the encoded-size cap enforced on every stream and
// at the IPC boundary (spec §5, §6).
const MaxEnvelopeBytes = 65536

// Envelope is the wire unit carried on every QUIC stream and surfaced
// through the IPC receive buffer.
type Envelope struct {
	ID      uuid.UUID       `json:"id"`
	Kind    Kind            `json:"kind"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	RefID   *uuid.UUID      `json:"ref,omitempty"`
	TS      uint64          `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// New constructs an envelope with a fresh v4 id and the given fields.
// payload must marshal to a JSON object.
func New(kind Kind, from, to string, payload interface{}, ts uint64) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := &Envelope{
		ID:      uuid.New(),
		Kind:    kind,
		From:    from,
		To:      to,
		TS:      ts,
		Payload: raw,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Reply builds a response envelope: ref_id = request.id, from/to swapped.
func Reply(request *Envelope, kind Kind, payload interface{}, ts uint64) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	refID := request.ID
	env := &Envelope{
		ID:      uuid.New(),
		Kind:    kind,
		From:    request.To,
		To:      request.From,
		RefID:   &refID,
		TS:      ts,
		Payload: raw,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate checks the invariants from spec §3: id non-nil v4, payload is
// a JSON object, and the encoded envelope does not exceed the size cap.
func (e *Envelope) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("invalid_envelope: id must not be nil")
	}
	if e.ID.Version() != 4 {
		return fmt.Errorf("invalid_envelope: id must be version 4, got version %d", e.ID.Version())
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("invalid_envelope: payload is required")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(e.Payload, &obj); err != nil {
		return fmt.Errorf("invalid_envelope: payload must be a JSON object: %w", err)
	}
	encoded, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("invalid_envelope: encode failed: %w", err)
	}
	if len(encoded) > MaxEnvelopeBytes {
		return fmt.Errorf("invalid_envelope: encoded length %d exceeds cap %d", len(encoded), MaxEnvelopeBytes)
	}
	return nil
}

// Encode marshals the envelope to its wire JSON form.
func (e *Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses wire JSON into an Envelope and validates it.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > MaxEnvelopeBytes {
		return nil, fmt.Errorf("invalid_envelope: encoded length %d exceeds cap %d", len(data), MaxEnvelopeBytes)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid_envelope: decode failed: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// IsBidiKind reports whether envelopes of this kind are expected to
// travel as a request/response pair over a bidirectional stream.
func IsBidiKind(k Kind) bool {
	switch k {
	case KindHello, KindPing, KindQuery, KindDiscover, KindDelegate, KindCancel, KindRequest:
		return true
	default:
		return false
	}
}
