// Package protocol defines the wire envelope exchanged with clients.
//
// The vocabulary is stable across server implementations: clients built
// against the original signaling server keep working unchanged.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope kinds sent by the server.
const (
	TypeConnection      = "connection"       // informational ack after handshake
	TypeID              = "id"               // the client's own identifier
	TypeExistingClients = "existing-clients" // ids known at join time
	TypeNewConnection   = "new-connection"   // peer joined (broadcast)
	TypeDisconnection   = "disconnection"    // peer left (broadcast)
	TypePresence        = "presence"         // room membership update
	TypeError           = "error"            // human-readable failure reason
)

// Envelope kinds accepted from clients. TypeMessage is bidirectional.
const (
	TypeMessage = "message" // opaque relayed payload (signaling, chat)
	TypeJoin    = "join"    // join a named room
	TypeLeave   = "leave"   // leave a named room
)

var (
	ErrMissingType = errors.New("missing envelope type")
	ErrUnknownType = errors.New("unknown envelope type")
	ErrMissingRoom = errors.New("missing room")
)

// Envelope is a single routed message unit. Data is opaque to the relay:
// SDP offers, ICE candidates and chat text all travel through it unparsed.
// SenderID is always stamped by the server, never trusted from the wire.
type Envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Room     string          `json:"room,omitempty"`
}

// Parse decodes and validates one inbound envelope.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) validate() error {
	switch e.Type {
	case "":
		return ErrMissingType
	case TypeMessage:
		return nil
	case TypeJoin, TypeLeave:
		if e.Room == "" {
			return ErrMissingRoom
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
}

// Encode marshals an envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Text wraps a plain string as an envelope Data payload.
func Text(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// IDList wraps a list of connection ids as an envelope Data payload.
func IDList(ids []string) json.RawMessage {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return b
}

// ErrorEnvelope builds the error envelope delivered back to a sender.
func ErrorEnvelope(reason string) *Envelope {
	return &Envelope{Type: TypeError, Data: Text(reason)}
}
