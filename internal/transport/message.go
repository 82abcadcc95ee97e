package transport

import (
	"encoding/json"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

// Kind identifies what an AgentMessage carries across the wire (spec §3
// AgentMessage, §4.12).
type Kind string

const (
	KindJoinRequest     Kind = "join_request"
	KindJoinResult      Kind = "join_result"
	KindReleaseRequest  Kind = "release_request"
	KindWorkEvent       Kind = "work_event"
	KindHeartbeat       Kind = "heartbeat"
)

// AgentMessage is the tagged envelope exchanged between orchestration core
// processes over the P2P endpoint: Kind selects how Payload should be
// interpreted, mirroring the Rust original's enum-of-structs AgentMessage
// translated to Go's closest idiom, a string tag plus raw JSON payload
// (spec §3, §4.12; grounded on internal/eventlog.Event's Kind+Payload
// shape, reused here for the wire rather than the durable log).
type AgentMessage struct {
	Kind       Kind            `json:"kind"`
	From       agentid.ID      `json:"from"`
	To         agentid.ID      `json:"to,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Encode marshals msg to JSON.
func Encode(msg AgentMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode unmarshals a JSON frame into an AgentMessage.
func Decode(data []byte) (AgentMessage, error) {
	var msg AgentMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}

// NewMessage builds an AgentMessage, marshaling payload as its JSON body.
func NewMessage(kind Kind, from, to agentid.ID, payload any) (AgentMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return AgentMessage{}, err
	}
	return AgentMessage{Kind: kind, From: from, To: to, OccurredAt: time.Now(), Payload: data}, nil
}
