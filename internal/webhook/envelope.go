package webhook

import (
	"encoding/json"
	"time"
)

// Payload is the job payload for the send_webhook handler family.
type Payload struct {
	TargetURL string          `json:"target_url"`
	EventType string          `json:"event_type"`
	AgentID   string          `json:"agent_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Secret    string          `json:"secret,omitempty"`
}

// Envelope is the canonical request body sent to the target.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	AgentID   string          `json:"agent_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EncodeEnvelope builds the canonical envelope and serializes it exactly
// once. The returned bytes are both the signing input and the request body;
// callers must not re-encode.
func EncodeEnvelope(p Payload, now time.Time) ([]byte, error) {
	env := Envelope{
		Event:     p.EventType,
		Timestamp: now.UTC().Format(time.RFC3339),
		AgentID:   p.AgentID,
		Data:      p.Data,
	}
	return json.Marshal(env)
}
