package router

import (
	"encoding/json"
	"fmt"
)

// Request is the inbound envelope for a routed action. Action selects the
// handler; PeerID identifies the originating document context when the
// request came from (or concerns) a peer. Action-specific fields travel
// in Data.
type Request struct {
	Action string          `json:"action"`
	PeerID string          `json:"peer_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Reply is the outbound envelope. Every dispatched request produces
// exactly one Reply.
type Reply struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Sender describes where a request came from.
type Sender struct {
	PeerID  string
	Subject string
}

// OK builds a success reply carrying data. A nil data yields a bare
// success envelope.
func OK(data any) *Reply {
	if data == nil {
		return &Reply{Success: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail("marshal reply data: %v", err)
	}
	return &Reply{Success: true, Data: raw}
}

// Fail builds a failure reply with a formatted error message.
func Fail(format string, args ...any) *Reply {
	return &Reply{Success: false, Error: fmt.Sprintf(format, args...)}
}
