package gateway

import (
	"encoding/json"

	"formation-flying/internal/domain"
)

// FrameType identifies the kind of frame sent over the stream.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the stream envelope. Requests and responses correlate on ID;
// event frames carry the event type and tick so clients can route them
// without decoding Payload.
type Frame struct {
	Type    FrameType        `json:"type"`
	ID      uint64           `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Event   domain.EventType `json:"event,omitempty"`
	Tick    int              `json:"tick,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func eventFrame(e domain.Event) (Frame, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: e.Type, Tick: e.Tick, Payload: payload}, nil
}
