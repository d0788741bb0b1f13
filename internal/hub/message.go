package hub

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Server to client events.
const (
	EventDataUpdate       = "data_update"
	EventHeartbeat        = "heartbeat"
	EventSelectionChanged = "pump_selection_changed"
	EventSelectionToggled = "pump_selection_toggled"
	EventError            = "error"
)

// Client to server events.
const (
	EventRequestData      = "request_data"
	EventRequestSelection = "request_pump_selection"
	EventSetPumpState     = "set_pump_state"
	EventToggleSelected   = "toggle_selected_pump"
)

var (
	// ErrUnknownEvent is returned by Handle for an event name it does not serve.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformed is returned by Handle for a message that is not a JSON envelope.
	ErrMalformed = errors.New("malformed message")
	// ErrClosed is returned by Subscribe after the hub has been closed.
	ErrClosed = errors.New("hub closed")
)

// Message is the envelope of every frame on the push channel.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// HeartbeatJSON is the payload of a heartbeat event.
type HeartbeatJSON struct {
	Timestamp string `json:"timestamp"`
}

// SelectionJSON is the payload of a pump_selection_changed event.
type SelectionJSON struct {
	SelectedPump int    `json:"selected_pump"`
	Timestamp    string `json:"timestamp"`
}

// NoticeJSON is the payload of pump_selection_toggled and error events.
type NoticeJSON struct {
	Message string `json:"message"`
}

// SetPumpStateJSON is the payload of an inbound set_pump_state event.
type SetPumpStateJSON struct {
	State *string `json:"state"`
}

func encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Message{Event: event, Data: payload})
}
