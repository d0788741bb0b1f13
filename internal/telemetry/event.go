package telemetry

import (
	"encoding/json"
	"time"

	"github.com/napd/local-control/internal/logic"
)

// Lifecycle events published to the system topic.
const (
	EventStartup   = "STARTUP"
	EventShutdown  = "SHUTDOWN"
	EventHeartbeat = "HEARTBEAT"
)

// Runtime describes the process for lifecycle events.
type Runtime struct {
	StartTime     time.Time
	Now           time.Time
	Selected      logic.PumpIdentity
	Broker        string
	MQTTConnected bool
}

// SystemEventJSON is the top-level envelope for lifecycle events.
type SystemEventJSON struct {
	System SystemEventInner `json:"system"`
}

// SystemEventInner contains the event details and the snapshot at that moment.
type SystemEventInner struct {
	Event         string     `json:"event"`
	Reason        string     `json:"reason,omitempty"`
	SelectedPump  int        `json:"selected_pump"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Data          DataJSON   `json:"data"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// FormatSystemEvent returns the JSON payload for a lifecycle event.
func FormatSystemEvent(snap Snapshot, rt Runtime, event, reason string) []byte {
	inner := SystemEventInner{
		Event:         event,
		Reason:        reason,
		SelectedPump:  int(rt.Selected),
		UptimeSeconds: int64(rt.Now.Sub(rt.StartTime).Truncate(time.Second).Seconds()),
		StartTime:     rt.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     rt.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: rt.MQTTConnected, Broker: rt.Broker},
		Data:          ToJSON(snap),
	}
	data, _ := json.Marshal(SystemEventJSON{System: inner})
	return data
}
