package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/napd/local-control/internal/logic"
)

func TestFormatSystemEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(func() time.Time { return start })
	s.Update(Partial{Pump1: &PumpReading{TargetRate: fp(50)}})

	rt := Runtime{
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		Selected:      logic.Pump2,
		Broker:        "tcp://localhost:1883",
		MQTTConnected: true,
	}
	data := FormatSystemEvent(s.Snapshot(), rt, EventStartup, "")

	var parsed SystemEventJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Event != EventStartup {
		t.Errorf("Event: got %q, want STARTUP", parsed.System.Event)
	}
	if parsed.System.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.System.Reason)
	}
	if parsed.System.SelectedPump != 2 {
		t.Errorf("SelectedPump: got %d, want 2", parsed.System.SelectedPump)
	}
	if parsed.System.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.System.UptimeSeconds)
	}
	if !parsed.System.MQTT.Connected {
		t.Error("MQTT.Connected: got false")
	}
	if parsed.System.Data.Pump.TargetRate != 50 {
		t.Errorf("Data.Pump.TargetRate: got %v, want 50", parsed.System.Data.Pump.TargetRate)
	}
}

func TestFormatSystemEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(func() time.Time { return start })

	data := FormatSystemEvent(s.Snapshot(), Runtime{StartTime: start, Now: start.Add(30 * time.Minute)}, EventShutdown, "SIGTERM")

	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if raw["system"]["event"] != "SHUTDOWN" {
		t.Errorf("event: got %v", raw["system"]["event"])
	}
	if raw["system"]["reason"] != "SIGTERM" {
		t.Errorf("reason: got %v", raw["system"]["reason"])
	}
	if raw["system"]["timestamp"] != "2026-01-01T00:30:00Z" {
		t.Errorf("timestamp: got %v", raw["system"]["timestamp"])
	}
}
