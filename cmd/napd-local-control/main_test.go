package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/napd/local-control/internal/control"
	"github.com/napd/local-control/internal/gpio"
	"github.com/napd/local-control/internal/hub"
	"github.com/napd/local-control/internal/logic"
	"github.com/napd/local-control/internal/tags"
	"github.com/napd/local-control/internal/telemetry"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var testPins = control.Pins{
	Selector:      5,
	Start:         6,
	Stop:          13,
	Potentiometer: 0,
	Pump1StartLED: 20,
	Pump2StartLED: 21,
	Pump1FaultLED: 0,
	Pump2FaultLED: 1,
}

var testSources = control.Sources{
	Pump1:    "pump-1",
	Pump2:    "pump-2",
	Flow:     "flow",
	Pressure: "pressure",
	Platform: "platform",
}

// fakeSystem records lifecycle payloads.
type fakeSystem struct {
	mu        sync.Mutex
	payloads  [][]byte
	err       error
	connected bool
}

func (f *fakeSystem) PublishSystem(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeSystem) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSystem) events(t *testing.T) []telemetry.SystemEventInner {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []telemetry.SystemEventInner
	for _, p := range f.payloads {
		var ev telemetry.SystemEventJSON
		if err := json.Unmarshal(p, &ev); err != nil {
			t.Fatalf("decode system event: %v", err)
		}
		out = append(out, ev.System)
	}
	return out
}

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type harness struct {
	driver    *gpio.FakeDriver
	tags      *tags.MemoryStore
	selector  *logic.PumpSelector
	snapshots *telemetry.Store
	hub       *hub.Hub
	loop      *control.Loop
	system    *fakeSystem
	events    *lifecycle
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		driver: gpio.NewFakeDriver(
			[]int{testPins.Pump1StartLED, testPins.Pump2StartLED},
			[]int{testPins.Pump1FaultLED, testPins.Pump2FaultLED}),
		tags:      tags.NewMemoryStore(),
		selector:  logic.NewPumpSelector(),
		snapshots: telemetry.NewStore(func() time.Time { return start }),
		system:    &fakeSystem{connected: true},
	}
	h.driver.SetAnalogIn(testPins.Potentiometer, 12.0)
	h.hub = hub.New(h.snapshots, h.selector, hub.Options{})
	h.selector.OnChange(h.hub.PublishSelection)
	t.Cleanup(h.hub.Close)

	cfg := control.LoopConfig{Sources: testSources, Pins: testPins}
	h.loop = control.NewLoop(cfg, h.driver, h.tags, h.selector, logic.NewFaultLatch(), h.snapshots, h.hub)
	h.events = &lifecycle{
		publisher: h.system,
		status:    h.system,
		snapshots: h.snapshots,
		selection: h.selector,
		broker:    "tcp://localhost:1883",
		startTime: start,
		now:       fakeClock(start.Add(90*time.Second), time.Second),
	}
	return h
}

// runRunLoop drives runLoop with nTicks ticks, then nBeats heartbeats,
// followed by signal.
func runRunLoop(t *testing.T, h *harness, nTicks, nBeats int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	heartbeat := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.loop, h.events, tick, heartbeat, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	for i := 0; i < nBeats; i++ {
		heartbeat <- time.Time{}
	}
	sig <- signal

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return")
	}
	return nil
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	h := newHarness(t)

	if err := runRunLoop(t, h, 2, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	events := h.system.events(t)
	if len(events) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(events))
	}
	ev := events[0]
	if ev.Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN, got %q", ev.Event)
	}
	if ev.Reason != "SIGTERM" {
		t.Errorf("expected reason SIGTERM, got %q", ev.Reason)
	}
	if ev.UptimeSeconds != 90 {
		t.Errorf("uptime: got %d, want 90", ev.UptimeSeconds)
	}
	if !ev.MQTT.Connected || ev.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("mqtt: got %+v", ev.MQTT)
	}
	if ev.SelectedPump != 1 {
		t.Errorf("selected pump: got %d, want 1", ev.SelectedPump)
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	h := newHarness(t)

	if err := runRunLoop(t, h, 0, 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	events := h.system.events(t)
	if len(events) != 1 || events[0].Reason != "SIGINT" {
		t.Fatalf("expected one SHUTDOWN with reason SIGINT, got %+v", events)
	}
}

func TestRunLoopTicksDriveLoop(t *testing.T) {
	h := newHarness(t)
	h.tags.Put(tags.AppState, "pump-1", logic.CodePressureHighHigh)
	h.tags.Put(tags.SensorValue, "pressure", 250.0)

	sub, err := h.hub.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-sub.Messages()
	<-sub.Messages()

	if err := runRunLoop(t, h, 3, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	// Unprimed, the first tick commands the selected pump.
	writes := h.tags.WritesOf(tags.TargetRatePercentage)
	if len(writes) != 1 || writes[0].Source != "pump-1" {
		t.Fatalf("target rate writes: got %+v", writes)
	}

	select {
	case frame := <-sub.Messages():
		if !strings.Contains(string(frame), `"hh_pressure":true`) {
			t.Errorf("data_update missing latched fault: %s", frame)
		}
	default:
		t.Fatal("expected a data_update frame after the first tick")
	}

	events := h.system.events(t)
	if len(events) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(events))
	}
	data := events[0].Data
	if !data.Faults.HHPressure {
		t.Error("shutdown snapshot: expected hh_pressure fault")
	}
	if data.System.Status != logic.SystemFault {
		t.Errorf("shutdown snapshot status: got %q, want %q", data.System.Status, logic.SystemFault)
	}
	if data.Skid.Pressure == nil || *data.Skid.Pressure != 250 {
		t.Errorf("shutdown snapshot pressure: got %v", data.Skid.Pressure)
	}
}

func TestRunLoopHeartbeats(t *testing.T) {
	h := newHarness(t)

	if err := runRunLoop(t, h, 1, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	events := h.system.events(t)
	var names []string
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	want := []string{"HEARTBEAT", "HEARTBEAT", "SHUTDOWN"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("events: got %v, want %v", names, want)
	}
	if events[0].UptimeSeconds != 90 || events[1].UptimeSeconds != 91 {
		t.Errorf("heartbeat uptimes: got %d, %d", events[0].UptimeSeconds, events[1].UptimeSeconds)
	}
	if events[0].Reason != "" {
		t.Errorf("heartbeat reason: got %q, want empty", events[0].Reason)
	}
}

func TestLifecyclePublishError(t *testing.T) {
	h := newHarness(t)
	h.system.err = errors.New("broker down")

	// Must not panic or block.
	h.events.publish(telemetry.EventStartup, "")

	if got := h.system.events(t); len(got) != 0 {
		t.Errorf("expected no recorded events, got %d", len(got))
	}
}

func TestLifecycleStartup(t *testing.T) {
	h := newHarness(t)
	h.selector.Toggle()
	h.system.connected = false

	h.events.publish(telemetry.EventStartup, "")

	events := h.system.events(t)
	if len(events) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(events))
	}
	ev := events[0]
	if ev.Event != "STARTUP" || ev.Reason != "" {
		t.Errorf("got event %q reason %q", ev.Event, ev.Reason)
	}
	if ev.SelectedPump != 2 {
		t.Errorf("selected pump: got %d, want 2", ev.SelectedPump)
	}
	if ev.MQTT.Connected {
		t.Error("expected MQTT.Connected=false")
	}
	if ev.StartTime != "2026-01-01T00:00:00Z" {
		t.Errorf("start time: got %q", ev.StartTime)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

const testConfig = `
pumps:
  pump_1: pump-1
  pump_2: pump-2
pins:
  selector: 5
  start: 6
  stop: 13
  potentiometer: 0
  pump_1_start_led: 20
  pump_2_start_led: 21
  pump_1_fault_led: 0
  pump_2_fault_led: 1
`

func TestRunPrintConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local-control.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout := os.Stdout
	os.Stdout = w
	runErr := run(path, ":9999", "tcp://10.0.0.9:1883", true)
	os.Stdout = stdout
	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}

	if runErr != nil {
		t.Fatalf("run: %v", runErr)
	}
	for _, want := range []string{":9999", "tcp://10.0.0.9:1883", "pump_1: pump-1"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("printed config missing %q:\n%s", want, out)
		}
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local-control.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	// No broker in the file and none on the command line.
	if err := run(path, "", "", true); err == nil {
		t.Fatal("expected an error for a config without mqtt.broker")
	}
	if err := run(filepath.Join(t.TempDir(), "missing.yaml"), "", "", true); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
