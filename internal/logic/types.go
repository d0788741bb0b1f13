// Package logic contains the pure supervisory state for the dual-pump skid.
// This package has NO external dependencies (no GPIO, MQTT, HTTP, or time.Sleep).
package logic

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPump is returned when a selection names neither pump.
	ErrInvalidPump = errors.New("invalid pump")
	// ErrInvalidState is returned for a pump state outside the known set.
	ErrInvalidState = errors.New("invalid pump state")
)

// PumpIdentity names one of the two pumps on the skid.
type PumpIdentity int

const (
	Pump1 PumpIdentity = 1
	Pump2 PumpIdentity = 2
)

// Valid reports whether id is one of the two known pumps.
func (id PumpIdentity) Valid() bool {
	return id == Pump1 || id == Pump2
}

// Other returns the pump that is not id.
func (id PumpIdentity) Other() PumpIdentity {
	if id == Pump2 {
		return Pump1
	}
	return Pump2
}

func (id PumpIdentity) String() string {
	switch id {
	case Pump1:
		return "pump1"
	case Pump2:
		return "pump2"
	default:
		return fmt.Sprintf("pump(%d)", int(id))
	}
}

// PumpState is the state string reported by a pump controller.
type PumpState string

const (
	StateStandby PumpState = "standby"
	StatePumping PumpState = "pumping"
	StateFault   PumpState = "fault"
)

// ParsePumpState validates s against the known pump states.
func ParsePumpState(s string) (PumpState, error) {
	switch PumpState(s) {
	case StateStandby, StatePumping, StateFault:
		return PumpState(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// StateWrite codes commanded to a pump controller.
const (
	WriteStandby = 0
	WriteRunning = 2
)

// Upstream application states that latch a fault.
const (
	CodePressureHighHigh = "pressure_high_high_level"
	CodeTankLowLow       = "tank_level_low_low_level"
)

// System status strings carried in the telemetry snapshot.
const (
	SystemRunning = "running"
	SystemFault   = "fault"
)
