// Package telemetry holds the aggregated skid telemetry behind a mutex.
// It is read by the broadcast hub and HTTP handlers and written by the control loop.
package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/napd/local-control/internal/logic"
)

// Change tolerances. A numeric field only moves when the new value differs
// from the stored one by more than its tolerance.
const (
	TolPumpRate          = 0.05
	TolPumpFlow          = 0.05
	TolBatteryVoltage    = 0.1
	TolBatteryPercentage = 0.2
	TolPanelPower        = 0.1
	TolBatteryAh         = 0.1
	TolTankLevelMM       = 1.0
	TolTankLevelPercent  = 1
	TolSkidFlow          = 0.1
	TolSkidPressure      = 10
)

// Pump is one pump's telemetry.
type Pump struct {
	TargetRate float64
	FlowRate   float64
	State      string
}

// Tank is the tank reading; nil fields have never been reported.
type Tank struct {
	LevelMM      *float64
	LevelPercent *float64
}

// Skid is the skid flow/pressure reading; nil fields have never been reported.
type Skid struct {
	Flow     *float64
	Pressure *float64
}

// Snapshot is a point-in-time view of skid telemetry.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Pump1     Pump
	Pump2     Pump
	Solar     logic.SolarAggregate
	Tank      Tank
	Skid      Skid
	Faults    logic.Faults
	Status    string
	Timestamp time.Time
	// Version increments every time Timestamp advances.
	Version uint64
}

// Pump returns the telemetry of pump id.
func (s Snapshot) Pump(id logic.PumpIdentity) Pump {
	if id == logic.Pump2 {
		return s.Pump2
	}
	return s.Pump1
}

// PumpReading carries one pump's readings for Update. Nil means no reading this tick.
type PumpReading struct {
	TargetRate *float64
	FlowRate   *float64
	State      *string
}

// SolarReading carries the aggregated solar values for Update.
type SolarReading struct {
	BatteryVoltage    *float64
	BatteryPercentage *float64
	PanelPower        *float64
	BatteryAh         *float64
}

// Partial is a set of readings to fold into the snapshot.
// Nil members and nil fields are left untouched.
type Partial struct {
	Pump1  *PumpReading
	Pump2  *PumpReading
	Solar  *SolarReading
	Tank   *Tank
	Skid   *Skid
	Faults *logic.Faults
	Status *string
}

// Store holds the current snapshot behind a mutex.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewStore creates a Store with default values, stamped with now().
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now: now,
		snap: Snapshot{
			Pump1:     Pump{State: string(logic.StateStandby)},
			Pump2:     Pump{State: string(logic.StateStandby)},
			Status:    logic.SystemRunning,
			Timestamp: now(),
		},
	}
}

// Update folds p into the snapshot and reports whether any field changed.
// The timestamp and version advance only when something changed.
func (s *Store) Update(p Partial) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	sn := &s.snap

	if p.Pump1 != nil {
		changed = updatePump(&sn.Pump1, p.Pump1) || changed
	}
	if p.Pump2 != nil {
		changed = updatePump(&sn.Pump2, p.Pump2) || changed
	}
	if r := p.Solar; r != nil {
		changed = updateFloat(&sn.Solar.BatteryVoltage, r.BatteryVoltage, TolBatteryVoltage) || changed
		changed = updateFloat(&sn.Solar.BatteryPercentage, r.BatteryPercentage, TolBatteryPercentage) || changed
		changed = updateFloat(&sn.Solar.PanelPower, r.PanelPower, TolPanelPower) || changed
		changed = updateFloat(&sn.Solar.BatteryAh, r.BatteryAh, TolBatteryAh) || changed
	}
	if r := p.Tank; r != nil {
		changed = updateOptional(&sn.Tank.LevelMM, r.LevelMM, TolTankLevelMM) || changed
		changed = updateOptional(&sn.Tank.LevelPercent, r.LevelPercent, TolTankLevelPercent) || changed
	}
	if r := p.Skid; r != nil {
		changed = updateOptional(&sn.Skid.Flow, r.Flow, TolSkidFlow) || changed
		changed = updateOptional(&sn.Skid.Pressure, r.Pressure, TolSkidPressure) || changed
	}
	if p.Faults != nil && *p.Faults != sn.Faults {
		sn.Faults = *p.Faults
		changed = true
	}
	changed = updateString(&sn.Status, p.Status) || changed

	if changed {
		s.stamp()
	}
	return changed
}

// SetPumpState overwrites a pump's state string directly, bypassing the tag
// round-trip. It reports whether the state changed.
func (s *Store) SetPumpState(id logic.PumpIdentity, state logic.PumpState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pump := &s.snap.Pump1
	if id == logic.Pump2 {
		pump = &s.snap.Pump2
	}
	st := string(state)
	if !updateString(&pump.State, &st) {
		return false
	}
	s.stamp()
	return true
}

// Snapshot returns a copy of the current telemetry.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn := s.snap
	sn.Tank = Tank{LevelMM: clone(sn.Tank.LevelMM), LevelPercent: clone(sn.Tank.LevelPercent)}
	sn.Skid = Skid{Flow: clone(sn.Skid.Flow), Pressure: clone(sn.Skid.Pressure)}
	return sn
}

// stamp must be called with mu held.
func (s *Store) stamp() {
	s.snap.Timestamp = s.now()
	s.snap.Version++
}

func updatePump(dst *Pump, r *PumpReading) bool {
	changed := updateFloat(&dst.TargetRate, r.TargetRate, TolPumpRate)
	changed = updateFloat(&dst.FlowRate, r.FlowRate, TolPumpFlow) || changed
	changed = updateString(&dst.State, r.State) || changed
	return changed
}

func updateFloat(dst *float64, v *float64, tol float64) bool {
	if v == nil || math.IsNaN(*v) {
		return false
	}
	if math.IsInf(*v, 0) || math.IsInf(*dst, 0) {
		if *dst == *v {
			return false
		}
	} else if math.Abs(*v-*dst) <= tol {
		return false
	}
	*dst = *v
	return true
}

func updateOptional(dst **float64, v *float64, tol float64) bool {
	if v == nil || math.IsNaN(*v) {
		return false
	}
	if *dst == nil {
		*dst = clone(v)
		return true
	}
	return updateFloat(*dst, v, tol)
}

func updateString(dst *string, v *string) bool {
	if v == nil || *v == *dst {
		return false
	}
	*dst = *v
	return true
}

func clone(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
