package telemetry

import "time"

// DataJSON is the wire form of a snapshot, shared by the data_update event,
// the /api/data endpoint and MQTT system events.
type DataJSON struct {
	Pump   PumpJSON   `json:"pump" msgpack:"pump"`
	Pump2  PumpJSON   `json:"pump2" msgpack:"pump2"`
	Solar  SolarJSON  `json:"solar" msgpack:"solar"`
	Tank   TankJSON   `json:"tank" msgpack:"tank"`
	Skid   SkidJSON   `json:"skid" msgpack:"skid"`
	System SystemJSON `json:"system" msgpack:"system"`
	Faults FaultsJSON `json:"faults" msgpack:"faults"`
}

// PumpJSON is one pump's wire form.
type PumpJSON struct {
	TargetRate float64 `json:"target_rate" msgpack:"target_rate"`
	FlowRate   float64 `json:"flow_rate" msgpack:"flow_rate"`
	PumpState  string  `json:"pump_state" msgpack:"pump_state"`
}

// SolarJSON is the solar aggregate's wire form.
type SolarJSON struct {
	BatteryVoltage    float64 `json:"battery_voltage" msgpack:"battery_voltage"`
	BatteryPercentage float64 `json:"battery_percentage" msgpack:"battery_percentage"`
	PanelPower        float64 `json:"panel_power" msgpack:"panel_power"`
	BatteryAh         float64 `json:"battery_ah" msgpack:"battery_ah"`
}

// TankJSON carries null for readings never reported.
type TankJSON struct {
	LevelMM      *float64 `json:"tank_level_mm" msgpack:"tank_level_mm"`
	LevelPercent *float64 `json:"tank_level_percent" msgpack:"tank_level_percent"`
}

// SkidJSON carries null for readings never reported.
type SkidJSON struct {
	Flow     *float64 `json:"skid_flow" msgpack:"skid_flow"`
	Pressure *float64 `json:"skid_pressure" msgpack:"skid_pressure"`
}

// SystemJSON reports status and the time of the last change.
type SystemJSON struct {
	Timestamp string `json:"timestamp" msgpack:"timestamp"`
	Status    string `json:"status" msgpack:"status"`
	Version   uint64 `json:"version" msgpack:"version"`
}

// FaultsJSON reports the latched faults.
type FaultsJSON struct {
	HHPressure  bool `json:"hh_pressure" msgpack:"hh_pressure"`
	LLTankLevel bool `json:"ll_tank_level" msgpack:"ll_tank_level"`
}

// ToJSON converts a snapshot to its wire form.
func ToJSON(s Snapshot) DataJSON {
	return DataJSON{
		Pump:  pumpJSON(s.Pump1),
		Pump2: pumpJSON(s.Pump2),
		Solar: SolarJSON{
			BatteryVoltage:    s.Solar.BatteryVoltage,
			BatteryPercentage: s.Solar.BatteryPercentage,
			PanelPower:        s.Solar.PanelPower,
			BatteryAh:         s.Solar.BatteryAh,
		},
		Tank: TankJSON{LevelMM: s.Tank.LevelMM, LevelPercent: s.Tank.LevelPercent},
		Skid: SkidJSON{Flow: s.Skid.Flow, Pressure: s.Skid.Pressure},
		System: SystemJSON{
			Timestamp: FormatTime(s.Timestamp),
			Status:    s.Status,
			Version:   s.Version,
		},
		Faults: FaultsJSON{
			HHPressure:  s.Faults.HighHighPressure,
			LLTankLevel: s.Faults.LowLowTankLevel,
		},
	}
}

// FormatTime renders timestamps the way every wire message carries them.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func pumpJSON(p Pump) PumpJSON {
	return PumpJSON{TargetRate: p.TargetRate, FlowRate: p.FlowRate, PumpState: p.State}
}
