package logic

import "math"

// DefaultSystemVoltage is used when the platform does not report a supply voltage.
const DefaultSystemVoltage = 25.0

// ChangeBand is the relative band around the last accepted reading inside
// which a new reading is treated as noise.
const ChangeBand = 0.01

// TargetRate converts an analog reading into a rate percentage of the system
// voltage, rounded to two decimals. A non-positive voltage falls back to
// DefaultSystemVoltage.
func TargetRate(reading, systemVoltage float64) float64 {
	if systemVoltage <= 0 || math.IsNaN(systemVoltage) {
		systemVoltage = DefaultSystemVoltage
	}
	return math.Round(reading/systemVoltage*100*100) / 100
}

// ChangeGate suppresses readings that sit within ChangeBand of the last
// accepted reading. Not safe for concurrent use.
type ChangeGate struct {
	last   float64
	primed bool
}

// Prime sets the reference reading without issuing a command.
func (g *ChangeGate) Prime(v float64) {
	g.last = v
	g.primed = true
}

// Changed reports whether v is on or outside the band edge around the
// reference. A reading equal to the reference never counts, even at zero.
// An unprimed gate reports every reading as changed.
func (g *ChangeGate) Changed(v float64) bool {
	if !g.primed {
		return true
	}
	return v != g.last && math.Abs(v-g.last) >= math.Abs(g.last)*ChangeBand
}

// Accept makes v the new reference.
func (g *ChangeGate) Accept(v float64) {
	g.Prime(v)
}
