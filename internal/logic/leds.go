package logic

// Fault LED drive levels (analog output, percent).
const (
	FaultLEDOn  = 100.0
	FaultLEDOff = 0.0
	// faultLEDLit is the level above which a fault LED counts as lit.
	faultLEDLit = 0.1
)

// LEDInputs is everything the indicator truth table looks at.
// Fault LED levels are nil when the output could not be read this tick.
type LEDInputs struct {
	Faults     Faults
	Pump1State string
	Pump2State string
	Pump1Start bool
	Pump2Start bool
	Pump1Fault *float64
	Pump2Fault *float64
}

// LEDOutputs lists only the writes needed to bring outputs to their desired level.
// A nil field means "leave as is".
type LEDOutputs struct {
	Pump1Start *bool
	Pump2Start *bool
	// FaultLevel applies to both fault LEDs together.
	FaultLevel *float64
}

func (o LEDOutputs) empty() bool {
	return o.Pump1Start == nil && o.Pump2Start == nil && o.FaultLevel == nil
}

// LEDs evaluates the indicator truth table. Outputs already at the desired
// level produce no write.
func LEDs(in LEDInputs) LEDOutputs {
	var out LEDOutputs

	if in.Pump1Fault != nil && in.Pump2Fault != nil {
		p1, p2 := *in.Pump1Fault, *in.Pump2Fault
		if in.Faults.Active() {
			if p1 < faultLEDLit || p2 < faultLEDLit {
				out.FaultLevel = ptr(FaultLEDOn)
			}
		} else if p1 > 0 || p2 > 0 {
			out.FaultLevel = ptr(FaultLEDOff)
		}
	}

	out.Pump1Start = startLED(in.Pump1State, in.Pump1Start)
	// A pump in "fault" leaves its start LED alone; the shared fault LEDs carry it.
	out.Pump2Start = startLED(in.Pump2State, in.Pump2Start)
	return out
}

func startLED(state string, lit bool) *bool {
	switch PumpState(state) {
	case StatePumping:
		if !lit {
			return ptr(true)
		}
	case StateStandby:
		if lit {
			return ptr(false)
		}
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
