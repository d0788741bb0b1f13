package logic

// SolarReading is what one charge controller reported this tick.
// Nil fields were not available.
type SolarReading struct {
	BatteryVoltage    *float64
	BatteryPercentage *float64
	PanelVoltage      *float64
	RemainingAh       *float64
}

// SolarAggregate combines every configured charge controller.
type SolarAggregate struct {
	BatteryVoltage    float64
	BatteryPercentage float64
	PanelPower        float64
	BatteryAh         float64
}

// AggregateSolar averages voltages and percentages across controllers and sums
// remaining amp-hours. A quantity no controller reported is 0, and panel power
// never goes negative.
func AggregateSolar(readings []SolarReading) SolarAggregate {
	var volts, pct, panel, ah []float64
	for _, r := range readings {
		volts = appendIf(volts, r.BatteryVoltage)
		pct = appendIf(pct, r.BatteryPercentage)
		panel = appendIf(panel, r.PanelVoltage)
		ah = appendIf(ah, r.RemainingAh)
	}

	agg := SolarAggregate{
		BatteryVoltage:    mean(volts),
		BatteryPercentage: mean(pct),
		PanelPower:        mean(panel),
		BatteryAh:         sum(ah),
	}
	if agg.PanelPower < 0 {
		agg.PanelPower = 0
	}
	return agg
}

func appendIf(dst []float64, v *float64) []float64 {
	if v == nil {
		return dst
	}
	return append(dst, *v)
}

func sum(vs []float64) float64 {
	var total float64
	for _, v := range vs {
		total += v
	}
	return total
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	return sum(vs) / float64(len(vs))
}
