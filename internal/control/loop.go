package control

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/napd/local-control/internal/filter"
	"github.com/napd/local-control/internal/gpio"
	"github.com/napd/local-control/internal/logic"
	"github.com/napd/local-control/internal/tags"
	"github.com/napd/local-control/internal/telemetry"
)

// Publisher receives the snapshot whenever a tick changed it.
type Publisher interface {
	Publish(telemetry.Snapshot)
}

// LoopConfig holds the loop's fixed parameters.
type LoopConfig struct {
	Sources              Sources
	Pins                 Pins
	ProcessVariance      float64
	MeasurementVariance  float64
	DefaultSystemVoltage float64
}

// Loop is the periodic orchestrator. Tick must only be called from one goroutine.
type Loop struct {
	cfg       LoopConfig
	driver    gpio.Driver
	tags      tags.Store
	selector  *logic.PumpSelector
	faults    *logic.FaultLatch
	store     *telemetry.Store
	publisher Publisher

	pot  *filter.Kalman
	gate logic.ChangeGate

	stepErr map[string]string
}

// NewLoop creates a Loop. The potentiometer filter starts unseeded; call
// Prime before the first tick to avoid a spurious target-rate write.
func NewLoop(cfg LoopConfig, d gpio.Driver, ts tags.Store, sel *logic.PumpSelector,
	faults *logic.FaultLatch, store *telemetry.Store, pub Publisher) *Loop {
	if cfg.DefaultSystemVoltage <= 0 {
		cfg.DefaultSystemVoltage = logic.DefaultSystemVoltage
	}
	if cfg.ProcessVariance <= 0 {
		cfg.ProcessVariance = 0.01
	}
	if cfg.MeasurementVariance <= 0 {
		cfg.MeasurementVariance = 0.0005
	}
	return &Loop{
		cfg:       cfg,
		driver:    d,
		tags:      ts,
		selector:  sel,
		faults:    faults,
		store:     store,
		publisher: pub,
		pot:       filter.New(cfg.ProcessVariance),
		stepErr:   make(map[string]string),
	}
}

// Prime takes the startup potentiometer reading, seeding the filter and the change gate.
func (l *Loop) Prime() error {
	raw, err := l.readPot()
	if err != nil {
		return err
	}
	l.gate.Prime(l.pot.Read(raw, l.cfg.MeasurementVariance))
	return nil
}

// Tick runs one reconciliation pass and reports whether the snapshot changed.
// A failing step is logged and never prevents the later steps.
func (l *Loop) Tick() bool {
	l.step("faults", l.checkFaults)
	l.step("leds", l.updateLEDs)
	l.step("target rate", l.updateTargetRate)

	changed := false
	l.step("telemetry", func() error {
		changed = l.updateTelemetry()
		return nil
	})
	if changed {
		l.step("publish", func() error {
			l.publisher.Publish(l.store.Snapshot())
			return nil
		})
	}
	return changed
}

// step runs fn, logging an error only when it differs from the step's last one.
func (l *Loop) step(name string, fn func() error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		l.report(name, err)
	}()
	err = fn()
}

func (l *Loop) report(name string, err error) {
	last, failing := l.stepErr[name]
	switch {
	case err == nil && failing:
		log.Printf("control: %s recovered", name)
		delete(l.stepErr, name)
	case err != nil && err.Error() != last:
		log.Printf("control: %s: %v", name, err)
		l.stepErr[name] = err.Error()
	}
}

func (l *Loop) checkFaults() error {
	var statuses []string
	for _, src := range []string{l.cfg.Sources.Pump1, l.cfg.Sources.Pump2} {
		if s := tags.GetString(l.tags, tags.AppState, src); s != nil {
			statuses = append(statuses, *s)
		}
	}
	l.faults.Observe(statuses...)
	return nil
}

func (l *Loop) updateLEDs() error {
	pins := l.cfg.Pins
	in := logic.LEDInputs{Faults: l.faults.Faults()}
	var errs []error

	// An unreadable start LED is left alone this tick.
	if on, err := l.driver.DigitalOut(pins.Pump1StartLED); err != nil {
		errs = append(errs, err)
	} else {
		in.Pump1Start = on
		in.Pump1State = l.pumpState(l.cfg.Sources.Pump1)
	}
	if on, err := l.driver.DigitalOut(pins.Pump2StartLED); err != nil {
		errs = append(errs, err)
	} else {
		in.Pump2Start = on
		in.Pump2State = l.pumpState(l.cfg.Sources.Pump2)
	}

	// Fault LEDs are only driven when both can be read.
	if lvl, err := l.driver.AnalogOut(pins.Pump1FaultLED); err != nil {
		errs = append(errs, err)
	} else {
		in.Pump1Fault = &lvl
	}
	if lvl, err := l.driver.AnalogOut(pins.Pump2FaultLED); err != nil {
		errs = append(errs, err)
	} else {
		in.Pump2Fault = &lvl
	}

	out := logic.LEDs(in)
	if out.Pump1Start != nil {
		errs = append(errs, l.driver.SetDigitalOut(pins.Pump1StartLED, *out.Pump1Start))
	}
	if out.Pump2Start != nil {
		errs = append(errs, l.driver.SetDigitalOut(pins.Pump2StartLED, *out.Pump2Start))
	}
	if out.FaultLevel != nil {
		errs = append(errs,
			l.driver.SetAnalogOut(pins.Pump1FaultLED, *out.FaultLevel),
			l.driver.SetAnalogOut(pins.Pump2FaultLED, *out.FaultLevel))
	}
	return errors.Join(errs...)
}

func (l *Loop) pumpState(source string) string {
	if s := tags.GetString(l.tags, tags.StateString, source); s != nil {
		return *s
	}
	return ""
}

func (l *Loop) updateTargetRate() error {
	raw, err := l.readPot()
	if err != nil {
		return err
	}
	reading := l.pot.Read(raw, l.cfg.MeasurementVariance)
	if !l.gate.Changed(reading) {
		return nil
	}

	voltage := l.cfg.DefaultSystemVoltage
	if v := tags.GetFloat(l.tags, tags.SystemVoltage, l.cfg.Sources.Platform); v != nil && *v > 0 {
		voltage = *v
	}
	rate := logic.TargetRate(reading, voltage)

	id := l.selector.Current()
	if err := l.tags.Set(tags.TargetRatePercentage, l.cfg.Sources.Pump(id), rate); err != nil {
		return fmt.Errorf("write target rate to %s: %w", id, err)
	}
	l.gate.Accept(reading)
	return nil
}

func (l *Loop) readPot() (float64, error) {
	raw, err := l.driver.AnalogIn(l.cfg.Pins.Potentiometer)
	if err != nil {
		return 0, fmt.Errorf("read potentiometer: %w", err)
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, fmt.Errorf("read potentiometer: invalid reading %v", raw)
	}
	return raw, nil
}

func (l *Loop) updateTelemetry() bool {
	src := l.cfg.Sources
	faults := l.faults.Faults()
	status := logic.SystemRunning
	if faults.Active() {
		status = logic.SystemFault
	}

	skid := &telemetry.Skid{
		Flow:     tags.GetFloat(l.tags, tags.SensorValue, src.Flow),
		Pressure: tags.GetFloat(l.tags, tags.SensorValue, src.Pressure),
	}
	p := telemetry.Partial{
		Pump1:  l.pumpReading(src.Pump1),
		Pump2:  l.pumpReading(src.Pump2),
		Solar:  l.solarReading(),
		Skid:   skid,
		Faults: &faults,
		Status: &status,
	}
	if src.Tank != "" {
		tank := &telemetry.Tank{LevelPercent: tags.GetFloat(l.tags, tags.LevelPercent, src.Tank)}
		if m := tags.GetFloat(l.tags, tags.LevelReading, src.Tank); m != nil {
			mm := *m * 1000
			tank.LevelMM = &mm
		}
		p.Tank = tank
	}
	return l.store.Update(p)
}

func (l *Loop) pumpReading(source string) *telemetry.PumpReading {
	return &telemetry.PumpReading{
		TargetRate: tags.GetFloat(l.tags, tags.TargetRate, source),
		FlowRate:   tags.GetFloat(l.tags, tags.FlowRate, source),
		State:      tags.GetString(l.tags, tags.StateString, source),
	}
}

func (l *Loop) solarReading() *telemetry.SolarReading {
	readings := make([]logic.SolarReading, 0, len(l.cfg.Sources.Solar))
	for _, src := range l.cfg.Sources.Solar {
		readings = append(readings, logic.SolarReading{
			BatteryVoltage:    tags.GetFloat(l.tags, tags.BatteryVoltage, src),
			BatteryPercentage: tags.GetFloat(l.tags, tags.BatteryPercent, src),
			PanelVoltage:      tags.GetFloat(l.tags, tags.PanelVoltage, src),
			RemainingAh:       tags.GetFloat(l.tags, tags.RemainingAh, src),
		})
	}
	agg := logic.AggregateSolar(readings)
	return &telemetry.SolarReading{
		BatteryVoltage:    &agg.BatteryVoltage,
		BatteryPercentage: &agg.BatteryPercentage,
		PanelPower:        &agg.PanelPower,
		BatteryAh:         &agg.BatteryAh,
	}
}
