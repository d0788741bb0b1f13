// Package control wires the pure skid logic to I/O: the pulse router turns
// button edges into selection and pump commands, and the loop reconciles
// faults, indicators, the target rate and telemetry every period.
package control

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/napd/local-control/internal/gpio"
	"github.com/napd/local-control/internal/logic"
	"github.com/napd/local-control/internal/tags"
)

// Pins are the I/O channels of the skid panel.
type Pins struct {
	Selector      int
	Start         int
	Stop          int
	Potentiometer int
	Pump1StartLED int
	Pump2StartLED int
	Pump1FaultLED int
	Pump2FaultLED int
}

// Sources are the tag sources the controller reads and writes.
type Sources struct {
	Pump1    string
	Pump2    string
	Solar    []string
	Flow     string
	Pressure string
	Tank     string
	Platform string
}

// Pump returns the tag source of pump id.
func (s Sources) Pump(id logic.PumpIdentity) string {
	if id == logic.Pump2 {
		return s.Pump2
	}
	return s.Pump1
}

// Router handles debounced edges from the selector, start and stop inputs.
// Handlers run on the driver's event goroutine, concurrently with the loop.
type Router struct {
	selector *logic.PumpSelector
	faults   *logic.FaultLatch
	tags     tags.Writer
	sources  Sources

	startSeen atomic.Bool
}

// NewRouter creates a Router.
func NewRouter(sel *logic.PumpSelector, faults *logic.FaultLatch, w tags.Writer, sources Sources) *Router {
	return &Router{selector: sel, faults: faults, tags: w, sources: sources}
}

// Bind registers the router's handlers with the driver. The selector and stop
// inputs count rising edges; the start input uses startEdge.
func (r *Router) Bind(d gpio.Driver, pins Pins, startEdge gpio.Edge, debounce time.Duration) error {
	if err := d.WatchPulses(pins.Selector, gpio.EdgeRising, debounce, r.Selector); err != nil {
		return fmt.Errorf("watch selector input: %w", err)
	}
	if err := d.WatchPulses(pins.Start, startEdge, debounce, r.Start); err != nil {
		return fmt.Errorf("watch start input: %w", err)
	}
	if err := d.WatchPulses(pins.Stop, gpio.EdgeRising, debounce, r.Stop); err != nil {
		return fmt.Errorf("watch stop input: %w", err)
	}
	return nil
}

// Selector acknowledges latched faults if any, otherwise toggles the selected pump.
func (r *Router) Selector(p gpio.Pulse) {
	if r.faults.ClearIfActive() {
		log.Printf("control: faults cleared by selector button")
		return
	}
	id := r.selector.Toggle()
	log.Printf("control: selected %s", id)
}

// Start commands the selected pump to run. The first edge after process start
// comes from counter initialisation and is ignored.
func (r *Router) Start(p gpio.Pulse) {
	if r.startSeen.CompareAndSwap(false, true) {
		log.Printf("control: ignoring initial start edge")
		return
	}
	r.writeState(logic.WriteRunning, "starting")
}

// Stop commands the selected pump to standby.
func (r *Router) Stop(p gpio.Pulse) {
	r.writeState(logic.WriteStandby, "stopping")
}

func (r *Router) writeState(code int, verb string) {
	id := r.selector.Current()
	log.Printf("control: %s %s", verb, id)
	if err := r.tags.Set(tags.StateWrite, r.sources.Pump(id), code); err != nil {
		log.Printf("control: write %s to %s: %v", tags.StateWrite, id, err)
	}
}
