package logic

import "sync"

// Faults is a point-in-time copy of the latched fault flags.
type Faults struct {
	HighHighPressure bool
	LowLowTankLevel  bool
}

// Active reports whether either flag is set.
func (f Faults) Active() bool {
	return f.HighHighPressure || f.LowLowTankLevel
}

// FaultLatch holds sticky fault flags. Flags are only ever set by Observe and
// only ever cleared by Clear. Safe for concurrent use.
type FaultLatch struct {
	mu     sync.Mutex
	faults Faults
}

// NewFaultLatch returns a latch with no faults set.
func NewFaultLatch() *FaultLatch {
	return &FaultLatch{}
}

// Observe sets each flag whose code appears among statuses.
func (l *FaultLatch) Observe(statuses ...string) {
	var pressure, tank bool
	for _, s := range statuses {
		switch s {
		case CodePressureHighHigh:
			pressure = true
		case CodeTankLowLow:
			tank = true
		}
	}
	if !pressure && !tank {
		return
	}

	l.mu.Lock()
	l.faults.HighHighPressure = l.faults.HighHighPressure || pressure
	l.faults.LowLowTankLevel = l.faults.LowLowTankLevel || tank
	l.mu.Unlock()
}

// Clear resets both flags.
func (l *FaultLatch) Clear() {
	l.mu.Lock()
	l.faults = Faults{}
	l.mu.Unlock()
}

// ClearIfActive resets both flags if either is set and reports whether it did.
// The check and the reset happen under one lock so a concurrent Observe
// cannot slip between them.
func (l *FaultLatch) ClearIfActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.faults.Active() {
		return false
	}
	l.faults = Faults{}
	return true
}

// IsActive reports whether either flag is set.
func (l *FaultLatch) IsActive() bool {
	return l.Faults().Active()
}

// Faults returns a copy of the current flags.
func (l *FaultLatch) Faults() Faults {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.faults
}
