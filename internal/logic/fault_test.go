package logic

import (
	"sync"
	"testing"
)

func TestFaultLatchStartsClear(t *testing.T) {
	l := NewFaultLatch()
	if l.IsActive() {
		t.Error("expected no active fault initially")
	}
}

func TestFaultLatchIsSticky(t *testing.T) {
	l := NewFaultLatch()

	l.Observe("pumping", CodePressureHighHigh)
	if !l.Faults().HighHighPressure {
		t.Fatal("expected HighHighPressure after observing code")
	}

	l.Observe("pumping", "standby")
	if !l.Faults().HighHighPressure {
		t.Error("HighHighPressure cleared by clean status, want sticky")
	}
	if l.Faults().LowLowTankLevel {
		t.Error("LowLowTankLevel set without its code")
	}

	l.Clear()
	if l.IsActive() {
		t.Error("expected Clear to reset all flags")
	}
}

func TestFaultLatchFlagsIndependent(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     Faults
	}{
		{"none", []string{"standby", "pumping"}, Faults{}},
		{"pressure only", []string{CodePressureHighHigh, "standby"}, Faults{HighHighPressure: true}},
		{"tank only", []string{"standby", CodeTankLowLow}, Faults{LowLowTankLevel: true}},
		{"both in one call", []string{CodePressureHighHigh, CodeTankLowLow}, Faults{HighHighPressure: true, LowLowTankLevel: true}},
		{"empty status", []string{"", ""}, Faults{}},
		{"no statuses", nil, Faults{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewFaultLatch()
			l.Observe(tt.statuses...)
			if got := l.Faults(); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFaultLatchAccumulatesAcrossCalls(t *testing.T) {
	l := NewFaultLatch()
	l.Observe(CodePressureHighHigh)
	l.Observe(CodeTankLowLow)

	want := Faults{HighHighPressure: true, LowLowTankLevel: true}
	if got := l.Faults(); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFaultLatchClearIfActive(t *testing.T) {
	l := NewFaultLatch()
	if l.ClearIfActive() {
		t.Error("ClearIfActive on clear latch returned true")
	}

	l.Observe(CodeTankLowLow)
	if !l.ClearIfActive() {
		t.Error("ClearIfActive on active latch returned false")
	}
	if l.IsActive() {
		t.Error("latch still active after ClearIfActive")
	}
}

func TestFaultLatchConcurrent(t *testing.T) {
	l := NewFaultLatch()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); l.Observe(CodePressureHighHigh) }()
		go func() { defer wg.Done(); l.ClearIfActive() }()
		go func() { defer wg.Done(); _ = l.Faults() }()
	}
	wg.Wait()
}
