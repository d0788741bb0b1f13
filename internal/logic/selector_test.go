package logic

import (
	"errors"
	"testing"
)

func TestPumpSelectorDefault(t *testing.T) {
	s := NewPumpSelector()
	if got := s.Current(); got != Pump1 {
		t.Errorf("default selection: got %v, want %v", got, Pump1)
	}
}

func TestPumpSelectorToggleCycles(t *testing.T) {
	s := NewPumpSelector()
	want := []PumpIdentity{Pump2, Pump1, Pump2, Pump1, Pump2}
	for i, w := range want {
		if got := s.Toggle(); got != w {
			t.Fatalf("toggle %d: got %v, want %v", i, got, w)
		}
		if got := s.Current(); got != w {
			t.Fatalf("toggle %d: Current got %v, want %v", i, got, w)
		}
	}
}

func TestPumpSelectorSelect(t *testing.T) {
	s := NewPumpSelector()

	got, err := s.Select(Pump2)
	if err != nil {
		t.Fatalf("Select(Pump2): %v", err)
	}
	if got != Pump2 || s.Current() != Pump2 {
		t.Errorf("after Select(Pump2): got %v, current %v", got, s.Current())
	}

	for _, bad := range []PumpIdentity{0, 3, -1} {
		got, err := s.Select(bad)
		if !errors.Is(err, ErrInvalidPump) {
			t.Errorf("Select(%d): err %v, want ErrInvalidPump", bad, err)
		}
		if got != Pump2 {
			t.Errorf("Select(%d): returned %v, want unchanged %v", bad, got, Pump2)
		}
	}
	if s.Current() != Pump2 {
		t.Errorf("invalid selects changed selection to %v", s.Current())
	}
}

func TestPumpSelectorNotifiesEveryMutation(t *testing.T) {
	s := NewPumpSelector()
	var seen []PumpIdentity
	s.OnChange(func(id PumpIdentity) { seen = append(seen, id) })

	s.Toggle()
	s.Select(Pump2)
	s.Select(7)
	s.Toggle()

	want := []PumpIdentity{Pump2, Pump2, Pump1}
	if len(seen) != len(want) {
		t.Fatalf("notifications: got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("notification %d: got %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestParsePumpState(t *testing.T) {
	for _, ok := range []string{"standby", "pumping", "fault"} {
		if _, err := ParsePumpState(ok); err != nil {
			t.Errorf("ParsePumpState(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "running", "PUMPING"} {
		if _, err := ParsePumpState(bad); !errors.Is(err, ErrInvalidState) {
			t.Errorf("ParsePumpState(%q): err %v, want ErrInvalidState", bad, err)
		}
	}
}
