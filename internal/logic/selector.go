package logic

import (
	"fmt"
	"sync"
)

// PumpSelector holds which pump receives start/stop and rate commands.
// Every mutation is reported to the change callback. The callback runs under
// the selector's lock so notifications arrive in mutation order; it must not
// call back into the selector.
type PumpSelector struct {
	mu       sync.Mutex
	selected PumpIdentity
	onChange func(PumpIdentity)
}

// NewPumpSelector returns a selector with Pump1 selected.
func NewPumpSelector() *PumpSelector {
	return &PumpSelector{selected: Pump1}
}

// OnChange registers fn to be called with the selection after every toggle or select.
func (s *PumpSelector) OnChange(fn func(PumpIdentity)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Toggle flips the selection and returns the new value.
func (s *PumpSelector) Toggle() PumpIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = s.selected.Other()
	s.notify()
	return s.selected
}

// Select sets the selection to id. It fails with ErrInvalidPump for unknown ids
// and leaves the selection unchanged.
func (s *PumpSelector) Select(id PumpIdentity) (PumpIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !id.Valid() {
		return s.selected, fmt.Errorf("%w: %d", ErrInvalidPump, int(id))
	}
	s.selected = id
	s.notify()
	return id, nil
}

// Current returns the selected pump.
func (s *PumpSelector) Current() PumpIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *PumpSelector) notify() {
	if s.onChange != nil {
		s.onChange(s.selected)
	}
}
