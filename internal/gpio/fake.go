package gpio

import (
	"fmt"
	"sync"
	"time"
)

// OutputWrite is one recorded output change.
type OutputWrite struct {
	Channel int
	Digital bool
	On      bool    // digital value
	Level   float64 // analog value
}

type watch struct {
	edge     Edge
	debounce time.Duration
	fn       PulseHandler
	count    uint64
}

// FakeDriver is a test double with scripted inputs and recorded output writes.
// Safe for concurrent use.
type FakeDriver struct {
	mu        sync.Mutex
	watches   map[int]*watch
	analogIn  map[int]float64
	digital   map[int]bool
	analog    map[int]float64
	readErrs  map[int]error
	writes    []OutputWrite
	closed    bool
	now       func() time.Time
	AnalogErr error // returned by AnalogIn when set
}

// NewFakeDriver creates a fake with the given output channels, all initially off.
func NewFakeDriver(digitalOutputs, analogOutputs []int) *FakeDriver {
	f := &FakeDriver{
		watches:  make(map[int]*watch),
		analogIn: make(map[int]float64),
		digital:  make(map[int]bool),
		analog:   make(map[int]float64),
		readErrs: make(map[int]error),
		now:      time.Now,
	}
	for _, ch := range digitalOutputs {
		f.digital[ch] = false
	}
	for _, ch := range analogOutputs {
		f.analog[ch] = 0
	}
	return f
}

// WatchPulses registers fn for channel. Edges are delivered by Fire.
func (f *FakeDriver) WatchPulses(channel int, edge Edge, debounce time.Duration, fn PulseHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.watches[channel]; ok {
		return fmt.Errorf("channel %d already watched", channel)
	}
	f.watches[channel] = &watch{edge: edge, debounce: debounce, fn: fn}
	return nil
}

// Fire simulates one debounced edge on channel. It reports whether a handler ran.
func (f *FakeDriver) Fire(channel int) bool {
	f.mu.Lock()
	w, ok := f.watches[channel]
	if !ok {
		f.mu.Unlock()
		return false
	}
	w.count++
	p := Pulse{Channel: channel, Edge: w.edge, Time: f.now(), Count: w.count}
	fn := w.fn
	f.mu.Unlock()

	fn(p)
	return true
}

// Watched returns the edge and debounce a channel was registered with.
func (f *FakeDriver) Watched(channel int) (Edge, time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.watches[channel]
	if !ok {
		return 0, 0, false
	}
	return w.edge, w.debounce, true
}

// SetAnalogIn scripts the reading returned for an analog input channel.
func (f *FakeDriver) SetAnalogIn(channel int, volts float64) {
	f.mu.Lock()
	f.analogIn[channel] = volts
	f.mu.Unlock()
}

func (f *FakeDriver) AnalogIn(channel int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AnalogErr != nil {
		return 0, f.AnalogErr
	}
	v, ok := f.analogIn[channel]
	if !ok {
		return 0, fmt.Errorf("analog in %d: %w", channel, ErrUnknownChannel)
	}
	return v, nil
}

// FailRead makes reads of an output channel return err. A nil err clears it.
func (f *FakeDriver) FailRead(channel int, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.readErrs, channel)
	} else {
		f.readErrs[channel] = err
	}
	f.mu.Unlock()
}

func (f *FakeDriver) DigitalOut(channel int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErrs[channel]; err != nil {
		return false, err
	}
	v, ok := f.digital[channel]
	if !ok {
		return false, fmt.Errorf("digital out %d: %w", channel, ErrUnknownChannel)
	}
	return v, nil
}

func (f *FakeDriver) SetDigitalOut(channel int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.digital[channel]; !ok {
		return fmt.Errorf("digital out %d: %w", channel, ErrUnknownChannel)
	}
	f.digital[channel] = on
	f.writes = append(f.writes, OutputWrite{Channel: channel, Digital: true, On: on})
	return nil
}

func (f *FakeDriver) AnalogOut(channel int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErrs[channel]; err != nil {
		return 0, err
	}
	v, ok := f.analog[channel]
	if !ok {
		return 0, fmt.Errorf("analog out %d: %w", channel, ErrUnknownChannel)
	}
	return v, nil
}

func (f *FakeDriver) SetAnalogOut(channel int, level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.analog[channel]; !ok {
		return fmt.Errorf("analog out %d: %w", channel, ErrUnknownChannel)
	}
	level = clampLevel(level)
	f.analog[channel] = level
	f.writes = append(f.writes, OutputWrite{Channel: channel, Level: level})
	return nil
}

// Writes returns a copy of all recorded output writes.
func (f *FakeDriver) Writes() []OutputWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutputWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

// WritesTo returns the recorded writes to one channel.
func (f *FakeDriver) WritesTo(channel int) []OutputWrite {
	var out []OutputWrite
	for _, w := range f.Writes() {
		if w.Channel == channel {
			out = append(out, w)
		}
	}
	return out
}

// ResetWrites forgets recorded writes but keeps output levels.
func (f *FakeDriver) ResetWrites() {
	f.mu.Lock()
	f.writes = nil
	f.mu.Unlock()
}

// Close marks the driver closed and turns every output off.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.digital {
		f.digital[ch] = false
	}
	for ch := range f.analog {
		f.analog[ch] = 0
	}
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
