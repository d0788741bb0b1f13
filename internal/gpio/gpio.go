// Package gpio provides the skid's I/O with hardware abstraction: pulse
// counters on digital inputs, one analog input, and digital and analog outputs.
// The real implementation uses the Linux GPIO character device plus sysfs
// IIO/PWM. The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"time"
)

var (
	// ErrUnknownChannel is returned for a channel the driver was not configured with.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrNotSupported is returned when the platform has no GPIO support.
	ErrNotSupported = errors.New("gpio not supported on this platform")
)

// Edge selects which transition a pulse counter reports.
type Edge int

const (
	EdgeRising Edge = iota
	EdgeFalling
)

func (e Edge) String() string {
	if e == EdgeFalling {
		return "falling"
	}
	return "rising"
}

// Pulse is one debounced edge seen by a pulse counter.
type Pulse struct {
	Channel int
	Edge    Edge
	Time    time.Time
	Count   uint64 // edges seen on this channel, including this one
}

// PulseHandler is invoked from the driver's event goroutine.
type PulseHandler func(Pulse)

// Driver is the I/O port used by the control package.
type Driver interface {
	// WatchPulses starts counting edges on channel and calls fn for each one.
	WatchPulses(channel int, edge Edge, debounce time.Duration, fn PulseHandler) error

	// AnalogIn returns the channel reading in volts.
	AnalogIn(channel int) (float64, error)

	DigitalOut(channel int) (bool, error)
	SetDigitalOut(channel int, on bool) error

	// AnalogOut returns the output level in percent (0-100).
	AnalogOut(channel int) (float64, error)
	SetAnalogOut(channel int, level float64) error

	// Close releases all lines and leaves outputs off.
	Close() error
}

// Config describes the hardware the real driver opens.
type Config struct {
	Chip           string        // GPIO character device, e.g. gpiochip0
	IIODevice      string        // e.g. iio:device0; empty disables analog input
	PWMChip        string        // e.g. pwmchip0; empty disables analog outputs
	PWMPeriod      time.Duration // PWM period for analog outputs
	DigitalOutputs []int
	AnalogOutputs  []int
}

func clampLevel(level float64) float64 {
	switch {
	case level < 0:
		return 0
	case level > 100:
		return 100
	}
	return level
}
