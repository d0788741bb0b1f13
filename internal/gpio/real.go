//go:build linux

package gpio

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// LinuxDriver drives real hardware: gpiocdev lines for pulse inputs and
// digital outputs, sysfs IIO for the analog input and sysfs PWM for analog outputs.
type LinuxDriver struct {
	chip    *gpiocdev.Chip
	iioDir  string
	mu      sync.Mutex
	inputs  map[int]*gpiocdev.Line
	outputs map[int]*gpiocdev.Line
	pwm     map[int]*pwmChannel
}

// Open opens the GPIO chip and requests every configured output, initially off.
func Open(cfg Config) (Driver, error) {
	chipName := cfg.Chip
	if chipName == "" {
		chipName = "gpiochip0"
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	d := &LinuxDriver{
		chip:    chip,
		inputs:  make(map[int]*gpiocdev.Line),
		outputs: make(map[int]*gpiocdev.Line),
		pwm:     make(map[int]*pwmChannel),
	}
	if cfg.IIODevice != "" {
		d.iioDir = filepath.Join(iioRoot, cfg.IIODevice)
	}

	for _, ch := range cfg.DigitalOutputs {
		line, err := chip.RequestLine(ch, gpiocdev.AsOutput(0))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request output pin %d: %w", ch, err)
		}
		d.outputs[ch] = line
	}

	if len(cfg.AnalogOutputs) > 0 {
		if cfg.PWMChip == "" {
			d.Close()
			return nil, fmt.Errorf("analog outputs configured without a pwm chip")
		}
		period := cfg.PWMPeriod
		if period <= 0 {
			period = time.Millisecond
		}
		for _, ch := range cfg.AnalogOutputs {
			p, err := openPWM(filepath.Join(pwmRoot, cfg.PWMChip), ch, period)
			if err != nil {
				d.Close()
				return nil, err
			}
			d.pwm[ch] = p
		}
	}
	return d, nil
}

// WatchPulses requests channel as an edge-detecting input with kernel debounce.
func (d *LinuxDriver) WatchPulses(channel int, edge Edge, debounce time.Duration, fn PulseHandler) error {
	var count atomic.Uint64
	handler := func(evt gpiocdev.LineEvent) {
		fn(Pulse{
			Channel: evt.Offset,
			Edge:    edge,
			Time:    time.Now(),
			Count:   count.Add(1),
		})
	}

	// Rising-edge buttons idle low, falling-edge buttons idle high.
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithEventHandler(handler)}
	if edge == EdgeFalling {
		opts = append(opts, gpiocdev.WithFallingEdge, gpiocdev.WithPullUp)
	} else {
		opts = append(opts, gpiocdev.WithRisingEdge, gpiocdev.WithPullDown)
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inputs[channel]; ok {
		return fmt.Errorf("pin %d already watched", channel)
	}
	line, err := d.chip.RequestLine(channel, opts...)
	if err != nil {
		return fmt.Errorf("request input pin %d: %w", channel, err)
	}
	d.inputs[channel] = line
	return nil
}

func (d *LinuxDriver) AnalogIn(channel int) (float64, error) {
	if d.iioDir == "" {
		return 0, fmt.Errorf("analog in %d: %w", channel, ErrUnknownChannel)
	}
	v, err := iioChannel{dir: d.iioDir, channel: channel}.volts()
	if err != nil {
		return 0, fmt.Errorf("analog in %d: %w", channel, err)
	}
	return v, nil
}

func (d *LinuxDriver) output(channel int) (*gpiocdev.Line, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	line, ok := d.outputs[channel]
	if !ok {
		return nil, fmt.Errorf("digital out %d: %w", channel, ErrUnknownChannel)
	}
	return line, nil
}

func (d *LinuxDriver) DigitalOut(channel int) (bool, error) {
	line, err := d.output(channel)
	if err != nil {
		return false, err
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read output pin %d: %w", channel, err)
	}
	return v != 0, nil
}

func (d *LinuxDriver) SetDigitalOut(channel int, on bool) error {
	line, err := d.output(channel)
	if err != nil {
		return err
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set output pin %d: %w", channel, err)
	}
	return nil
}

func (d *LinuxDriver) pwmOutput(channel int) (*pwmChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pwm[channel]
	if !ok {
		return nil, fmt.Errorf("analog out %d: %w", channel, ErrUnknownChannel)
	}
	return p, nil
}

func (d *LinuxDriver) AnalogOut(channel int) (float64, error) {
	p, err := d.pwmOutput(channel)
	if err != nil {
		return 0, err
	}
	return p.level()
}

func (d *LinuxDriver) SetAnalogOut(channel int, level float64) error {
	p, err := d.pwmOutput(channel)
	if err != nil {
		return err
	}
	return p.setLevel(level)
}

// Close releases GPIO resources. Outputs are driven low and every line is
// reconfigured to input with pull-down, matching Pi boot defaults, before closing.
func (d *LinuxDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for ch, line := range d.outputs {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear output pin %d: %w", ch, err))
		}
	}
	for _, lines := range []map[int]*gpiocdev.Line{d.inputs, d.outputs} {
		for ch, line := range lines {
			if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
				errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", ch, err))
			}
			if err := line.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close pin %d: %w", ch, err))
			}
		}
	}
	for ch, p := range d.pwm {
		if err := p.disable(); err != nil {
			errs = append(errs, fmt.Errorf("disable pwm %d: %w", ch, err))
		}
	}
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	d.inputs = map[int]*gpiocdev.Line{}
	d.outputs = map[int]*gpiocdev.Line{}
	d.pwm = map[int]*pwmChannel{}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
