// Package config loads the controller's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/napd/local-control/internal/control"
	"github.com/napd/local-control/internal/gpio"
	"github.com/napd/local-control/internal/hub"
	"github.com/napd/local-control/internal/tags"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the controller configuration.
type Config struct {
	Pumps            Pumps    `yaml:"pumps"`
	SolarControllers []string `yaml:"solar_controllers"`
	FlowSensor       string   `yaml:"flow_sensor"`
	PressureSensor   string   `yaml:"pressure_sensor"`
	TankLevel        string   `yaml:"tank_level"`
	PlatformSource   string   `yaml:"platform_source"`
	Pins             Pins     `yaml:"pins"`

	StartEdgeRising      bool          `yaml:"start_edge_rising"`
	Debounce             time.Duration `yaml:"debounce"`
	LoopPeriod           time.Duration `yaml:"loop_period"`
	HeartbeatPeriod      time.Duration `yaml:"heartbeat_period"`
	Filter               Filter        `yaml:"filter"`
	DefaultSystemVoltage float64       `yaml:"default_system_voltage"`

	MQTT MQTT `yaml:"mqtt"`
	HTTP HTTP `yaml:"http"`
	GPIO GPIO `yaml:"gpio"`
}

// Pumps names the tag sources of the two pumps.
type Pumps struct {
	Pump1 string `yaml:"pump_1"`
	Pump2 string `yaml:"pump_2"`
}

// Pins are I/O channel numbers. Nil means not configured.
type Pins struct {
	Selector      *int `yaml:"selector"`
	Start         *int `yaml:"start"`
	Stop          *int `yaml:"stop"`
	Potentiometer *int `yaml:"potentiometer"`
	Pump1StartLED *int `yaml:"pump_1_start_led"`
	Pump2StartLED *int `yaml:"pump_2_start_led"`
	Pump1FaultLED *int `yaml:"pump_1_fault_led"`
	Pump2FaultLED *int `yaml:"pump_2_fault_led"`
}

// Filter holds the potentiometer filter variances.
type Filter struct {
	ProcessVariance     float64 `yaml:"process_variance"`
	MeasurementVariance float64 `yaml:"measurement_variance"`
}

// MQTT configures the tag store connection.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	SystemTopic string `yaml:"system_topic"`
	BufferSize  int    `yaml:"buffer_size"`
	// StatusHeartbeat is the period of HEARTBEAT events on the system topic.
	// Zero disables them.
	StatusHeartbeat time.Duration `yaml:"status_heartbeat"`
}

// HTTP configures the dashboard server.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// GPIO configures the hardware driver.
type GPIO struct {
	Chip      string        `yaml:"chip"`
	IIODevice string        `yaml:"iio_device"`
	PWMChip   string        `yaml:"pwm_chip"`
	PWMPeriod time.Duration `yaml:"pwm_period"`
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		PlatformSource:       "platform",
		StartEdgeRising:      true,
		Debounce:             50 * time.Millisecond,
		LoopPeriod:           200 * time.Millisecond,
		HeartbeatPeriod:      time.Second,
		Filter:               Filter{ProcessVariance: 0.01, MeasurementVariance: 0.0005},
		DefaultSystemVoltage: 25.0,
		MQTT: MQTT{
			ClientID:        "napd-local-control",
			TopicPrefix:     "tags",
			SystemTopic:     "napd/local-control/system",
			BufferSize:      64,
			StatusHeartbeat: 15 * time.Minute,
		},
		HTTP: HTTP{Addr: ":8092"},
		GPIO: GPIO{Chip: "gpiochip0", PWMPeriod: time.Millisecond},
	}
}

// Override adjusts a decoded configuration before it is validated.
type Override func(*Config)

// WithHTTPAddr overrides http.addr when addr is not empty.
func WithHTTPAddr(addr string) Override {
	return func(c *Config) {
		if addr != "" {
			c.HTTP.Addr = addr
		}
	}
}

// WithBroker overrides mqtt.broker when broker is not empty.
func WithBroker(broker string) Override {
	return func(c *Config) {
		if broker != "" {
			c.MQTT.Broker = broker
		}
	}
}

// Load reads path over the defaults, applies overrides and validates the result.
func Load(path string, overrides ...Override) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, overrides...)
}

// Parse decodes YAML over the defaults, applies overrides and validates the result.
func Parse(data []byte, overrides ...Override) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, each wrapping ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.Pumps.Pump1 == "" || c.Pumps.Pump2 == "" {
		bad("pumps.pump_1 and pumps.pump_2 are required")
	} else if c.Pumps.Pump1 == c.Pumps.Pump2 {
		bad("pumps.pump_1 and pumps.pump_2 must differ")
	}

	pins := []namedPin{
		{"selector", c.Pins.Selector},
		{"start", c.Pins.Start},
		{"stop", c.Pins.Stop},
		{"potentiometer", c.Pins.Potentiometer},
		{"pump_1_start_led", c.Pins.Pump1StartLED},
		{"pump_2_start_led", c.Pins.Pump2StartLED},
		{"pump_1_fault_led", c.Pins.Pump1FaultLED},
		{"pump_2_fault_led", c.Pins.Pump2FaultLED},
	}
	missing := false
	for _, p := range pins {
		switch {
		case p.pin == nil:
			bad("pins.%s is required", p.name)
			missing = true
		case *p.pin < 0:
			bad("pins.%s must not be negative", p.name)
		}
	}
	if !missing {
		// Digital lines share one chip; analog outputs share one PWM chip.
		checkDistinct(bad, "digital pins", pins[0], pins[1], pins[2], pins[4], pins[5])
		checkDistinct(bad, "fault LED channels", pins[6], pins[7])
	}

	if c.Debounce < 0 {
		bad("debounce must not be negative")
	}
	if c.LoopPeriod <= 0 {
		bad("loop_period must be positive")
	}
	if c.HeartbeatPeriod <= 0 {
		bad("heartbeat_period must be positive")
	}
	if c.Filter.ProcessVariance <= 0 || c.Filter.MeasurementVariance <= 0 {
		bad("filter variances must be positive")
	}
	if c.DefaultSystemVoltage <= 0 {
		bad("default_system_voltage must be positive")
	}
	if c.MQTT.Broker == "" {
		bad("mqtt.broker is required")
	}
	if c.MQTT.TopicPrefix == "" {
		bad("mqtt.topic_prefix is required")
	}
	if c.MQTT.StatusHeartbeat < 0 {
		bad("mqtt.status_heartbeat must not be negative")
	}
	if c.GPIO.PWMPeriod <= 0 {
		bad("gpio.pwm_period must be positive")
	}
	return errors.Join(errs...)
}

type namedPin struct {
	name string
	pin  *int
}

func checkDistinct(bad func(string, ...any), what string, pins ...namedPin) {
	seen := make(map[int]string)
	for _, p := range pins {
		if other, ok := seen[*p.pin]; ok {
			bad("%s: %s and %s share channel %d", what, other, p.name, *p.pin)
			continue
		}
		seen[*p.pin] = p.name
	}
}

// ControlPins returns the validated pin numbers.
func (c Config) ControlPins() control.Pins {
	return control.Pins{
		Selector:      deref(c.Pins.Selector),
		Start:         deref(c.Pins.Start),
		Stop:          deref(c.Pins.Stop),
		Potentiometer: deref(c.Pins.Potentiometer),
		Pump1StartLED: deref(c.Pins.Pump1StartLED),
		Pump2StartLED: deref(c.Pins.Pump2StartLED),
		Pump1FaultLED: deref(c.Pins.Pump1FaultLED),
		Pump2FaultLED: deref(c.Pins.Pump2FaultLED),
	}
}

// Sources returns the tag sources.
func (c Config) Sources() control.Sources {
	return control.Sources{
		Pump1:    c.Pumps.Pump1,
		Pump2:    c.Pumps.Pump2,
		Solar:    c.SolarControllers,
		Flow:     c.FlowSensor,
		Pressure: c.PressureSensor,
		Tank:     c.TankLevel,
		Platform: c.PlatformSource,
	}
}

// LoopConfig returns the control loop parameters.
func (c Config) LoopConfig() control.LoopConfig {
	return control.LoopConfig{
		Sources:              c.Sources(),
		Pins:                 c.ControlPins(),
		ProcessVariance:      c.Filter.ProcessVariance,
		MeasurementVariance:  c.Filter.MeasurementVariance,
		DefaultSystemVoltage: c.DefaultSystemVoltage,
	}
}

// StartEdge returns the edge the start input counts.
func (c Config) StartEdge() gpio.Edge {
	if c.StartEdgeRising {
		return gpio.EdgeRising
	}
	return gpio.EdgeFalling
}

// Driver returns the hardware driver configuration.
func (c Config) Driver() gpio.Config {
	pins := c.ControlPins()
	return gpio.Config{
		Chip:           c.GPIO.Chip,
		IIODevice:      c.GPIO.IIODevice,
		PWMChip:        c.GPIO.PWMChip,
		PWMPeriod:      c.GPIO.PWMPeriod,
		DigitalOutputs: []int{pins.Pump1StartLED, pins.Pump2StartLED},
		AnalogOutputs:  []int{pins.Pump1FaultLED, pins.Pump2FaultLED},
	}
}

// Tags returns the MQTT tag store configuration.
func (c Config) Tags() tags.MQTTConfig {
	return tags.MQTTConfig{
		Broker:      c.MQTT.Broker,
		ClientID:    c.MQTT.ClientID,
		TopicPrefix: c.MQTT.TopicPrefix,
		SystemTopic: c.MQTT.SystemTopic,
		BufferSize:  c.MQTT.BufferSize,
	}
}

// Hub returns the broadcast hub options.
func (c Config) Hub() hub.Options {
	return hub.Options{HeartbeatPeriod: c.HeartbeatPeriod}
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
