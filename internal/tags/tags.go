// Package tags provides the tag store port: named, sourced values exchanged
// with the pump, solar, tank and platform applications.
package tags

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tag names read from upstream applications.
const (
	AppState       = "AppState"
	StateString    = "StateString"
	TargetRate     = "TargetRate"
	FlowRate       = "FlowRate"
	BatteryVoltage = "b_voltage"
	BatteryPercent = "b_percent"
	PanelVoltage   = "panel_voltage"
	RemainingAh    = "remaining_ah"
	LevelReading   = "level_reading"
	LevelPercent   = "level_filled_percentage"
	SensorValue    = "value"
	SystemVoltage  = "voltage"
)

// Tag names written to pump applications.
const (
	TargetRatePercentage = "TargetRatePercentage"
	StateWrite           = "StateWrite"
)

// Reader looks up the latest value of a tag. A missing tag is not an error.
type Reader interface {
	Get(tag, source string) (Value, bool)
}

// Writer sets a tag on a source application.
type Writer interface {
	Set(tag, source string, v any) error
}

// Store reads and writes tags.
type Store interface {
	Reader
	Writer
}

// Value is a tag value as received: a number, string or bool.
type Value struct {
	raw any
}

// NewValue wraps v. Integers are widened to float64 so every numeric tag
// compares the same regardless of how it was produced.
func NewValue(v any) Value {
	switch n := v.(type) {
	case int:
		return Value{raw: float64(n)}
	case int64:
		return Value{raw: float64(n)}
	case float32:
		return Value{raw: float64(n)}
	}
	return Value{raw: v}
}

// ParseValue decodes a tag payload. JSON scalars are decoded; anything else
// is kept as a plain string.
func ParseValue(payload []byte) Value {
	var v any
	if err := json.Unmarshal(payload, &v); err == nil {
		switch v.(type) {
		case float64, string, bool:
			return Value{raw: v}
		}
	}
	return Value{raw: strings.TrimSpace(string(payload))}
}

// Float returns the value as a number. Numeric strings parse; bools map to 0/1.
// NaN and infinities are not numbers here.
func (v Value) Float() (float64, bool) {
	switch x := v.raw.(type) {
	case float64:
		return x, finite(x)
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// String returns the value rendered as a string.
func (v Value) String() string {
	switch x := v.raw.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Raw returns the underlying value.
func (v Value) Raw() any {
	return v.raw
}

// GetFloat reads a numeric tag. The pointer is nil when the tag is missing or not numeric.
func GetFloat(r Reader, tag, source string) *float64 {
	if source == "" {
		return nil
	}
	v, ok := r.Get(tag, source)
	if !ok {
		return nil
	}
	f, ok := v.Float()
	if !ok {
		return nil
	}
	return &f
}

// GetString reads a tag as a string. The pointer is nil when the tag is missing.
func GetString(r Reader, tag, source string) *string {
	if source == "" {
		return nil
	}
	v, ok := r.Get(tag, source)
	if !ok {
		return nil
	}
	s := v.String()
	return &s
}

type key struct {
	tag, source string
}
