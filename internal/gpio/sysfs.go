package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Sysfs roots; overridden in tests.
var (
	iioRoot = "/sys/bus/iio/devices"
	pwmRoot = "/sys/class/pwm"
)

// iioChannel reads an IIO voltage channel: raw counts times scale (millivolts per count).
type iioChannel struct {
	dir     string
	channel int
}

func (c iioChannel) volts() (float64, error) {
	raw, err := readSysfsFloat(filepath.Join(c.dir, fmt.Sprintf("in_voltage%d_raw", c.channel)))
	if err != nil {
		return 0, err
	}
	scale, err := readSysfsFloat(filepath.Join(c.dir, fmt.Sprintf("in_voltage%d_scale", c.channel)))
	if errors.Is(err, os.ErrNotExist) {
		scale, err = readSysfsFloat(filepath.Join(c.dir, "in_voltage_scale"))
	}
	if errors.Is(err, os.ErrNotExist) {
		return raw, nil
	}
	if err != nil {
		return 0, err
	}
	return raw * scale / 1000, nil
}

// pwmChannel drives one sysfs PWM output as a 0-100 percent level.
type pwmChannel struct {
	dir    string // .../pwmchipN/pwmM
	period time.Duration
}

func openPWM(chipDir string, channel int, period time.Duration) (*pwmChannel, error) {
	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel))
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeSysfs(filepath.Join(chipDir, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("export pwm %d: %w", channel, err)
		}
	}
	p := &pwmChannel{dir: dir, period: period}
	if err := writeSysfs(filepath.Join(dir, "period"), strconv.FormatInt(period.Nanoseconds(), 10)); err != nil {
		return nil, fmt.Errorf("pwm %d period: %w", channel, err)
	}
	if err := p.setLevel(0); err != nil {
		return nil, err
	}
	if err := writeSysfs(filepath.Join(dir, "enable"), "1"); err != nil {
		return nil, fmt.Errorf("enable pwm %d: %w", channel, err)
	}
	return p, nil
}

func (p *pwmChannel) level() (float64, error) {
	duty, err := readSysfsFloat(filepath.Join(p.dir, "duty_cycle"))
	if err != nil {
		return 0, err
	}
	if p.period <= 0 {
		return 0, nil
	}
	return duty / float64(p.period.Nanoseconds()) * 100, nil
}

func (p *pwmChannel) setLevel(level float64) error {
	duty := int64(clampLevel(level) / 100 * float64(p.period.Nanoseconds()))
	if err := writeSysfs(filepath.Join(p.dir, "duty_cycle"), strconv.FormatInt(duty, 10)); err != nil {
		return fmt.Errorf("pwm duty: %w", err)
	}
	return nil
}

func (p *pwmChannel) disable() error {
	if err := p.setLevel(0); err != nil {
		return err
	}
	return writeSysfs(filepath.Join(p.dir, "enable"), "0")
}

func readSysfsFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

func writeSysfs(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
