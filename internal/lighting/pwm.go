package lighting

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const DefaultPWMRoot = "/sys/class/pwm"

// PWMDriver drives a Linux sysfs PWM channel. Brightness maps linearly onto
// the duty cycle.
type PWMDriver struct {
	root    string
	chip    int
	channel int
	period  time.Duration
}

func NewPWMDriver(root string, chip, channel int, period time.Duration) *PWMDriver {
	if root == "" {
		root = DefaultPWMRoot
	}
	if period <= 0 {
		period = time.Millisecond
	}
	return &PWMDriver{root: root, chip: chip, channel: channel, period: period}
}

func (p *PWMDriver) chipDir() string {
	return filepath.Join(p.root, "pwmchip"+strconv.Itoa(p.chip))
}

func (p *PWMDriver) channelDir() string {
	return filepath.Join(p.chipDir(), "pwm"+strconv.Itoa(p.channel))
}

func (p *PWMDriver) Start(context.Context) error {
	if _, err := os.Stat(p.channelDir()); errors.Is(err, fs.ErrNotExist) {
		if err := p.write(filepath.Join(p.chipDir(), "export"), p.channel); err != nil {
			return fmt.Errorf("export pwm channel: %w", err)
		}
	}
	if err := p.write(filepath.Join(p.channelDir(), "period"), p.period.Nanoseconds()); err != nil {
		return fmt.Errorf("set pwm period: %w", err)
	}
	if err := p.SetBrightness(0); err != nil {
		return err
	}
	if err := p.write(filepath.Join(p.channelDir(), "enable"), 1); err != nil {
		return fmt.Errorf("enable pwm: %w", err)
	}
	return nil
}

func (p *PWMDriver) SetBrightness(value uint8) error {
	duty := p.period.Nanoseconds() * int64(value) / MaxBrightness
	if err := p.write(filepath.Join(p.channelDir(), "duty_cycle"), duty); err != nil {
		return fmt.Errorf("set pwm duty cycle: %w", err)
	}
	return nil
}

func (p *PWMDriver) Stop() error {
	return errors.Join(
		p.SetBrightness(0),
		p.write(filepath.Join(p.channelDir(), "enable"), 0),
	)
}

func (p *PWMDriver) write(path string, v any) error {
	return os.WriteFile(path, []byte(fmt.Sprint(v)), 0o644)
}
