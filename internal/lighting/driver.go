package lighting

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Driver sets brightness (0-255) on booth lighting hardware.
type Driver interface {
	Start(ctx context.Context) error
	SetBrightness(value uint8) error
	Stop() error
}

// Config selects a driver and mapper for one booth.
type Config struct {
	Enabled bool
	Driver  string

	PWMRoot    string
	PWMChip    int
	PWMChannel int
	PWMPeriod  time.Duration

	ControllerURL string
	BoothID       string

	Scale   float64
	Attack  time.Duration
	Release time.Duration
	Slice   time.Duration
}

func NewDriver(cfg Config) (Driver, error) {
	if !cfg.Enabled {
		return NullDriver{}, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "null":
		return NullDriver{}, nil
	case "pwm":
		return NewPWMDriver(cfg.PWMRoot, cfg.PWMChip, cfg.PWMChannel, cfg.PWMPeriod), nil
	case "websocket", "ws":
		if strings.TrimSpace(cfg.ControllerURL) == "" {
			return nil, fmt.Errorf("websocket lighting driver requires a controller url")
		}
		return NewWebSocketDriver(cfg.ControllerURL, cfg.BoothID), nil
	default:
		return nil, fmt.Errorf("unsupported lighting driver %q", cfg.Driver)
	}
}

func NewMapper(cfg Config) Mapper {
	if !cfg.Enabled {
		return Constant{}
	}
	s := NewSmoother(cfg.Attack, cfg.Release, cfg.Slice)
	if cfg.Scale > 0 {
		s.Scale = cfg.Scale
	}
	return s
}

// NullDriver is used when lighting is disabled or absent.
type NullDriver struct{}

func (NullDriver) Start(context.Context) error { return nil }
func (NullDriver) SetBrightness(uint8) error   { return nil }
func (NullDriver) Stop() error                 { return nil }

// Drive plays series on d at one value per slice and always leaves the light
// at zero when it returns.
func Drive(ctx context.Context, d Driver, series []uint8, slice time.Duration) error {
	defer func() { _ = d.SetBrightness(0) }()
	if len(series) == 0 {
		return nil
	}
	if slice <= 0 {
		slice = 10 * time.Millisecond
	}

	ticker := time.NewTicker(slice)
	defer ticker.Stop()
	for i, v := range series {
		if err := d.SetBrightness(v); err != nil {
			return fmt.Errorf("set brightness at %d: %w", i, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
