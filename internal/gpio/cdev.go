//go:build linux

package gpio

import (
	"fmt"
	"log"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/relay-switch/internal/logic"
)

// CdevIO drives the board through the Linux GPIO character device.
type CdevIO struct {
	chip   *gpiocdev.Chip
	led    *gpiocdev.Line
	relay  *gpiocdev.Line
	button *gpiocdev.Line
	sw     *gpiocdev.Line // nil when no switch is wired
}

// NewCdevIO requests the board's lines on gpiochip0.
func NewCdevIO(pins Pins) (*CdevIO, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	c := &CdevIO{chip: chip}

	// Outputs start LOW; the state machine drives them in Begin.
	if c.relay, err = chip.RequestLine(pins.Relay, gpiocdev.AsOutput(0)); err != nil {
		c.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pins.Relay, err)
	}
	if c.led, err = chip.RequestLine(pins.LED, gpiocdev.AsOutput(0)); err != nil {
		c.Close()
		return nil, fmt.Errorf("request LED pin %d: %w", pins.LED, err)
	}

	// Button and switch pull to ground when active.
	if c.button, err = chip.RequestLine(pins.Button, gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
		c.Close()
		return nil, fmt.Errorf("request button pin %d: %w", pins.Button, err)
	}
	if pins.HasSwitch() {
		if c.sw, err = chip.RequestLine(pins.Switch, gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
			c.Close()
			return nil, fmt.Errorf("request switch pin %d: %w", pins.Switch, err)
		}
	}

	return c, nil
}

// Read returns the raw levels of the button and switch.
func (c *CdevIO) Read() (Sample, error) {
	s := Sample{Switch: logic.High}

	v, err := c.button.Value()
	if err != nil {
		return Sample{}, fmt.Errorf("read button pin: %w", err)
	}
	s.Button = v != 0

	if c.sw != nil {
		v, err = c.sw.Value()
		if err != nil {
			return Sample{}, fmt.Errorf("read switch pin: %w", err)
		}
		s.Switch = v != 0
	}
	return s, nil
}

// SetRelay drives the relay line.
func (c *CdevIO) SetRelay(level logic.Level) {
	if err := c.relay.SetValue(levelValue(level)); err != nil {
		log.Printf("gpio: set relay %s: %v", level, err)
	}
}

// SetLED drives the LED line.
func (c *CdevIO) SetLED(level logic.Level) {
	if err := c.led.SetValue(levelValue(level)); err != nil {
		log.Printf("gpio: set LED %s: %v", level, err)
	}
}

func levelValue(level logic.Level) int {
	if level {
		return 1
	}
	return 0
}

// Close releases GPIO resources.
// Inputs are reconfigured to input with pull-down to match the Pi boot
// defaults, so nothing is held in an unexpected state across a reboot.
// Outputs are released as-is: dropping the relay here would switch the
// load off on every daemon restart.
func (c *CdevIO) Close() error {
	var errs []error

	for _, in := range []struct {
		name string
		line *gpiocdev.Line
	}{{"button", c.button}, {"switch", c.sw}} {
		if in.line == nil {
			continue
		}
		if err := in.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", in.name, err))
		}
		if err := in.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", in.name, err))
		}
	}
	for _, out := range []struct {
		name string
		line *gpiocdev.Line
	}{{"relay", c.relay}, {"LED", c.led}} {
		if out.line == nil {
			continue
		}
		if err := out.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", out.name, err))
		}
	}
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
