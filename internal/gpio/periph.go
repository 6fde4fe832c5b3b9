package gpio

import (
	"fmt"
	"log"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/sweeney/relay-switch/internal/logic"
)

// PeriphIO drives the board through periph.io. It works on kernels without
// the character device and on boards periph knows by name.
type PeriphIO struct {
	led    pgpio.PinIO
	relay  pgpio.PinIO
	button pgpio.PinIO
	sw     pgpio.PinIO // nil when no switch is wired
}

// NewPeriphIO initialises the periph host drivers and claims the pins by
// their BCM names.
func NewPeriphIO(pins Pins) (*PeriphIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	p := &PeriphIO{}
	var err error
	if p.relay, err = periphPin(pins.Relay); err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	if p.led, err = periphPin(pins.LED); err != nil {
		return nil, fmt.Errorf("LED: %w", err)
	}
	if p.button, err = periphPin(pins.Button); err != nil {
		return nil, fmt.Errorf("button: %w", err)
	}
	if pins.HasSwitch() {
		if p.sw, err = periphPin(pins.Switch); err != nil {
			return nil, fmt.Errorf("switch: %w", err)
		}
	}

	if err := p.relay.Out(pgpio.Low); err != nil {
		return nil, fmt.Errorf("configure relay pin %d: %w", pins.Relay, err)
	}
	if err := p.led.Out(pgpio.Low); err != nil {
		return nil, fmt.Errorf("configure LED pin %d: %w", pins.LED, err)
	}
	if err := p.button.In(pgpio.PullUp, pgpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure button pin %d: %w", pins.Button, err)
	}
	if p.sw != nil {
		if err := p.sw.In(pgpio.PullUp, pgpio.NoEdge); err != nil {
			return nil, fmt.Errorf("configure switch pin %d: %w", pins.Switch, err)
		}
	}
	return p, nil
}

func periphPin(n int) (pgpio.PinIO, error) {
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if pin == nil {
		return nil, fmt.Errorf("no such pin GPIO%d", n)
	}
	return pin, nil
}

// Read returns the raw levels of the button and switch.
func (p *PeriphIO) Read() (Sample, error) {
	s := Sample{
		Button: logic.Level(p.button.Read()),
		Switch: logic.High,
	}
	if p.sw != nil {
		s.Switch = logic.Level(p.sw.Read())
	}
	return s, nil
}

// SetRelay drives the relay line.
func (p *PeriphIO) SetRelay(level logic.Level) {
	if err := p.relay.Out(pgpio.Level(level)); err != nil {
		log.Printf("gpio: set relay %s: %v", level, err)
	}
}

// SetLED drives the LED line.
func (p *PeriphIO) SetLED(level logic.Level) {
	if err := p.led.Out(pgpio.Level(level)); err != nil {
		log.Printf("gpio: set LED %s: %v", level, err)
	}
}

// Close returns the inputs to pull-down, matching the Pi boot defaults.
func (p *PeriphIO) Close() error {
	var errs []error
	if err := p.button.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure button pin: %w", err))
	}
	if p.sw != nil {
		if err := p.sw.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure switch pin: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
