// Package gpio provides the relay board's digital I/O with hardware abstraction.
// The real implementations use the Linux GPIO character device or periph.io.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"
	"sort"

	"github.com/sweeney/relay-switch/internal/logic"
)

// IO reads the two inputs and drives the two outputs of the board.
// Writes never fail the caller: implementations log write errors, since the
// state machine has no error path for a stuck output.
type IO interface {
	// Read returns the raw input levels (no inversion, no debounce).
	Read() (Sample, error)

	SetRelay(level logic.Level)
	SetLED(level logic.Level)

	// Close releases GPIO resources.
	Close() error
}

// Sample is a single raw reading of both inputs.
type Sample struct {
	Button logic.Level
	Switch logic.Level // HIGH when no switch is wired
}

// NoPin marks an absent pin role.
const NoPin = -1

// Pins maps each role to a BCM line offset.
type Pins struct {
	LED    int
	Relay  int
	Button int
	Switch int // NoPin when the board has no external switch input
}

// HasSwitch reports whether an external switch is wired.
func (p Pins) HasSwitch() bool { return p.Switch != NoPin }

// Board is a preset pin table.
type Board struct {
	Pins         Pins
	LEDActiveLow bool
}

// Boards holds the known presets.
var Boards = map[string]Board{
	"basic-r4": {Pins: Pins{LED: 13, Relay: 12, Button: 0, Switch: NoPin}},
	"mini-r4":  {Pins: Pins{LED: 19, Relay: 26, Button: 0, Switch: 27}, LEDActiveLow: true},
}

// BoardNames returns the preset names in sorted order.
func BoardNames() []string {
	names := make([]string, 0, len(Boards))
	for n := range Boards {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Backend names accepted by Open.
const (
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
)

// Open creates the IO for the named backend.
func Open(backend string, pins Pins) (IO, error) {
	switch backend {
	case BackendCdev:
		c, err := NewCdevIO(pins)
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendPeriph:
		p, err := NewPeriphIO(pins)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}
