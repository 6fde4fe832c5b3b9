//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/relay-switch/internal/logic"
)

// CdevIO is not available on non-Linux platforms.
type CdevIO struct{}

// NewCdevIO returns an error on non-Linux platforms.
func NewCdevIO(pins Pins) (*CdevIO, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (c *CdevIO) Read() (Sample, error) {
	return Sample{}, errors.New("gpio: not supported")
}

func (c *CdevIO) SetRelay(level logic.Level) {}
func (c *CdevIO) SetLED(level logic.Level)   {}

// Close is not implemented on non-Linux platforms.
func (c *CdevIO) Close() error {
	return nil
}
