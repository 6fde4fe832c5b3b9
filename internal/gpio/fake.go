package gpio

import (
	"errors"

	"github.com/sweeney/relay-switch/internal/logic"
)

// FakeIO is a test double that returns scripted input samples and records
// every output write.
type FakeIO struct {
	// Samples contains scripted input samples to return.
	// Each call to Read() consumes the next sample.
	Samples []Sample

	// index tracks current position in Samples
	index int

	// Relay and LED hold the last level written.
	Relay logic.Level
	LED   logic.Level

	// RelayWrites and LEDWrites record every write in order.
	RelayWrites []logic.Level
	LEDWrites   []logic.Level

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeIO creates a FakeIO with the given samples.
func NewFakeIO(samples []Sample) *FakeIO {
	return &FakeIO{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeIO) Read() (Sample, error) {
	if f.ReadError != nil {
		return Sample{}, f.ReadError
	}

	if len(f.Samples) == 0 {
		return Sample{}, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// SetRelay records the relay level.
func (f *FakeIO) SetRelay(level logic.Level) {
	f.Relay = level
	f.RelayWrites = append(f.RelayWrites, level)
}

// SetLED records the LED level.
func (f *FakeIO) SetLED(level logic.Level) {
	f.LED = level
	f.LEDWrites = append(f.LEDWrites, level)
}

// Close marks the IO as closed.
func (f *FakeIO) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the IO to the beginning of samples and clears recorded writes.
func (f *FakeIO) Reset() {
	f.index = 0
	f.Closed = false
	f.RelayWrites = nil
	f.LEDWrites = nil
}
