// Package logic contains the pure device logic for the relay switch.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable as a wrapping millisecond counter.
package logic

// Millis is a monotonic millisecond counter. It wraps after ~49.7 days, so
// durations must always be computed as now-then, never by comparing stamps.
type Millis uint32

// Since returns the elapsed milliseconds from then to now, tolerating wraparound.
func (now Millis) Since(then Millis) uint32 {
	return uint32(now - then)
}

// Level is a raw digital pin level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// State is the printable form of the logical on/off state.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// StateOf converts a logical boolean into a State.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// Origin identifies who requested a state change.
type Origin string

const (
	OriginButton Origin = "BUTTON"
	OriginSwitch Origin = "SWITCH"
	OriginRemote Origin = "REMOTE"
)

// EventType represents something the machine wants its surroundings to act on.
type EventType string

const (
	EventStateChanged   EventType = "STATE_CHANGED"
	EventLongPress      EventType = "LONG_PRESS"
	EventEchoSuppressed EventType = "ECHO_SUPPRESSED"
)

// Event is emitted by the machine instead of invoking callbacks.
type Event struct {
	Type   EventType
	On     bool
	Origin Origin
	// Notify is set on StateChanged when the remote side must be told.
	Notify bool
}

// Outputs drives the two physical output lines.
type Outputs interface {
	SetRelay(level Level)
	SetLED(level Level)
}

// Input is a single poll sample of the raw input levels.
type Input struct {
	Button Level
	Switch Level // ignored when the machine has no switch
	Now    Millis
}

// EventCounts tracks what the machine has done since Begin.
type EventCounts struct {
	On         int
	Off        int
	LongPress  int
	Suppressed int
}

// Default timings.
const (
	DefaultDebounceMs      = 30
	DefaultLongPressMs     = 5000
	DefaultArmDelayMs      = 3000
	DefaultToggleLockoutMs = 200
	DefaultLEDBlinkMs      = 500
)

// Config holds the machine's wiring and timing. It is fixed after NewMachine.
type Config struct {
	DebounceMs      uint32
	LongPressMs     uint32
	ArmDelayMs      uint32 // long-press is ignored until this long after Begin
	ToggleLockoutMs uint32 // toggle mode only; 0 disables
	LEDBlinkMs      uint32 // half-period of the detached blink; 0 disables

	HasSwitch    bool
	ToggleMode   bool // external switch is momentary/hotel wiring
	InvertRelay  bool
	LEDActiveLow bool
}

// DefaultConfig returns the stock timings with no external switch.
func DefaultConfig() Config {
	return Config{
		DebounceMs:      DefaultDebounceMs,
		LongPressMs:     DefaultLongPressMs,
		ArmDelayMs:      DefaultArmDelayMs,
		ToggleLockoutMs: DefaultToggleLockoutMs,
	}
}
