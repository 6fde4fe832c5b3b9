package logic

// Machine owns the logical on/off state of the relay and reconciles the
// three request origins: the on-device button, the optional external
// switch and the remote bridges.
//
// Machine is not safe for concurrent use. Every call must come from the
// goroutine that calls Poll; remote requests are queued and replayed there.
type Machine struct {
	cfg Config
	out Outputs

	button *Debouncer
	sw     *Debouncer

	on       bool
	attached bool
	now      Millis

	bootAt Millis
	armed  bool

	pressing   bool
	pressStart Millis

	toggled    bool
	lastToggle Millis

	blinkAt  Millis
	blinkLit bool

	counts EventCounts
}

// NewMachine creates a machine that drives out. Call Begin before Poll.
func NewMachine(cfg Config, out Outputs) *Machine {
	return &Machine{cfg: cfg, out: out}
}

// Begin initialises timers and outputs. The state starts OFF and no event
// is emitted: boot must not announce an assumed state to the remote side.
func (m *Machine) Begin(now Millis, button, sw Level) {
	m.now = now
	m.bootAt = now
	m.armed = false
	m.pressing = false
	m.toggled = false
	m.blinkAt = now
	m.blinkLit = false

	m.button = NewDebouncer(m.cfg.DebounceMs, button, now)
	if m.cfg.HasSwitch {
		m.sw = NewDebouncer(m.cfg.DebounceMs, sw, now)
	}

	m.on = false
	m.out.SetRelay(relayLevel(false, m.cfg.InvertRelay))
	m.out.SetLED(ledLevel(false, m.cfg.LEDActiveLow))
}

// Poll advances the input samplers and reconciles switch and button.
// The switch is always evaluated before the button, so when both request a
// change in the same cycle the button acts on the state the switch left.
func (m *Machine) Poll(in Input) []Event {
	m.now = in.Now

	m.button.Update(in.Button, in.Now)
	if m.cfg.HasSwitch {
		m.sw.Update(in.Switch, in.Now)
	}

	if !m.armed && in.Now.Since(m.bootAt) >= m.cfg.ArmDelayMs {
		m.armed = true
	}

	var events []Event
	events = m.reconcileSwitch(events)
	events = m.reconcileButton(events)
	m.blink()
	return events
}

func (m *Machine) reconcileSwitch(events []Event) []Event {
	if !m.cfg.HasSwitch || !m.sw.Changed() {
		return events
	}

	if m.cfg.ToggleMode {
		// Impulse wiring: any change means flip, unless it is the trailing
		// edge of a pulse that has just been acted on.
		if m.toggled && m.cfg.ToggleLockoutMs > 0 && m.now.Since(m.lastToggle) < m.cfg.ToggleLockoutMs {
			return events
		}
		m.toggled = true
		m.lastToggle = m.now
		return append(events, m.setState(!m.on, true, OriginSwitch))
	}

	// Maintained wiring: switch active (LOW) means on. Last writer wins.
	requested := m.sw.Read() == Low
	if requested != m.on {
		events = append(events, m.setState(requested, true, OriginSwitch))
	}
	return events
}

func (m *Machine) reconcileButton(events []Event) []Event {
	if m.button.Fell() {
		m.pressing = true
		m.pressStart = m.now
	}

	if m.pressing && m.armed && m.button.Read() == Low &&
		m.now.Since(m.pressStart) >= m.cfg.LongPressMs {
		m.pressing = false
		m.counts.LongPress++
		events = append(events, Event{Type: EventLongPress, On: m.on, Origin: OriginButton})
	}

	if m.button.Rose() && m.pressing {
		m.pressing = false
		events = append(events, m.setState(!m.on, true, OriginButton))
	}
	return events
}

// ApplyFromRemote applies a set request from a remote bridge. A request equal
// to the current state is an echo of our own notification and is dropped.
// Remote-originated changes never notify, the remote side already knows.
func (m *Machine) ApplyFromRemote(on bool) []Event {
	if on == m.on {
		m.counts.Suppressed++
		return []Event{{Type: EventEchoSuppressed, On: on, Origin: OriginRemote}}
	}
	return []Event{m.setState(on, false, OriginRemote)}
}

// ApplyFromHardware applies a locally originated change and always notifies.
func (m *Machine) ApplyFromHardware(on bool, origin Origin) []Event {
	return []Event{m.setState(on, true, origin)}
}

func (m *Machine) setState(on, notifyRemote bool, origin Origin) Event {
	m.on = on
	m.out.SetRelay(relayLevel(on, m.cfg.InvertRelay))
	if !m.blinking() {
		m.out.SetLED(ledLevel(on, m.cfg.LEDActiveLow))
	}

	if on {
		m.counts.On++
	} else {
		m.counts.Off++
	}

	return Event{
		Type:   EventStateChanged,
		On:     on,
		Origin: origin,
		Notify: notifyRemote && m.attached,
	}
}

// SetBridgeAttached records whether a remote bridge is listening. Attaching
// ends any detached blink and restores the LED to the logical state.
func (m *Machine) SetBridgeAttached(attached bool) {
	if attached == m.attached {
		return
	}
	m.attached = attached
	if attached {
		m.out.SetLED(ledLevel(m.on, m.cfg.LEDActiveLow))
		return
	}
	m.blinkAt = m.now
	m.blinkLit = m.on
}

func (m *Machine) blinking() bool {
	return m.cfg.LEDBlinkMs > 0 && !m.attached
}

func (m *Machine) blink() {
	if !m.blinking() || m.now.Since(m.blinkAt) < m.cfg.LEDBlinkMs {
		return
	}
	m.blinkAt = m.now
	m.blinkLit = !m.blinkLit
	m.out.SetLED(ledLevel(m.blinkLit, m.cfg.LEDActiveLow))
}

// A drive line is pulled LOW when its "physical on" is true. Both lines invert
// the logical value first, so a stock relay is driven HIGH when on and an
// active-low LED is driven LOW when on.
func relayLevel(on, invert bool) Level {
	physicalOn := on
	if !invert {
		physicalOn = !on
	}
	if physicalOn {
		return Low
	}
	return High
}

func ledLevel(on, activeLow bool) Level {
	ledOn := on
	if !activeLow {
		ledOn = !on
	}
	if ledOn {
		return Low
	}
	return High
}

// State returns the logical state.
func (m *Machine) State() bool { return m.on }

// BridgeAttached reports whether notifications are currently being emitted.
func (m *Machine) BridgeAttached() bool { return m.attached }

// LongPressArmed reports whether the boot grace period has passed.
func (m *Machine) LongPressArmed() bool { return m.armed }

// Counts returns a copy of the event counters.
func (m *Machine) Counts() EventCounts { return m.counts }

// HasSwitch reports whether an external switch is wired.
func (m *Machine) HasSwitch() bool { return m.cfg.HasSwitch }
