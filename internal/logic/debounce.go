package logic

// Debouncer turns a noisy raw input into stable levels and one-shot edges.
// An edge is reported for exactly one Update: the one in which the raw
// level has been stable for at least the interval.
type Debouncer struct {
	interval   uint32
	stable     Level // reported (debounced) level
	raw        Level // last raw level seen
	rawSince   Millis
	fell, rose bool
}

// NewDebouncer creates a debouncer seeded with the pin's current level.
func NewDebouncer(intervalMs uint32, initial Level, now Millis) *Debouncer {
	return &Debouncer{
		interval: intervalMs,
		stable:   initial,
		raw:      initial,
		rawSince: now,
	}
}

// Update feeds a raw sample taken at now.
func (d *Debouncer) Update(raw Level, now Millis) {
	d.fell, d.rose = false, false

	if raw != d.raw {
		d.raw = raw
		d.rawSince = now
	}

	if d.raw == d.stable || now.Since(d.rawSince) < d.interval {
		return
	}

	d.stable = d.raw
	if d.stable == Low {
		d.fell = true
	} else {
		d.rose = true
	}
}

// Read returns the debounced level.
func (d *Debouncer) Read() Level { return d.stable }

// Fell reports a HIGH->LOW transition in the last Update.
func (d *Debouncer) Fell() bool { return d.fell }

// Rose reports a LOW->HIGH transition in the last Update.
func (d *Debouncer) Rose() bool { return d.rose }

// Changed reports either transition in the last Update.
func (d *Debouncer) Changed() bool { return d.fell || d.rose }
