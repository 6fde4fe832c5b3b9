// Package bridge connects the state machine to its remote bridges.
//
// Bridges run on their own goroutines. Inbound set requests are queued in an
// Inbox and drained by the poll loop, which is the only caller of the state
// machine. Outbound notifications go through a Fanout.
package bridge

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sweeney/relay-switch/internal/logic"
)

// Request is a set-state write received by a remote bridge.
type Request struct {
	On     bool
	Source string // Name of the bridge that received it
}

// Inbox is a bounded single-consumer queue of remote requests.
// Submit never blocks: bridge callbacks must not stall on a busy poll loop.
type Inbox struct {
	ch    chan Request
	drops uint32
}

// NewInbox creates an inbox holding up to size pending requests.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 16
	}
	return &Inbox{ch: make(chan Request, size)}
}

// Submit queues r. It returns false, and counts a drop, if the inbox is full.
func (b *Inbox) Submit(r Request) bool {
	select {
	case b.ch <- r:
		return true
	default:
		atomic.AddUint32(&b.drops, 1)
		return false
	}
}

// Requests is the consumer side of the inbox.
func (b *Inbox) Requests() <-chan Request { return b.ch }

// Drops returns the number of requests rejected because the inbox was full.
func (b *Inbox) Drops() uint32 { return atomic.LoadUint32(&b.drops) }

// Notifier is the outbound side of a remote bridge.
type Notifier interface {
	// Name identifies the bridge; it matches Request.Source.
	Name() string

	// Attached reports whether the bridge currently has a live remote side.
	Attached() bool

	// Notify tells the remote side the new state. Delivery (queuing, retry)
	// is the bridge's concern and must not block for long.
	Notify(on bool, origin logic.Origin) error
}

// Fanout delivers notifications to several bridges.
type Fanout struct {
	notifiers []Notifier
}

// NewFanout creates a fanout over the given bridges. Nil entries are skipped.
func NewFanout(notifiers ...Notifier) *Fanout {
	f := &Fanout{}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	return f
}

// Attached reports whether any bridge is attached.
func (f *Fanout) Attached() bool {
	for _, n := range f.notifiers {
		if n.Attached() {
			return true
		}
	}
	return false
}

// Notify delivers to every bridge.
func (f *Fanout) Notify(on bool, origin logic.Origin) error {
	return f.NotifyExcept("", on, origin)
}

// NotifyExcept delivers to every bridge but the named one. It is used for
// remote-originated changes: the bridge that asked already knows, the others
// do not.
func (f *Fanout) NotifyExcept(name string, on bool, origin logic.Origin) error {
	var errs []error
	for _, n := range f.notifiers {
		if n.Name() == name {
			continue
		}
		if err := n.Notify(on, origin); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Names returns the bridge names in registration order.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.notifiers))
	for i, n := range f.notifiers {
		names[i] = n.Name()
	}
	return names
}
