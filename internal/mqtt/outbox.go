package mqtt

import "log"

// pendingMsg is a serialized message waiting for the broker connection.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while disconnected, oldest first.
//
// A retained message replaces any queued retained message on the same topic:
// the broker only keeps the last one, so a relay that flips ten times while
// offline replays one state, not ten. When full, the oldest message is dropped.
//
// Not safe for concurrent use; RealPublisher guards it with its mutex.
type outbox struct {
	capacity int
	msgs     []pendingMsg
	dropped  int
	warned   bool // a drop has been logged since the last flush
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{capacity: capacity}
}

func (o *outbox) add(m pendingMsg) {
	if m.retained {
		for i, q := range o.msgs {
			if q.retained && q.topic == m.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}

	if len(o.msgs) == o.capacity {
		if !o.warned {
			log.Printf("mqtt: outbox full (%d messages), dropping oldest", o.capacity)
			o.warned = true
		}
		o.msgs = o.msgs[1:]
		o.dropped++
	}
	o.msgs = append(o.msgs, m)
}

// flush returns the queued messages in order and empties the outbox.
func (o *outbox) flush() []pendingMsg {
	msgs := o.msgs
	o.msgs = nil
	o.warned = false
	return msgs
}

func (o *outbox) len() int { return len(o.msgs) }

// drops counts messages discarded for lack of room since creation.
func (o *outbox) drops() int { return o.dropped }
