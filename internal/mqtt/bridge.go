package mqtt

import (
	"time"

	"github.com/sweeney/relay-switch/internal/logic"
)

// BridgeName identifies MQTT as a request source and notification target.
const BridgeName = "mqtt"

// Bridge adapts a Publisher to the outbound bridge interface.
type Bridge struct {
	pub  Publisher
	conn ConnectionStatus
	now  func() time.Time
}

// NewBridge creates the MQTT bridge. conn may be nil, in which case the
// bridge never reports itself attached.
func NewBridge(pub Publisher, conn ConnectionStatus, now func() time.Time) *Bridge {
	return &Bridge{pub: pub, conn: conn, now: now}
}

// Name returns BridgeName.
func (b *Bridge) Name() string { return BridgeName }

// Attached reports whether the broker connection is up.
func (b *Bridge) Attached() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Notify publishes the new state.
func (b *Bridge) Notify(on bool, origin logic.Origin) error {
	return b.pub.PublishState(StateEvent{
		Timestamp: b.now(),
		State:     logic.StateOf(on),
		Origin:    origin,
	})
}
