// Package status provides a thread-safe status tracker for the relay-switch daemon.
// The poll loop writes it; HTTP handlers and MQTT system events read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/relay-switch/internal/logic"
)

// NetworkInfo contains network state as written by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Board        string
	PollMs       int64
	DebounceMs   int64
	LongPressMs  int64
	HeartbeatMs  int64
	HasSwitch    bool
	ToggleMode   bool
	InvertRelay  bool
	LEDActiveLow bool
	Broker       string
	Topic        string
	HTTPAddr     string
	HomeKit      bool
	HomeKitStore string
	GPIOBackend  string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State          logic.State
	Armed          bool // long-press armed
	BridgeAttached bool
	Counts         logic.EventCounts
	InboxDrops     uint32
	BootID         string
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	HomeKitRunning bool
	Network        *NetworkInfo
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time, boot ID and config.
func NewTracker(startTime time.Time, bootID string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			BootID:    bootID,
			Config:    cfg,
		},
	}
}

// Update sets the machine-derived fields.
// Called from runLoop on every tick.
func (t *Tracker) Update(state logic.State, armed, attached bool, counts logic.EventCounts, drops uint32) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Armed = armed
	t.snap.BridgeAttached = attached
	t.snap.Counts = counts
	t.snap.InboxDrops = drops
	t.mu.Unlock()
}

// SetBridges sets the connection status of both bridges.
func (t *Tracker) SetBridges(mqttConnected, homekitRunning bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = mqttConnected
	t.snap.HomeKitRunning = homekitRunning
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
