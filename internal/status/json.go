package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event          string       `json:"event,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	State          string       `json:"state"`
	LongPressArmed bool         `json:"long_press_armed"`
	BridgeAttached bool         `json:"bridge_attached"`
	BootID         string       `json:"boot_id"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	StartTime      string       `json:"start_time"`
	Timestamp      string       `json:"timestamp"`
	MQTT           MQTTStatus   `json:"mqtt"`
	HomeKit        HomeKitJSON  `json:"homekit"`
	Counts         CountsJSON   `json:"event_counts"`
	InboxDrops     uint32       `json:"inbox_drops"`
	Network        *NetworkJSON `json:"network,omitempty"`
	Config         ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Topic     string `json:"topic"`
}

// HomeKitJSON reports the HomeKit accessory server state.
type HomeKitJSON struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	On         int `json:"on"`
	Off        int `json:"off"`
	LongPress  int `json:"long_press"`
	Suppressed int `json:"echo_suppressed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Board        string `json:"board"`
	GPIOBackend  string `json:"gpio_backend"`
	PollMs       int64  `json:"poll_ms"`
	DebounceMs   int64  `json:"debounce_ms"`
	LongPressMs  int64  `json:"long_press_ms"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	HasSwitch    bool   `json:"has_switch"`
	ToggleMode   bool   `json:"toggle_mode"`
	InvertRelay  bool   `json:"invert_relay"`
	LEDActiveLow bool   `json:"led_active_low"`
	HTTPAddr     string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	return StatusInner{
		State:          state,
		LongPressArmed: snap.Armed,
		BridgeAttached: snap.BridgeAttached,
		BootID:         snap.BootID,
		UptimeSeconds:  int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:      snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:      snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Topic:     snap.Config.Topic,
		},
		HomeKit: HomeKitJSON{Enabled: snap.Config.HomeKit, Running: snap.HomeKitRunning},
		Counts: CountsJSON{
			On:         snap.Counts.On,
			Off:        snap.Counts.Off,
			LongPress:  snap.Counts.LongPress,
			Suppressed: snap.Counts.Suppressed,
		},
		InboxDrops: snap.InboxDrops,
		Config: ConfigJSON{
			Board:        snap.Config.Board,
			GPIOBackend:  snap.Config.GPIOBackend,
			PollMs:       snap.Config.PollMs,
			DebounceMs:   snap.Config.DebounceMs,
			LongPressMs:  snap.Config.LongPressMs,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			HasSwitch:    snap.Config.HasSwitch,
			ToggleMode:   snap.Config.ToggleMode,
			InvertRelay:  snap.Config.InvertRelay,
			LEDActiveLow: snap.Config.LEDActiveLow,
			HTTPAddr:     snap.Config.HTTPAddr,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
