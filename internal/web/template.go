package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/relay-switch/internal/logic"
	"github.com/sweeney/relay-switch/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		switch {
		case days > 0:
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		case h > 0:
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		case m > 0:
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Relay Switch</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Relay Switch</h1>

<h2>State</h2>
<table>
<tr><th>Relay</th><td id="relay-state" class="{{.StateClass}}">{{.StateText}}</td></tr>
<tr><th>Bridge attached</th><td>{{yesno .BridgeAttached}}</td></tr>
<tr><th>Long press armed</th><td>{{yesno .Armed}}</td></tr>
</table>

<h2>Bridges</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topic</th><td>{{.Config.Topic}}</td></tr>
<tr><th>HomeKit</th><td class="{{if .HomeKitRunning}}connected{{else}}disconnected{{end}}">{{if not .Config.HomeKit}}disabled{{else if .HomeKitRunning}}running{{else}}stopped{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>ON</th><td>{{.Counts.On}}</td></tr>
<tr><th>OFF</th><td>{{.Counts.Off}}</td></tr>
<tr><th>Long press</th><td>{{.Counts.LongPress}}</td></tr>
<tr><th>Echo suppressed</th><td>{{.Counts.Suppressed}}</td></tr>
<tr><th>Inbox drops</th><td>{{.InboxDrops}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Boot ID</th><td>{{.BootID}}</td></tr>
<tr><th>Board</th><td>{{.Config.Board}} ({{.Config.GPIOBackend}})</td></tr>
<tr><th>Switch</th><td>{{if not .Config.HasSwitch}}none{{else if .Config.ToggleMode}}toggle{{else}}maintained{{end}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Long press</th><td>{{.Config.LongPressMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		StateText  string
		StateClass string
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		StateText:  "UNKNOWN",
		StateClass: "unknown",
	}
	switch snap.State {
	case logic.StateOn:
		data.StateText, data.StateClass = "ON", "on"
	case logic.StateOff:
		data.StateText, data.StateClass = "OFF", "off"
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
