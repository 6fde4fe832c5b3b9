package main

import (
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/relay-switch/internal/bridge"
	"github.com/sweeney/relay-switch/internal/gpio"
	"github.com/sweeney/relay-switch/internal/logic"
	"github.com/sweeney/relay-switch/internal/mqtt"
	"github.com/sweeney/relay-switch/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper renames them, the constants follow.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want connected", info.Status)
	}
	if info.Type != "" || info.IP != "" {
		t.Errorf("expected empty Type and IP, got %q and %q", info.Type, info.IP)
	}
}

func TestResolvePins(t *testing.T) {
	preset := gpio.Boards["mini-r4"].Pins

	tests := []struct {
		name  string
		flags gpio.Pins
		want  gpio.Pins
	}{
		{
			name:  "all from board",
			flags: gpio.Pins{LED: pinFromBoard, Relay: pinFromBoard, Button: pinFromBoard, Switch: pinFromBoard},
			want:  preset,
		},
		{
			name:  "relay overridden",
			flags: gpio.Pins{LED: pinFromBoard, Relay: 5, Button: pinFromBoard, Switch: pinFromBoard},
			want:  gpio.Pins{LED: 19, Relay: 5, Button: 0, Switch: 27},
		},
		{
			name:  "switch removed",
			flags: gpio.Pins{LED: pinFromBoard, Relay: pinFromBoard, Button: pinFromBoard, Switch: gpio.NoPin},
			want:  gpio.Pins{LED: 19, Relay: 26, Button: 0, Switch: gpio.NoPin},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolvePins(preset, tt.flags)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFormatSample(t *testing.T) {
	s := gpio.Sample{Button: logic.Low, Switch: logic.High}
	if got := formatSample(s, true); got != "button: LOW, switch: HIGH" {
		t.Errorf("with switch: got %q", got)
	}
	if got := formatSample(s, false); got != "button: LOW" {
		t.Errorf("without switch: got %q", got)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

// --- runLoop tests ---

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Only runLoop's goroutine calls it.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// fakeHomeKit stands in for the HomeKit bridge.
type fakeHomeKit struct {
	attached bool
	notified []bool
	resets   int
}

func (f *fakeHomeKit) Name() string   { return "homekit" }
func (f *fakeHomeKit) Attached() bool { return f.attached }

func (f *fakeHomeKit) Notify(on bool, _ logic.Origin) error {
	f.notified = append(f.notified, on)
	return nil
}

func (f *fakeHomeKit) ResetPairing() error {
	f.resets++
	return nil
}

var (
	released = gpio.Sample{Button: logic.High, Switch: logic.High}
	pressed  = gpio.Sample{Button: logic.Low, Switch: logic.High}
)

// repeat returns n copies of sample.
func repeat(sample gpio.Sample, n int) []gpio.Sample {
	out := make([]gpio.Sample, n)
	for i := range out {
		out[i] = sample
	}
	return out
}

func concat(parts ...[]gpio.Sample) []gpio.Sample {
	var out []gpio.Sample
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

type harness struct {
	loop *loop
	dev  *gpio.FakeIO
	pub  *mqtt.FakePublisher
	hk   *fakeHomeKit
}

// newHarness builds a loop over fakes with a 10ms clock. Both bridges start
// attached. samples[0] is consumed by Begin.
func newHarness(samples []gpio.Sample, cfg logic.Config) *harness {
	dev := gpio.NewFakeIO(samples)
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	hk := &fakeHomeKit{attached: true}

	l := &loop{
		io:        dev,
		machine:   logic.NewMachine(cfg, dev),
		inbox:     bridge.NewInbox(4),
		fanout:    bridge.NewFanout(mqtt.NewBridge(pub, pub, func() time.Time { return testStart }), hk),
		publisher: pub,
		mqttConn:  pub,
		homekit:   hk,
		tracker:   status.NewTracker(testStart, "test-boot", status.Config{}),
		now:       fakeClock(testStart, 10*time.Millisecond),
	}
	return &harness{loop: l, dev: dev, pub: pub, hk: hk}
}

// driver runs runLoop on its own goroutine and feeds it ticks.
type driver struct {
	tick  chan time.Time
	sig   chan os.Signal
	errCh chan error
	done  bool
	err   error
}

func start(l *loop) *driver {
	d := &driver{
		tick:  make(chan time.Time),
		sig:   make(chan os.Signal, 1),
		errCh: make(chan error, 1),
	}
	go func() {
		d.errCh <- runLoop(l, d.tick, d.sig)
	}()
	return d
}

// ticks delivers n ticks, stopping early if the loop returns.
func (d *driver) ticks(n int) {
	for i := 0; i < n && !d.done; i++ {
		select {
		case d.tick <- time.Time{}:
		case d.err = <-d.errCh:
			d.done = true
		}
	}
}

// stop signals the loop (if still running) and returns its error.
func (d *driver) stop(s os.Signal) error {
	if !d.done {
		d.sig <- s
		d.err = <-d.errCh
		d.done = true
	}
	return d.err
}

// noSwitch is the basic-r4 wiring: button only, no blink.
func noSwitch() logic.Config {
	return logic.DefaultConfig()
}

func TestRunLoopNoEventsAtBoot(t *testing.T) {
	h := newHarness(repeat(released, 6), noSwitch())

	d := start(h.loop)
	d.ticks(5)
	if err := d.stop(syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.StateEvents) != 0 {
		t.Errorf("expected no state events at boot, got %d", len(h.pub.StateEvents))
	}
	if len(h.hk.notified) != 0 {
		t.Errorf("expected no homekit notifications at boot, got %v", h.hk.notified)
	}
	if h.dev.Relay != logic.Low {
		t.Errorf("relay: got %s, want LOW (off)", h.dev.Relay)
	}

	if len(h.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(h.pub.SystemEvents))
	}
	ev := h.pub.SystemEvents[0]
	if ev.Event != "SHUTDOWN" || ev.Reason != "SIGTERM" || !ev.Retained {
		t.Errorf("unexpected shutdown event: %+v", ev)
	}
	if !strings.Contains(string(h.pub.SystemPayloads[0]), `"boot_id":"test-boot"`) {
		t.Errorf("shutdown payload should carry the boot id: %s", h.pub.SystemPayloads[0])
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	h := newHarness(repeat(released, 2), noSwitch())

	d := start(h.loop)
	d.ticks(1)
	if err := d.stop(syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if h.pub.SystemEvents[0].Reason != "SIGINT" {
		t.Errorf("reason: got %q, want SIGINT", h.pub.SystemEvents[0].Reason)
	}
}

func TestRunLoopInitialReadError(t *testing.T) {
	h := newHarness(repeat(released, 1), noSwitch())
	h.dev.ReadError = errors.New("line busy")

	d := start(h.loop)
	err := d.stop(syscall.SIGTERM)
	if err == nil || !strings.Contains(err.Error(), "line busy") {
		t.Fatalf("expected initial read error, got %v", err)
	}
}

func TestRunLoopButtonPressNotifiesBothBridges(t *testing.T) {
	// Fall debounced at tick 4, rise debounced at tick 9.
	samples := concat(repeat(released, 1), repeat(pressed, 5), repeat(released, 5))
	h := newHarness(samples, noSwitch())

	d := start(h.loop)
	d.ticks(10)
	if err := d.stop(syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.StateEvents) != 1 {
		t.Fatalf("expected 1 mqtt state event, got %d", len(h.pub.StateEvents))
	}
	got := h.pub.StateEvents[0]
	if got.State != logic.StateOn || got.Origin != logic.OriginButton {
		t.Errorf("unexpected state event: %+v", got)
	}
	if len(h.hk.notified) != 1 || !h.hk.notified[0] {
		t.Errorf("homekit notifications: got %v, want [true]", h.hk.notified)
	}
	if h.dev.Relay != logic.High {
		t.Errorf("relay: got %s, want HIGH (on)", h.dev.Relay)
	}

	snap := h.loop.tracker.Snapshot()
	if snap.State != logic.StateOn || snap.Counts.On != 1 {
		t.Errorf("tracker: state=%q counts=%+v", snap.State, snap.Counts)
	}
	if !snap.MQTTConnected || !snap.HomeKitRunning || !snap.BridgeAttached {
		t.Errorf("tracker bridges: mqtt=%v homekit=%v attached=%v",
			snap.MQTTConnected, snap.HomeKitRunning, snap.BridgeAttached)
	}
}

func TestRunLoopDetachedDoesNotNotify(t *testing.T) {
	samples := concat(repeat(released, 1), repeat(pressed, 5), repeat(released, 5))
	h := newHarness(samples, noSwitch())
	h.pub.Connected = false
	h.hk.attached = false

	d := start(h.loop)
	d.ticks(10)
	if err := d.stop(syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if h.dev.Relay != logic.High {
		t.Errorf("relay should still switch while detached, got %s", h.dev.Relay)
	}
	if len(h.pub.StateEvents) != 0 || len(h.hk.notified) != 0 {
		t.Errorf("expected no notifications while detached, got mqtt=%d homekit=%d",
			len(h.pub.StateEvents), len(h.hk.notified))
	}
}

func TestRunLoopRemoteRequestNotifiesOtherBridgeOnly(t *testing.T) {
	tests := []struct {
		source      string
		wantMQTT    int
		wantHomeKit int
	}{
		{source: "homekit", wantMQTT: 1, wantHomeKit: 0},
		{source: mqtt.BridgeName, wantMQTT: 0, wantHomeKit: 1},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			h := newHarness(repeat(released, 1), noSwitch())

			d := start(h.loop)
			d.ticks(1)
			h.loop.inbox.Submit(bridge.Request{On: true, Source: tt.source})
			d.ticks(1)
			if err := d.stop(syscall.SIGTERM); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}

			if h.dev.Relay != logic.High {
				t.Errorf("relay: got %s, want HIGH (on)", h.dev.Relay)
			}
			if len(h.pub.StateEvents) != tt.wantMQTT {
				t.Errorf("mqtt notifications: got %d, want %d", len(h.pub.StateEvents), tt.wantMQTT)
			}
			if len(h.hk.notified) != tt.wantHomeKit {
				t.Errorf("homekit notifications: got %d, want %d", len(h.hk.notified), tt.wantHomeKit)
			}
			if tt.wantMQTT == 1 && h.pub.StateEvents[0].Origin != logic.OriginRemote {
				t.Errorf("origin: got %q, want REMOTE", h.pub.StateEvents[0].Origin)
			}
		})
	}
}

func TestRunLoopEchoSuppressed(t *testing.T) {
	h := newHarness(repeat(released, 1), noSwitch())

	d := start(h.loop)
	d.ticks(1)
	// Machine boots OFF, so OFF is an echo.
	h.loop.inbox.Submit(bridge.Request{On: false, Source: mqtt.BridgeName})
	d.ticks(1)
	if err := d.stop(syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.StateEvents) != 0 || len(h.hk.notified) != 0 {
		t.Errorf("echo must not notify, got mqtt=%d homekit=%d", len(h.pub.StateEvents), len(h.hk.notified))
	}
	if got := h.loop.tracker.Snapshot().Counts.Suppressed; got != 1 {
		t.Errorf("suppressed count: got %d, want 1", got)
	}
}

func TestRunLoopLongPressFactoryReset(t *testing.T) {
	cfg := noSwitch()
	cfg.ArmDelayMs = 100
	cfg.LongPressMs = 200

	// Fall debounced at t=40ms, long press due at t=240ms.
	samples := concat(repeat(released, 1), repeat(pressed, 1))
	h := newHarness(samples, cfg)

	d := start(h.loop)
	d.ticks(50)
	err := d.stop(syscall.SIGTERM)
	if !errors.Is(err, errFactoryReset) {
		t.Fatalf("expected errFactoryReset, got %v", err)
	}

	if h.hk.resets != 1 {
		t.Errorf("pairing resets: got %d, want 1", h.hk.resets)
	}
	if len(h.pub.StateEvents) != 0 {
		t.Errorf("long press must not change state, got %d state events", len(h.pub.StateEvents))
	}
	if h.dev.Relay != logic.Low {
		t.Errorf("relay: got %s, want LOW (off)", h.dev.Relay)
	}

	if len(h.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(h.pub.SystemEvents))
	}
	ev := h.pub.SystemEvents[0]
	if ev.Event != "FACTORY_RESET" || ev.Reason != "LONG_PRESS" {
		t.Errorf("unexpected system event: %+v", ev)
	}
}

func TestRunLoopLongPressWithoutHomeKit(t *testing.T) {
	cfg := noSwitch()
	cfg.ArmDelayMs = 0
	cfg.LongPressMs = 100

	h := newHarness(concat(repeat(released, 1), repeat(pressed, 1)), cfg)
	h.loop.homekit = nil
	h.loop.fanout = bridge.NewFanout(mqtt.NewBridge(h.pub, h.pub, time.Now))

	d := start(h.loop)
	d.ticks(30)
	if err := d.stop(syscall.SIGTERM); !errors.Is(err, errFactoryReset) {
		t.Fatalf("expected errFactoryReset, got %v", err)
	}
	if h.hk.resets != 0 {
		t.Errorf("detached homekit fake must not be reset")
	}
}

// faultIO wraps a FakeIO and fails a fixed range of Read calls.
type faultIO struct {
	*gpio.FakeIO
	call       int
	faultStart int // inclusive
	faultEnd   int // exclusive
}

func (f *faultIO) Read() (gpio.Sample, error) {
	i := f.call
	f.call++
	if i >= f.faultStart && i < f.faultEnd {
		return gpio.Sample{}, errors.New("gpio fault")
	}
	return f.FakeIO.Read()
}

func TestRunLoopSurvivesReadErrors(t *testing.T) {
	samples := concat(repeat(released, 1), repeat(pressed, 5), repeat(released, 5))
	h := newHarness(samples, noSwitch())
	fio := &faultIO{FakeIO: h.dev, faultStart: 2, faultEnd: 5}
	h.loop.io = fio

	d := start(h.loop)
	d.ticks(20)
	if err := d.stop(syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	// The press still completes once reads recover.
	if len(h.pub.StateEvents) != 1 {
		t.Errorf("expected 1 state event after faults, got %d", len(h.pub.StateEvents))
	}
}

func TestRunLoopSurvivesPublishErrors(t *testing.T) {
	samples := concat(repeat(released, 1), repeat(pressed, 5), repeat(released, 5))
	h := newHarness(samples, noSwitch())
	h.pub.PublishError = errors.New("broker down")
	h.pub.PublishSystemError = errors.New("broker down")

	d := start(h.loop)
	d.ticks(10)
	if err := d.stop(syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if h.dev.Relay != logic.High {
		t.Errorf("relay: got %s, want HIGH (on)", h.dev.Relay)
	}
	if len(h.hk.notified) != 1 {
		t.Errorf("homekit should still be notified, got %v", h.hk.notified)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	h := newHarness(repeat(released, 1), noSwitch())
	h.loop.heartbeat = 50 * time.Millisecond

	d := start(h.loop)
	d.ticks(10)
	if err := d.stop(syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var beats int
	for i, ev := range h.pub.SystemEvents {
		if ev.Event != "HEARTBEAT" {
			continue
		}
		beats++
		if ev.Retained {
			t.Error("heartbeat should not be retained")
		}
		if !strings.Contains(string(h.pub.SystemPayloads[i]), `"event":"HEARTBEAT"`) {
			t.Errorf("heartbeat payload: %s", h.pub.SystemPayloads[i])
		}
	}
	if beats == 0 {
		t.Error("expected at least one heartbeat")
	}
}

func TestRunLoopMaintainedSwitch(t *testing.T) {
	cfg := logic.DefaultConfig()
	cfg.HasSwitch = true

	on := gpio.Sample{Button: logic.High, Switch: logic.Low}
	h := newHarness(concat(repeat(released, 1), repeat(on, 5)), cfg)

	d := start(h.loop)
	d.ticks(5)
	if err := d.stop(syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.StateEvents) != 1 || h.pub.StateEvents[0].Origin != logic.OriginSwitch {
		t.Fatalf("expected one SWITCH state event, got %+v", h.pub.StateEvents)
	}
	if h.dev.Relay != logic.High {
		t.Errorf("relay: got %s, want HIGH (on)", h.dev.Relay)
	}
}
