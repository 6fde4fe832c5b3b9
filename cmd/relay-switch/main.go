// Command relay-switch drives a relay from a push button, an optional wall
// switch and two remote bridges (MQTT and HomeKit).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/relay-switch/internal/bridge"
	"github.com/sweeney/relay-switch/internal/gpio"
	"github.com/sweeney/relay-switch/internal/homekit"
	"github.com/sweeney/relay-switch/internal/logic"
	"github.com/sweeney/relay-switch/internal/mqtt"
	"github.com/sweeney/relay-switch/internal/status"
	"github.com/sweeney/relay-switch/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// pinFromBoard leaves a pin role as the board preset defines it.
const pinFromBoard = -2

// errFactoryReset ends the run loop after a long press. The process exits
// non-zero so the supervisor restarts it with a clean pairing store.
var errFactoryReset = errors.New("factory reset requested")

type options struct {
	poll, debounce, longPress, armDelay time.Duration
	toggleLockout, ledBlink, heartbeat  time.Duration

	toggleMode, invertRelay, ledActiveLow bool

	board   string
	backend string
	pins    gpio.Pins

	broker, topic, httpAddr string

	homekit      bool
	homekitPin   string
	homekitStore string
	name         string

	printState bool
}

func main() {
	var o options
	flag.DurationVar(&o.poll, "poll", 10*time.Millisecond, "GPIO polling interval")
	flag.DurationVar(&o.debounce, "debounce", logic.DefaultDebounceMs*time.Millisecond, "Input debounce interval")
	flag.DurationVar(&o.longPress, "long-press", logic.DefaultLongPressMs*time.Millisecond, "Button hold time for factory reset")
	flag.DurationVar(&o.armDelay, "arm-delay", logic.DefaultArmDelayMs*time.Millisecond, "Time after start before a long press is recognised")
	flag.DurationVar(&o.toggleLockout, "toggle-lockout", logic.DefaultToggleLockoutMs*time.Millisecond, "Minimum gap between switch toggles in toggle mode (0 to disable)")
	flag.DurationVar(&o.ledBlink, "led-blink", logic.DefaultLEDBlinkMs*time.Millisecond, "LED blink half-period while no bridge is attached (0 to disable)")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.BoolVar(&o.toggleMode, "toggle-mode", false, "Treat the external switch as momentary: every change toggles")
	flag.BoolVar(&o.invertRelay, "invert-relay", false, "Drive the relay line LOW for on")
	flag.BoolVar(&o.ledActiveLow, "led-active-low", false, "LED lights when its line is LOW (also set by some boards)")
	flag.StringVar(&o.board, "board", "basic-r4", "Board preset: "+strings.Join(gpio.BoardNames(), ", "))
	flag.StringVar(&o.backend, "gpio", gpio.BackendCdev, `GPIO backend ("cdev" or "periph")`)
	flag.IntVar(&o.pins.LED, "pin-led", pinFromBoard, "BCM pin for the status LED (default from -board)")
	flag.IntVar(&o.pins.Relay, "pin-relay", pinFromBoard, "BCM pin for the relay (default from -board)")
	flag.IntVar(&o.pins.Button, "pin-button", pinFromBoard, "BCM pin for the push button (default from -board)")
	flag.IntVar(&o.pins.Switch, "pin-switch", pinFromBoard, "BCM pin for the external switch, -1 for none (default from -board)")
	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.StringVar(&o.topic, "topic", mqtt.DefaultTopic, "MQTT base topic")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.BoolVar(&o.homekit, "homekit", true, "Serve the relay as a HomeKit switch")
	flag.StringVar(&o.homekitPin, "homekit-pin", "00102003", "HomeKit setup code (8 digits)")
	flag.StringVar(&o.homekitStore, "homekit-store", "/var/lib/relay-switch/homekit", "HomeKit pairing store directory")
	flag.StringVar(&o.name, "name", "Relay Switch", "Accessory name")
	flag.BoolVar(&o.printState, "print-state", false, "Print current input levels and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) error {
	board, ok := gpio.Boards[o.board]
	if !ok {
		return fmt.Errorf("unknown board %q (known: %s)", o.board, strings.Join(gpio.BoardNames(), ", "))
	}
	pins := resolvePins(board.Pins, o.pins)
	ledActiveLow := board.LEDActiveLow || o.ledActiveLow

	dev, err := gpio.Open(o.backend, pins)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer dev.Close()

	if o.printState {
		s, err := dev.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Println(formatSample(s, pins.HasSwitch()))
		return nil
	}

	bootID := uuid.NewString()
	inbox := bridge.NewInbox(0)

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:   o.broker,
		ClientID: "relay-switch-" + bootID[:8],
		Topic:    o.topic,
		OnSet: func(on bool) {
			log.Printf("mqtt: set requested=%s", logic.StateOf(on))
			if !inbox.Submit(bridge.Request{On: on, Source: mqtt.BridgeName}) {
				log.Printf("mqtt: inbox full, request dropped")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hk *homekit.Bridge
	if o.homekit {
		hk = homekit.New(homekit.Config{
			Name:         o.name,
			Manufacturer: "sweeney",
			Model:        o.board,
			SerialNumber: serialNumber(),
			Firmware:     version,
			Pin:          o.homekitPin,
			StoreDir:     o.homekitStore,
		}, inbox)
		go func() {
			if err := hk.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[hk] server error: %v", err)
			}
		}()
	}

	machine := logic.NewMachine(logic.Config{
		DebounceMs:      millis(o.debounce),
		LongPressMs:     millis(o.longPress),
		ArmDelayMs:      millis(o.armDelay),
		ToggleLockoutMs: millis(o.toggleLockout),
		LEDBlinkMs:      millis(o.ledBlink),
		HasSwitch:       pins.HasSwitch(),
		ToggleMode:      o.toggleMode,
		InvertRelay:     o.invertRelay,
		LEDActiveLow:    ledActiveLow,
	}, dev)

	tracker := status.NewTracker(time.Now(), bootID, status.Config{
		Board:        o.board,
		GPIOBackend:  o.backend,
		PollMs:       o.poll.Milliseconds(),
		DebounceMs:   o.debounce.Milliseconds(),
		LongPressMs:  o.longPress.Milliseconds(),
		HeartbeatMs:  o.heartbeat.Milliseconds(),
		HasSwitch:    pins.HasSwitch(),
		ToggleMode:   o.toggleMode,
		InvertRelay:  o.invertRelay,
		LEDActiveLow: ledActiveLow,
		Broker:       o.broker,
		Topic:        o.topic,
		HTTPAddr:     o.httpAddr,
		HomeKit:      o.homekit,
		HomeKitStore: o.homekitStore,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event boot_id=%s", bootID)
	}

	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	log.Printf("started: board=%s gpio=%s pins=%+v poll=%v debounce=%v broker=%s homekit=%v",
		o.board, o.backend, pins, o.poll, o.debounce, o.broker, o.homekit)

	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		io:        dev,
		machine:   machine,
		inbox:     inbox,
		publisher: publisher,
		mqttConn:  publisher,
		tracker:   tracker,
		heartbeat: o.heartbeat,
		now:       time.Now,
	}
	mqttBridge := mqtt.NewBridge(publisher, publisher, time.Now)
	if hk != nil {
		l.homekit = hk
		l.fanout = bridge.NewFanout(mqttBridge, hk)
	} else {
		l.fanout = bridge.NewFanout(mqttBridge)
	}

	return runLoop(l, ticker.C, sigCh)
}

// pairingBridge is a bridge whose pairing can be wiped on factory reset.
type pairingBridge interface {
	bridge.Notifier
	ResetPairing() error
}

// loop holds everything runLoop touches. Only runLoop's goroutine uses it.
type loop struct {
	io        gpio.IO
	machine   *logic.Machine
	inbox     *bridge.Inbox
	fanout    *bridge.Fanout
	publisher mqtt.Publisher
	mqttConn  mqtt.ConnectionStatus
	homekit   pairingBridge // nil when HomeKit is disabled
	tracker   *status.Tracker
	heartbeat time.Duration
	now       func() time.Time

	start time.Time
}

func runLoop(l *loop, tick <-chan time.Time, sig <-chan os.Signal) error {
	l.start = l.now()
	first, err := l.io.Read()
	if err != nil {
		return fmt.Errorf("initial gpio read: %w", err)
	}
	l.machine.Begin(0, first.Button, first.Switch)
	l.machine.SetBridgeAttached(l.fanout.Attached())
	log.Printf("begin: button=%s switch=%s state=%s", first.Button, first.Switch, logic.StateOf(l.machine.State()))

	hb := logic.NewHeartbeat(l.start)
	armed := false

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			l.publishSystem("SHUTDOWN", signalName(s), true)
			return nil

		case r := <-l.inbox.Requests():
			if l.applyRemote(r) {
				return errFactoryReset
			}

		case <-tick:
			// Requests queued since the last tick are applied before sampling.
			if l.drainInbox() {
				return errFactoryReset
			}

			t := l.now()
			sample, err := l.io.Read()
			if err != nil {
				log.Printf("gpio read error: %v", err)
				continue
			}

			l.machine.SetBridgeAttached(l.fanout.Attached())
			events := l.machine.Poll(logic.Input{
				Button: sample.Button,
				Switch: sample.Switch,
				Now:    logic.Millis(t.Sub(l.start).Milliseconds()),
			})
			if !armed && l.machine.LongPressArmed() {
				armed = true
				log.Printf("long press armed")
			}
			if l.handle(events, "") {
				return errFactoryReset
			}

			l.updateTracker()

			if hbData := hb.Check(t, l.heartbeat, l.machine.Counts()); hbData != nil {
				log.Printf("heartbeat: uptime=%v on=%d off=%d suppressed=%d",
					hbData.Uptime, hbData.Counts.On, hbData.Counts.Off, hbData.Counts.Suppressed)
				if net := readNetworkInfo(); net != nil {
					l.tracker.SetNetwork(net)
				}
				l.publishSystem("HEARTBEAT", "", false)
			}
		}
	}
}

func (l *loop) drainInbox() bool {
	for {
		select {
		case r := <-l.inbox.Requests():
			if l.applyRemote(r) {
				return true
			}
		default:
			return false
		}
	}
}

func (l *loop) applyRemote(r bridge.Request) bool {
	reset := l.handle(l.machine.ApplyFromRemote(r.On), r.Source)
	l.updateTracker()
	return reset
}

// handle acts on the machine's events. source names the bridge a remote
// request came from, so the change is not reflected back to it. It returns
// true when the loop must end for a factory reset.
func (l *loop) handle(events []logic.Event, source string) bool {
	for _, ev := range events {
		switch ev.Type {
		case logic.EventStateChanged:
			log.Printf("state: %s origin=%s notify=%v", logic.StateOf(ev.On), ev.Origin, ev.Notify)
			var err error
			switch {
			case ev.Notify:
				err = l.fanout.Notify(ev.On, ev.Origin)
			case ev.Origin == logic.OriginRemote:
				err = l.fanout.NotifyExcept(source, ev.On, ev.Origin)
			}
			if err != nil {
				log.Printf("notify error: %v", err)
			}

		case logic.EventEchoSuppressed:
			log.Printf("echo suppressed: %s from %s", logic.StateOf(ev.On), source)

		case logic.EventLongPress:
			log.Printf("long press: factory reset")
			l.factoryReset()
			return true
		}
	}
	return false
}

func (l *loop) factoryReset() {
	l.updateTracker()
	l.publishSystem("FACTORY_RESET", "LONG_PRESS", true)
	if l.homekit == nil {
		return
	}
	if err := l.homekit.ResetPairing(); err != nil {
		log.Printf("[hk] reset pairing: %v", err)
	} else {
		log.Printf("[hk] pairing store cleared")
	}
}

func (l *loop) updateTracker() {
	if l.tracker == nil {
		return
	}
	l.tracker.Update(logic.StateOf(l.machine.State()), l.machine.LongPressArmed(),
		l.machine.BridgeAttached(), l.machine.Counts(), l.inbox.Drops())
	l.tracker.SetBridges(l.mqttConn != nil && l.mqttConn.IsConnected(),
		l.homekit != nil && l.homekit.Attached())
}

func (l *loop) publishSystem(event, reason string, retained bool) {
	ev := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     event,
		Reason:    reason,
		Retained:  retained,
	}
	if l.tracker != nil {
		l.updateTracker()
		ev.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), event, reason)
	}
	if err := l.publisher.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", strings.ToLower(event), err)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// resolvePins overlays the pins given on the command line on the preset.
func resolvePins(preset, flags gpio.Pins) gpio.Pins {
	pick := func(preset, flag int) int {
		if flag == pinFromBoard {
			return preset
		}
		return flag
	}
	return gpio.Pins{
		LED:    pick(preset.LED, flags.LED),
		Relay:  pick(preset.Relay, flags.Relay),
		Button: pick(preset.Button, flags.Button),
		Switch: pick(preset.Switch, flags.Switch),
	}
}

func millis(d time.Duration) uint32 {
	return uint32(d.Milliseconds())
}

func formatSample(s gpio.Sample, hasSwitch bool) string {
	if !hasSwitch {
		return fmt.Sprintf("button: %s", s.Button)
	}
	return fmt.Sprintf("button: %s, switch: %s", s.Button, s.Switch)
}

func serialNumber() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "relay-switch"
	}
	return host
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
