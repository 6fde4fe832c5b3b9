// Package homekit exposes the relay as a HomeKit switch accessory.
package homekit

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"

	"github.com/sweeney/relay-switch/internal/bridge"
	"github.com/sweeney/relay-switch/internal/logic"
)

// BridgeName identifies HomeKit as a request source and notification target.
const BridgeName = "homekit"

// Config describes the accessory and its pairing store.
type Config struct {
	Name         string
	Manufacturer string
	Model        string
	SerialNumber string
	Firmware     string

	Pin      string // 8-digit setup code
	StoreDir string // pairing and key store
	Addr     string // listen address, empty for any port
}

// Bridge is a HomeKit switch accessory. Remote writes are queued in the
// inbox; notifications update the On characteristic, which hap pushes to
// subscribed controllers.
type Bridge struct {
	cfg     Config
	acc     *accessory.Switch
	inbox   *bridge.Inbox
	running atomic.Bool
}

// New creates the accessory. The server is not started until ListenAndServe.
func New(cfg Config, inbox *bridge.Inbox) *Bridge {
	acc := accessory.NewSwitch(accessory.Info{
		Name:         cfg.Name,
		Manufacturer: cfg.Manufacturer,
		Model:        cfg.Model,
		SerialNumber: cfg.SerialNumber,
		Firmware:     cfg.Firmware,
	})

	b := &Bridge{cfg: cfg, acc: acc, inbox: inbox}
	acc.Switch.On.OnValueRemoteUpdate(b.handleRemote)
	return b
}

// handleRemote runs on a hap connection goroutine.
func (b *Bridge) handleRemote(on bool) {
	log.Printf("[hk] set requested=%s", logic.StateOf(on))
	if !b.inbox.Submit(bridge.Request{On: on, Source: BridgeName}) {
		log.Printf("[hk] inbox full, request dropped")
	}
}

// Name returns BridgeName.
func (b *Bridge) Name() string { return BridgeName }

// Attached reports whether the accessory server is running.
func (b *Bridge) Attached() bool { return b.running.Load() }

// Notify sets the On characteristic. This is a local update and does not
// trigger handleRemote.
func (b *Bridge) Notify(on bool, _ logic.Origin) error {
	b.acc.Switch.On.SetValue(on)
	return nil
}

// Value returns the characteristic's current value.
func (b *Bridge) Value() bool {
	return b.acc.Switch.On.Value()
}

// ListenAndServe runs the accessory server until ctx is done.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	fs := hap.NewFsStore(b.cfg.StoreDir)
	server, err := hap.NewServer(fs, b.acc.A)
	if err != nil {
		return fmt.Errorf("create hap server: %w", err)
	}
	server.Pin = b.cfg.Pin
	if b.cfg.Addr != "" {
		server.Addr = b.cfg.Addr
	}

	b.running.Store(true)
	defer b.running.Store(false)

	log.Printf("[hk] accessory %q serving, store=%s", b.cfg.Name, b.cfg.StoreDir)
	return server.ListenAndServe(ctx)
}

// ResetPairing deletes the pairing store, so the next start is unpaired.
func (b *Bridge) ResetPairing() error {
	if err := os.RemoveAll(b.cfg.StoreDir); err != nil {
		return fmt.Errorf("remove pairing store: %w", err)
	}
	return nil
}
