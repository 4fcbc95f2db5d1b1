// Package hciadapter implements internal/ble.Adapter over a raw HCI socket
// via github.com/go-ble/ble, for hosts with no system D-Bus/BlueZ stack.
// Grounded on the teacher's pkg/ble/scanner.go (ble.SetDefaultDevice +
// ble.Scan + ble.Stop) and internal/device/go-ble/advertisement.go (the
// field accessors available on a ble.Advertisement).
package hciadapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/srg/espgw/internal/ble"
)

// hciLogLevelEnv is the environment variable the raw-HCI adapter honors for
// its own logging verbosity, independent of the gateway's --log-level flag,
// per spec.md §6 "Environment" and SPEC_FULL.md §1.1.
const hciLogLevelEnv = "ESPGW_HCI_LOG_LEVEL"

// hciLogLevel resolves hciLogLevelEnv (Debug|Info|Warning|Error,
// case-insensitive) to a logrus.Level, defaulting to Info when unset or
// unparsable.
func hciLogLevel() logrus.Level {
	raw := os.Getenv(hciLogLevelEnv)
	if raw == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// EagerFlushThreshold is exposed so internal/ble.NewObserver callers know to
// pass eagerFlush=true for this adapter, per spec.md §4.4's "100ms HCI
// batching thread... flush eagerly once 16 entries accumulate" note.
const EagerFlushThreshold = ble.BatchCapacity

// TickInterval is the HCI adapter's periodic batcher period, per spec.md
// §4.4.
const TickInterval = 100 * time.Millisecond

// ringCapacity bounds how many advertisements can be buffered between the
// go-ble callback goroutine and the Next() consumer before the oldest is
// overwritten.
const ringCapacity = 256

// deviceFactory creates ble.Device instances; overridable in tests.
var deviceFactory = func() (blelib.Device, error) {
	return linux.NewDevice()
}

// Adapter scans via a raw HCI device, per spec.md §9's "raw-HCI adapter"
// design note.
type Adapter struct {
	log *logrus.Logger

	mu      sync.Mutex
	dev     blelib.Device
	ring    *ble.RingChannel
	cancel  context.CancelFunc
	scanErr chan error
}

// NewAdapter returns an HCI-backed adapter. The device is opened lazily on
// Start so construction never touches hardware. The adapter's own logging
// verbosity is independent of the caller's logger level: it honors
// ESPGW_HCI_LOG_LEVEL (default Info) so a noisy HCI driver can be quieted (or
// a quiet gateway verbosely debugged) without touching --log-level.
func NewAdapter(log *logrus.Logger) *Adapter {
	if log == nil {
		log = logrus.New()
	}
	scoped := &logrus.Logger{
		Out:          log.Out,
		Hooks:        log.Hooks,
		Formatter:    log.Formatter,
		ReportCaller: log.ReportCaller,
		Level:        hciLogLevel(),
		ExitFunc:     log.ExitFunc,
	}
	return &Adapter{log: scoped}
}

// Name identifies the adapter for logging.
func (a *Adapter) Name() string { return "hci" }

// Start opens the HCI device and begins scanning in the background.
// Starting an already-started adapter is a no-op.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return nil
	}

	dev, err := deviceFactory()
	if err != nil {
		return fmt.Errorf("%w: %v", ble.ErrScannerUnavailable, err)
	}
	blelib.SetDefaultDevice(dev)

	a.dev = dev
	a.ring = ble.NewRingChannel(ringCapacity)
	a.scanErr = make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		err := blelib.Scan(ctx, true, a.handleAdvertisement, nil)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.WithError(err).Warn("hciadapter: scan exited")
		}
		a.scanErr <- err
	}()

	return nil
}

// Stop ends scanning and releases the HCI device. Stopping an adapter that
// was never started is a no-op.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil
	}

	a.cancel()
	_ = blelib.Stop()
	<-a.scanErr
	a.ring.Close()

	a.dev = nil
	a.ring = nil
	a.cancel = nil
	return nil
}

// Next blocks for up to timeout waiting for the next advertisement.
func (a *Adapter) Next(timeout time.Duration) (ble.Record, bool) {
	a.mu.Lock()
	ring := a.ring
	a.mu.Unlock()
	if ring == nil {
		time.Sleep(timeout)
		return ble.Record{}, false
	}
	return ring.Receive(timeout)
}

// handleAdvertisement converts a go-ble advertisement into a Record and
// synthesizes its raw advertising-data bytes, since go-ble parses AD
// structures instead of exposing the original packet.
func (a *Adapter) handleAdvertisement(adv blelib.Advertisement) {
	var mac [6]byte
	if b := parseAddr(adv.Addr().String()); b != nil {
		mac = *b
	}

	rec := ble.Record{
		MAC:         mac,
		AddressType: ble.AddressPublic, // go-ble's Advertisement does not expose the public/random bit.
		RSSI:        int32(adv.RSSI()),
		Data:        synthesizeAD(adv),
	}
	a.ring.Send(rec)
}

// parseAddr parses a colon-separated hex MAC string into 6 bytes, in the
// order go-ble reports it.
func parseAddr(s string) *[6]byte {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return nil
	}
	var out [6]byte
	for i, p := range parts {
		var b byte
		if _, err := fmt.Sscanf(p, "%02x", &b); err != nil {
			return nil
		}
		out[i] = b
	}
	return &out
}

// synthesizeAD rebuilds a best-effort raw advertising-data byte stream from
// the fields go-ble parsed out of the original packet: flags, local name,
// manufacturer data, and 16-bit service UUIDs, each as a standard AD
// structure (length, type, value). The result is truncated to
// ble.MaxAdvertDataLen, matching what an ESPHome BLE proxy forwards.
func synthesizeAD(adv blelib.Advertisement) []byte {
	var out []byte

	out = appendAD(out, 0x01, []byte{0x06}) // flags: general discoverable, BR/EDR not supported

	if name := adv.LocalName(); name != "" {
		out = appendAD(out, 0x09, []byte(name))
	}

	if md := adv.ManufacturerData(); len(md) > 0 {
		out = appendAD(out, 0xFF, md)
	}

	if svcs := adv.Services(); len(svcs) > 0 {
		var uuids []byte
		for _, svc := range svcs {
			if u := uuid16LE(svc.String()); u != nil {
				uuids = append(uuids, u...)
			}
		}
		if len(uuids) > 0 {
			out = appendAD(out, 0x03, uuids)
		}
	}

	if len(out) > ble.MaxAdvertDataLen {
		out = out[:ble.MaxAdvertDataLen]
	}
	return out
}

func appendAD(buf []byte, adType byte, value []byte) []byte {
	length := len(value) + 1
	if length > 255 {
		return buf
	}
	buf = append(buf, byte(length), adType)
	buf = append(buf, value...)
	return buf
}

// uuid16LE returns the little-endian 2-byte encoding of a 16-bit Bluetooth
// UUID, or nil if s is not one.
func uuid16LE(s string) []byte {
	s = strings.ToUpper(strings.TrimPrefix(s, "0x"))
	if len(s) != 4 {
		return nil
	}
	var v uint16
	if _, err := fmt.Sscanf(s, "%04X", &v); err != nil {
		return nil
	}
	return []byte{byte(v), byte(v >> 8)}
}
