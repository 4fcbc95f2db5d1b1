// Package dbusadapter implements internal/ble.Adapter over the system
// D-Bus/BlueZ stack, for hosts that already run bluetoothd. Grounded on
// other_examples' BlueZ PropertiesChanged/GetManagedObjects usage
// (houneTeam-pible's internal/bluetooth/bluez continuous-scan code) and the
// teacher's UUID-normalizing idiom.
package dbusadapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/espgw/internal/ble"
)

// TickInterval is the system-bus adapter's periodic batcher period, per
// spec.md §4.4.
const TickInterval = 10 * time.Second

// callTimeout bounds outbound D-Bus method calls, per spec.md §9.
const callTimeout = 5 * time.Second

const ringCapacity = 256

const busName = "org.bluez"

// AdapterPath is the BlueZ adapter object to drive discovery on. Overridable
// in tests.
var AdapterPath = dbus.ObjectPath("/org/bluez/hci0")

// Adapter scans via BlueZ's org.bluez.Device1 PropertiesChanged signal, per
// spec.md §9's "system D-Bus/BlueZ" design note.
type Adapter struct {
	log *logrus.Logger

	mu      sync.Mutex
	conn    *dbus.Conn
	sigCh   chan *dbus.Signal
	ring    *ble.RingChannel
	cancel  context.CancelFunc
	started bool
}

// NewAdapter returns a BlueZ-backed adapter. The D-Bus connection is opened
// lazily on Start.
func NewAdapter(log *logrus.Logger) *Adapter {
	if log == nil {
		log = logrus.New()
	}
	return &Adapter{log: log}
}

// Name identifies the adapter for logging.
func (a *Adapter) Name() string { return "dbus" }

// Start connects to the system bus, begins BlueZ discovery, and subscribes
// to Device1 PropertiesChanged. Starting an already-started adapter is a
// no-op.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("%w: %v", ble.ErrScannerUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	adapterObj := conn.Object(busName, AdapterPath)
	if call := adapterObj.CallWithContext(ctx, "org.bluez.Adapter1.SetDiscoveryFilter", 0, map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}); call.Err != nil {
		a.log.WithError(call.Err).Warn("dbusadapter: set discovery filter")
	}
	if call := adapterObj.CallWithContext(ctx, "org.bluez.Adapter1.StartDiscovery", 0); call.Err != nil && !strings.Contains(call.Err.Error(), "InProgress") {
		conn.Close()
		return fmt.Errorf("%w: start discovery: %v", ble.ErrScannerUnavailable, call.Err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ble.ErrScannerUnavailable, err)
	}

	sigCh := make(chan *dbus.Signal, 64)
	conn.Signal(sigCh)

	a.conn = conn
	a.sigCh = sigCh
	a.ring = ble.NewRingChannel(ringCapacity)
	a.started = true

	runCtx, runCancel := context.WithCancel(context.Background())
	a.cancel = runCancel
	go a.dispatch(runCtx)

	return nil
}

// Stop ends discovery, closes the bus connection, and unblocks Next.
// Stopping an adapter that was never started is a no-op.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	adapterObj := a.conn.Object(busName, AdapterPath)
	_ = adapterObj.CallWithContext(ctx, "org.bluez.Adapter1.StopDiscovery", 0).Err

	a.cancel()
	a.conn.Close()
	a.ring.Close()

	a.started = false
	a.conn = nil
	a.sigCh = nil
	a.ring = nil
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

// dispatch reads PropertiesChanged signals off the bus and turns
// Device1-interface changes under our adapter into cache records.
func (a *Adapter) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-a.sigCh:
			if !ok {
				return
			}
			if sig == nil || sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
				continue
			}
			if rec, ok := recordFromSignal(sig); ok {
				a.ring.Send(rec)
			}
		}
	}
}

// recordFromSignal extracts a Record from a Device1 PropertiesChanged
// signal, synthesizing raw advertising-data bytes from the subset of
// properties BlueZ exposes (RSSI, ManufacturerData, ServiceData, UUIDs).
func recordFromSignal(sig *dbus.Signal) (ble.Record, bool) {
	mac := macFromDevicePath(string(sig.Path))
	if mac == nil {
		return ble.Record{}, false
	}
	if len(sig.Body) < 2 {
		return ble.Record{}, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != "org.bluez.Device1" {
		return ble.Record{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return ble.Record{}, false
	}

	rec := ble.Record{MAC: *mac, AddressType: ble.AddressPublic}

	if v, ok := changed["RSSI"]; ok {
		if rssi, ok := v.Value().(int16); ok {
			rec.RSSI = int32(rssi)
		}
	}

	var ad []byte
	if v, ok := changed["ManufacturerData"]; ok {
		if md, ok := v.Value().(map[uint16]dbus.Variant); ok {
			for companyID, data := range md {
				b, ok := data.Value().([]byte)
				if !ok {
					continue
				}
				value := make([]byte, 0, 2+len(b))
				value = append(value, byte(companyID), byte(companyID>>8))
				value = append(value, b...)
				ad = appendAD(ad, 0xFF, value)
			}
		}
	}
	if v, ok := changed["ServiceData"]; ok {
		if sd, ok := v.Value().(map[string]dbus.Variant); ok {
			for uuid, data := range sd {
				b, ok := data.Value().([]byte)
				if !ok {
					continue
				}
				u := uuid16LE(uuid)
				if u == nil {
					continue
				}
				value := make([]byte, 0, 2+len(b))
				value = append(value, u...)
				value = append(value, b...)
				ad = appendAD(ad, 0x16, value)
			}
		}
	}
	if v, ok := changed["UUIDs"]; ok {
		if uuids, ok := v.Value().([]string); ok {
			var value []byte
			for _, uuid := range uuids {
				if u := uuid16LE(uuid); u != nil {
					value = append(value, u...)
				}
			}
			if len(value) > 0 {
				ad = appendAD(ad, 0x03, value)
			}
		}
	}

	if len(ad) > ble.MaxAdvertDataLen {
		ad = ad[:ble.MaxAdvertDataLen]
	}
	rec.Data = ad
	return rec, true
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

// macFromDevicePath extracts a 6-byte MAC from a BlueZ device object path of
// the form /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func macFromDevicePath(path string) *[6]byte {
	idx := strings.LastIndex(path, "/dev_")
	if idx < 0 {
		return nil
	}
	parts := strings.Split(path[idx+len("/dev_"):], "_")
	if len(parts) != 6 {
		return nil
	}
	var out [6]byte
	for i, p := range parts {
		var b byte
		if _, err := fmt.Sscanf(p, "%02X", &b); err != nil {
			return nil
		}
		out[i] = b
	}
	return &out
}

// uuid16LE recognizes a 16-bit Bluetooth UUID, either bare ("180F") or in
// the full 128-bit Bluetooth-base form, and returns its little-endian 2-byte
// encoding, adapted from the teacher's NormalizeUUID idiom.
func uuid16LE(uuid string) []byte {
	u := strings.ToUpper(strings.TrimSpace(uuid))
	const suffix = "-0000-1000-8000-00805F9B34FB"
	if len(u) == 36 && strings.HasSuffix(u, suffix) && strings.HasPrefix(u, "0000") {
		u = u[4:8]
	}
	if len(u) != 4 {
		return nil
	}
	var v uint16
	if _, err := fmt.Sscanf(u, "%04X", &v); err != nil {
		return nil
	}
	return []byte{byte(v), byte(v >> 8)}
}
