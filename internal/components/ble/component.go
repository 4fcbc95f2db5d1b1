// Package ble bundles the BLE-proxy component of spec.md §4.4: it owns a
// platform Adapter + Observer pair and exposes them to Home Assistant as a
// single switch entity ("ble_scanning") plus the subscribe/unsubscribe BLE
// advertisements messages, per the extension-runtime contract of
// internal/component.
package ble

import (
	"time"

	"github.com/srg/espgw/internal/ble"
	"github.com/srg/espgw/internal/component"
	"github.com/srg/espgw/internal/frame"
	"github.com/srg/espgw/internal/wire"
)

// BluetoothProxyFeatureFlags are the bits this component contributes to
// DeviceInfoRes, spec.md §6: passive_scan (bit 0) | raw_advertisements
// (bit 5).
const BluetoothProxyFeatureFlags = 0x21

// switchKey is the fixed entity key for the ble_scanning switch, spec.md §8
// scenario 6.
const switchKey = 100

const switchObjectID = "ble_scanning"
const switchName = "BLE Scanning"

// state is the component's private RuntimeContext.State, holding the
// platform adapter/observer pair plus the two independent gates spec.md
// §4.4 describes: switchEnabled (the ble_scanning switch entity's value,
// defaulting to on) and subscribed (whether a client currently holds a
// BluetoothLEAdvertisements subscription). The scanner actually runs only
// while both are true, per §8 scenario 6 ("a subsequent subscribe does not
// restart the scanner until the switch is toggled back on").
type state struct {
	observer      *ble.Observer
	switchEnabled bool
	subscribed    bool
	running       bool
}

// New returns the registered ble_proxy component backed by adapter. The
// caller (cmd/espgw) selects the concrete Adapter implementation
// (hciadapter or dbusadapter) per its configuration.
func New(adapter ble.Adapter, tickInterval time.Duration, eagerFlush bool) *component.Component {
	return &component.Component{
		Name:    "ble_proxy",
		Version: "1.0.0",
		Hooks: component.Hooks{
			Init:                 initHook(adapter, tickInterval, eagerFlush),
			Cleanup:              cleanupHook,
			ContributeDeviceInfo: contributeDeviceInfo,
			ListEntities:         listEntities,
			SubscribeStates:      subscribeStates,
			HandleMessage:        handleMessage,
		},
	}
}

func initHook(adapter ble.Adapter, tickInterval time.Duration, eagerFlush bool) func(*component.RuntimeContext) error {
	return func(ctx *component.RuntimeContext) error {
		st := &state{switchEnabled: true}
		st.observer = ble.NewObserver(adapter, func(payload []byte) error {
			return ctx.Server.Broadcast(payload)
		}, ctx.Server.Log(), tickInterval, eagerFlush)
		ctx.State = st
		// The scanner is not started at boot, per spec.md §4.4; it starts on
		// the first SubscribeBluetoothLEAdvertisementsRequest, gated by the
		// switch being enabled.
		return nil
	}
}

func cleanupHook(ctx *component.RuntimeContext) {
	st := ctx.State.(*state)
	if st.running {
		if err := st.observer.Stop(); err != nil {
			ctx.Server.Log().WithError(err).Warn("ble_proxy: stop observer on cleanup")
		}
	}
}

func contributeDeviceInfo(_ *component.RuntimeContext, info *component.DeviceInfoFields) {
	info.BluetoothProxyFeatureFlags |= BluetoothProxyFeatureFlags
}

func listEntities(ctx *component.RuntimeContext, clientID int) {
	payload, err := wire.ListEntitiesSwitchResponse{
		ObjectID: switchObjectID,
		Key:      switchKey,
		Name:     switchName,
		UniqueID: switchObjectID,
	}.Encode()
	if err != nil {
		ctx.Server.Log().WithError(err).Error("ble_proxy: encode list-entities switch")
		return
	}
	send(ctx, clientID, wire.TypeListEntitiesSwitchResponse, payload)
}

func subscribeStates(ctx *component.RuntimeContext, clientID int) {
	st := ctx.State.(*state)
	payload, err := wire.SwitchStateResponse{Key: switchKey, State: st.switchEnabled}.Encode()
	if err != nil {
		ctx.Server.Log().WithError(err).Error("ble_proxy: encode switch state")
		return
	}
	send(ctx, clientID, wire.TypeSwitchStateResponse, payload)
}

func handleMessage(ctx *component.RuntimeContext, clientID int, msgType uint32, payload []byte) bool {
	st := ctx.State.(*state)
	switch msgType {
	case wire.TypeSubscribeBluetoothLEAdvertisementsReq:
		st.subscribed = true
		syncScanner(ctx, st)
		return true
	case wire.TypeUnsubscribeBluetoothLEAdvertisementsReq:
		st.subscribed = false
		syncScanner(ctx, st)
		return true
	case wire.TypeSwitchCommandRequest:
		cmd, err := wire.DecodeSwitchCommandRequest(payload)
		if err != nil {
			return false
		}
		if cmd.Key != switchKey {
			return false
		}
		st.switchEnabled = cmd.State
		syncScanner(ctx, st)
		broadcastState(ctx, st)
		return true
	default:
		return false
	}
}

// syncScanner starts or stops the observer so it runs iff both the switch is
// enabled and a client is subscribed, per spec.md §4.4/§8 scenario 6: turning
// the switch off must durably suppress a later subscribe from restarting the
// scanner until the switch is turned back on.
func syncScanner(ctx *component.RuntimeContext, st *state) {
	want := st.switchEnabled && st.subscribed
	if want == st.running {
		return
	}
	var err error
	if want {
		err = st.observer.Start()
	} else {
		err = st.observer.Stop()
	}
	if err != nil {
		ctx.Server.Log().WithError(err).Warn("ble_proxy: toggle scanner")
		return
	}
	st.running = want
}

func broadcastState(ctx *component.RuntimeContext, st *state) {
	payload, err := wire.SwitchStateResponse{Key: switchKey, State: st.switchEnabled}.Encode()
	if err != nil {
		return
	}
	framed, err := frame.Encode(wire.TypeSwitchStateResponse, payload)
	if err != nil {
		return
	}
	if err := ctx.Server.Broadcast(framed); err != nil {
		ctx.Server.Log().WithError(err).Warn("ble_proxy: broadcast switch state")
	}
}

func send(ctx *component.RuntimeContext, clientID int, msgType uint32, payload []byte) {
	framed, err := frame.Encode(msgType, payload)
	if err != nil {
		ctx.Server.Log().WithError(err).Error("ble_proxy: frame message")
		return
	}
	if err := ctx.Server.Unicast(clientID, framed); err != nil {
		ctx.Server.Log().WithError(err).Warn("ble_proxy: unicast message")
	}
}
