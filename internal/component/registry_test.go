package component

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/espgw/internal/config"
)

type fakeFacade struct {
	log *logrus.Logger
}

func newFakeFacade() *fakeFacade {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return &fakeFacade{log: log}
}

func (f *fakeFacade) Broadcast(payload []byte) error        { return nil }
func (f *fakeFacade) Unicast(clientID int, payload []byte) error { return nil }
func (f *fakeFacade) PeerHost(clientID int) string           { return "" }
func (f *fakeFacade) Log() *logrus.Logger                    { return f.log }

func TestRegistryInitAllRunsInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	r.Register(&Component{Name: "a", Hooks: Hooks{Init: func(ctx *RuntimeContext) error {
		order = append(order, "a")
		return nil
	}}})
	r.Register(&Component{Name: "b", Hooks: Hooks{Init: func(ctx *RuntimeContext) error {
		order = append(order, "b")
		return nil
	}}})

	r.InitAll(newFakeFacade(), &config.DeviceConfig{})
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRegistryFailedInitExcludesComponentWithoutAbortingOthers(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(&Component{Name: "broken", Hooks: Hooks{
		Init: func(ctx *RuntimeContext) error {
			return errors.New("boom")
		},
		HandleMessage: func(ctx *RuntimeContext, clientID int, msgType uint32, payload []byte) bool {
			called = true
			return true
		},
	}})
	var okInitialized bool
	r.Register(&Component{Name: "ok", Hooks: Hooks{Init: func(ctx *RuntimeContext) error {
		okInitialized = true
		return nil
	}}})

	r.InitAll(newFakeFacade(), &config.DeviceConfig{})
	require.True(t, okInitialized)

	// The broken component must not participate in any later hook.
	_ = r.HandleMessage(1, 99, nil)
	assert.False(t, called)
}

func TestRegistryContributeDeviceInfoOrsFeatureFlags(t *testing.T) {
	r := NewRegistry()
	r.Register(&Component{Name: "a", Hooks: Hooks{ContributeDeviceInfo: func(ctx *RuntimeContext, info *DeviceInfoFields) {
		info.BluetoothProxyFeatureFlags |= 0x01
	}}})
	r.Register(&Component{Name: "b", Hooks: Hooks{ContributeDeviceInfo: func(ctx *RuntimeContext, info *DeviceInfoFields) {
		info.BluetoothProxyFeatureFlags |= 0x20
	}}})
	r.InitAll(newFakeFacade(), &config.DeviceConfig{})

	info := &DeviceInfoFields{}
	r.ContributeDeviceInfo(info)
	assert.EqualValues(t, 0x21, info.BluetoothProxyFeatureFlags)
}

func TestRegistryHandleMessageStopsAtFirstHandler(t *testing.T) {
	r := NewRegistry()
	var secondCalled bool
	r.Register(&Component{Name: "first", Hooks: Hooks{HandleMessage: func(ctx *RuntimeContext, clientID int, msgType uint32, payload []byte) bool {
		return true
	}}})
	r.Register(&Component{Name: "second", Hooks: Hooks{HandleMessage: func(ctx *RuntimeContext, clientID int, msgType uint32, payload []byte) bool {
		secondCalled = true
		return true
	}}})
	r.InitAll(newFakeFacade(), &config.DeviceConfig{})

	handled := r.HandleMessage(1, 10, nil)
	assert.True(t, handled)
	assert.False(t, secondCalled)
}

func TestRegistryHandleMessageReturnsFalseWhenUnclaimed(t *testing.T) {
	r := NewRegistry()
	r.Register(&Component{Name: "a", Hooks: Hooks{}})
	r.InitAll(newFakeFacade(), &config.DeviceConfig{})

	assert.False(t, r.HandleMessage(1, 10, nil))
}

func TestRegistryCleanupAllRunsOnlyInitializedComponents(t *testing.T) {
	r := NewRegistry()
	cleaned := map[string]bool{}
	r.Register(&Component{Name: "broken", Hooks: Hooks{
		Init:    func(ctx *RuntimeContext) error { return errors.New("boom") },
		Cleanup: func(ctx *RuntimeContext) { cleaned["broken"] = true },
	}})
	r.Register(&Component{Name: "ok", Hooks: Hooks{
		Cleanup: func(ctx *RuntimeContext) { cleaned["ok"] = true },
	}})

	r.InitAll(newFakeFacade(), &config.DeviceConfig{})
	r.CleanupAll()

	assert.False(t, cleaned["broken"])
	assert.True(t, cleaned["ok"])
}

func TestRegistryGetReturnsNilForUnknownComponent(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get("missing"))
}
