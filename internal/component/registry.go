// Package component implements the extension runtime of spec.md §4.3: an
// ordered registry of components, their lifecycle hooks, and the
// RuntimeContext that gives each one stable back-references to the server
// facade and device config without the components needing a mutable "server
// pointer" threaded through every call.
package component

import (
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/espgw/internal/config"
)

// ServerFacade is the set of operations a component may perform against the
// running gateway: broadcast/unicast sends, peer lookup, and logging. The
// concrete implementation lives in internal/gateway; this interface exists
// so internal/component never imports internal/gateway (which imports
// internal/component), avoiding an import cycle.
type ServerFacade interface {
	Broadcast(payload []byte) error
	Unicast(clientID int, payload []byte) error
	PeerHost(clientID int) string
	Log() *logrus.Logger
}

// RuntimeContext is allocated once per component at init time and freed at
// cleanup; it is immutable for the component's initialized lifetime
// (spec.md §3 RuntimeContext row, design note "back-reference from component
// to server → context value").
type RuntimeContext struct {
	Server ServerFacade
	Config *config.DeviceConfig

	// State is the component's private state handle, set by the
	// component's Init hook and read back by its other hooks.
	State any
}

// Hooks are a component's optional lifecycle and contribution points,
// spec.md §4.3. Any of them may be nil.
type Hooks struct {
	// Init is called once, after the listener is live, before any
	// connection is accepted to handle it. A non-nil error marks the
	// component not-initialized and excludes it from every other hook.
	Init func(ctx *RuntimeContext) error

	// Cleanup is called once per initialized component during shutdown,
	// after the listener and session sockets are closed and the workers
	// have exited.
	Cleanup func(ctx *RuntimeContext)

	// ContributeDeviceInfo lets a component set feature-flag bits and
	// string fields on the outgoing DeviceInfoRes.
	ContributeDeviceInfo func(ctx *RuntimeContext, info *DeviceInfoFields)

	// ListEntities is called once per client ListEntitiesReq; the
	// component must unicast one entity descriptor per entity it owns.
	ListEntities func(ctx *RuntimeContext, clientID int)

	// SubscribeStates is called once per client SubscribeStatesReq; the
	// component must unicast (or broadcast) its current entity state.
	SubscribeStates func(ctx *RuntimeContext, clientID int)

	// HandleMessage offers an unmatched/unknown message type to the
	// component. It returns handled=true if the component consumed it.
	HandleMessage func(ctx *RuntimeContext, clientID int, msgType uint32, payload []byte) (handled bool)
}

// DeviceInfoFields is the mutable subset of DeviceInfoRes components may
// contribute to. bluetooth_proxy_feature_flags/voice_assistant_feature_flags
// are combined across components with bitwise OR; string fields are
// last-writer-wins, per spec.md §4.2.
type DeviceInfoFields struct {
	BluetoothProxyFeatureFlags uint32
	VoiceAssistantFeatureFlags uint32
	ZWaveProxyFeatureFlags     uint32
	ZWaveHomeID                uint32
	ProjectName                string
	ProjectVersion             string
}

// Component is one registered extension. Name/Version identify it for
// logging; Hooks are its optional lifecycle/contribution points.
type Component struct {
	Name    string
	Version string
	Hooks   Hooks

	initialized bool
	ctx         *RuntimeContext
}

// Registry is the process-global ordered list of spec.md §4.3. Registration
// order is preserved via go-ordered-map so iteration is deterministic even
// though the spec says inter-component order is otherwise unspecified.
type Registry struct {
	components *orderedmap.OrderedMap[string, *Component]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{components: orderedmap.New[string, *Component]()}
}

// Register appends c to the registry. Components must not depend on
// registration order relative to their peers, per spec.md §4.3.
func (r *Registry) Register(c *Component) {
	r.components.Set(c.Name, c)
}

// Get returns a registered component by name, or nil.
func (r *Registry) Get(name string) *Component {
	c, ok := r.components.Get(name)
	if !ok {
		return nil
	}
	return c
}

// InitAll allocates a RuntimeContext for, and initializes, every registered
// component. A component whose Init returns an error is logged and excluded
// from every subsequent pass, per spec.md §4.3/§7; the registry continues
// with the rest.
func (r *Registry) InitAll(server ServerFacade, cfg *config.DeviceConfig) {
	for pair := r.components.Oldest(); pair != nil; pair = pair.Next() {
		c := pair.Value
		if c.Hooks.Init == nil {
			c.initialized = true
			c.ctx = &RuntimeContext{Server: server, Config: cfg}
			continue
		}
		ctx := &RuntimeContext{Server: server, Config: cfg}
		if err := c.Hooks.Init(ctx); err != nil {
			server.Log().WithField("component", c.Name).WithError(err).
				Error("component init failed, excluding from registry")
			c.initialized = false
			continue
		}
		c.ctx = ctx
		c.initialized = true
	}
}

// CleanupAll calls Cleanup on every initialized component and frees its
// context, in registration order. The gateway calls it as the last step of
// shutdown, after sockets are closed.
func (r *Registry) CleanupAll() {
	for pair := r.components.Oldest(); pair != nil; pair = pair.Next() {
		c := pair.Value
		if !c.initialized {
			continue
		}
		if c.Hooks.Cleanup != nil {
			c.Hooks.Cleanup(c.ctx)
		}
		c.ctx = nil
		c.initialized = false
	}
}

// ContributeDeviceInfo passes the same info record to every initialized
// component's device-info hook in registration order. Each hook sets its own
// feature-flag bits (with |=) and string fields, so a later hook's string
// overwrites an earlier one's.
func (r *Registry) ContributeDeviceInfo(info *DeviceInfoFields) {
	for pair := r.components.Oldest(); pair != nil; pair = pair.Next() {
		c := pair.Value
		if !c.initialized || c.Hooks.ContributeDeviceInfo == nil {
			continue
		}
		c.Hooks.ContributeDeviceInfo(c.ctx, info)
	}
}

// ListEntities runs every initialized component's list-entities hook for
// clientID.
func (r *Registry) ListEntities(clientID int) {
	for pair := r.components.Oldest(); pair != nil; pair = pair.Next() {
		c := pair.Value
		if !c.initialized || c.Hooks.ListEntities == nil {
			continue
		}
		c.Hooks.ListEntities(c.ctx, clientID)
	}
}

// SubscribeStates runs every initialized component's subscribe-states hook
// for clientID.
func (r *Registry) SubscribeStates(clientID int) {
	for pair := r.components.Oldest(); pair != nil; pair = pair.Next() {
		c := pair.Value
		if !c.initialized || c.Hooks.SubscribeStates == nil {
			continue
		}
		c.Hooks.SubscribeStates(c.ctx, clientID)
	}
}

// HandleMessage offers msgType/payload to each initialized component in
// registration order; the first one whose handler reports handled=true
// wins. It returns false if no component claims the message.
func (r *Registry) HandleMessage(clientID int, msgType uint32, payload []byte) bool {
	for pair := r.components.Oldest(); pair != nil; pair = pair.Next() {
		c := pair.Value
		if !c.initialized || c.Hooks.HandleMessage == nil {
			continue
		}
		if c.Hooks.HandleMessage(c.ctx, clientID, msgType, payload) {
			return true
		}
	}
	return false
}
