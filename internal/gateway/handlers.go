package gateway

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/espgw/internal/component"
	"github.com/srg/espgw/internal/frame"
	"github.com/srg/espgw/internal/session"
	"github.com/srg/espgw/internal/wire"
)

// CompilationTime is stamped at build time via -ldflags; it defaults to
// "unknown" for a plain build.
var CompilationTime = "unknown"

// ProductBanner names this gateway in HelloRes's server_info field.
const ProductBanner = "espgw native API gateway"

// dispatch routes one decoded frame to its handler by message type.
// Unmatched/unknown types fall through to the component registry. The
// slot's handshake state is not consulted: every request type is handled in
// every state, including before HelloRequest.
func (s *Server) dispatch(slot *session.Slot, msgType uint32, payload []byte) {
	switch msgType {
	case wire.TypeHelloRequest:
		s.handleHello(slot, payload)
	case wire.TypeConnectRequest:
		s.handleConnect(slot, payload)
	case wire.TypeDisconnectRequest:
		s.handleDisconnect(slot)
	case wire.TypePingRequest:
		s.handlePing(slot)
	case wire.TypeDeviceInfoRequest:
		s.handleDeviceInfo(slot)
	case wire.TypeListEntitiesRequest:
		s.handleListEntities(slot)
	case wire.TypeSubscribeStatesRequest:
		s.handleSubscribeStates(slot)
	case wire.TypeSubscribeHomeassistantServicesRequest, wire.TypeSubscribeHomeassistantStatesRequest:
		// no-op acknowledge, spec.md §4.2.
	default:
		if !s.registry.HandleMessage(slot.ID, msgType, payload) {
			s.log.WithFields(logrus.Fields{"peer": slot.Peer(), "type": msgType}).
				Debug("gateway: unhandled message type, dropping")
		}
	}
}

func (s *Server) handleHello(slot *session.Slot, payload []byte) {
	if _, err := wire.DecodeHelloRequest(payload); err != nil {
		s.log.WithField("peer", slot.Peer()).WithError(err).Warn("gateway: bad HelloRequest")
		slot.Close()
		return
	}
	slot.SetState(session.StateHelloAcked)

	resp := wire.HelloResponse{
		APIVersionMajor: APIVersionMajor,
		APIVersionMinor: APIVersionMinor,
		ServerInfo:      fmt.Sprintf("%s (%s)", s.cfg.Name, ProductBanner),
		Name:            s.cfg.Name,
	}
	s.sendTo(slot, wire.TypeHelloResponse, resp)
}

func (s *Server) handleConnect(slot *session.Slot, payload []byte) {
	if _, err := wire.DecodeConnectRequest(payload); err != nil {
		s.log.WithField("peer", slot.Peer()).WithError(err).Warn("gateway: bad ConnectRequest")
		slot.Close()
		return
	}
	slot.SetState(session.StateAuthenticated)
	s.sendTo(slot, wire.TypeConnectResponse, wire.ConnectResponse{InvalidPassword: false})
}

// handleDisconnect sends DisconnectRes before closing the socket, per
// spec.md §4.2's "disconnect reply then close" ordering.
func (s *Server) handleDisconnect(slot *session.Slot) {
	s.sendTo(slot, wire.TypeDisconnectResponse, wire.DisconnectResponse{})
	slot.Close()
}

func (s *Server) handlePing(slot *session.Slot) {
	s.sendTo(slot, wire.TypePingResponse, wire.PingResponse{})
}

func (s *Server) handleDeviceInfo(slot *session.Slot) {
	fields := component.DeviceInfoFields{}
	s.registry.ContributeDeviceInfo(&fields)

	resp := wire.DeviceInfoResponse{
		UsesPassword:               false,
		Name:                       s.cfg.Name,
		MACAddress:                 s.cfg.MAC,
		ESPHomeVersion:             s.cfg.Version,
		CompilationTime:            CompilationTime,
		Model:                      s.cfg.Model,
		HasDeepSleep:               false,
		ProjectName:                fields.ProjectName,
		ProjectVersion:             fields.ProjectVersion,
		Manufacturer:               s.cfg.Manufacturer,
		FriendlyName:               s.cfg.FriendlyName,
		BluetoothProxyFeatureFlags: fields.BluetoothProxyFeatureFlags,
		SuggestedArea:              s.cfg.SuggestedArea,
		VoiceAssistantFeatureFlags: fields.VoiceAssistantFeatureFlags,
		BluetoothMACAddress:        s.cfg.MAC,
		APIEncryptionSupported:     false,
		ZWaveProxyFeatureFlags:     fields.ZWaveProxyFeatureFlags,
		ZWaveHomeID:                fields.ZWaveHomeID,
	}
	s.sendTo(slot, wire.TypeDeviceInfoResponse, resp)
}

func (s *Server) handleListEntities(slot *session.Slot) {
	s.registry.ListEntities(slot.ID)
	s.sendTo(slot, wire.TypeListEntitiesDoneResponse, wire.ListEntitiesDoneResponse{})
}

func (s *Server) handleSubscribeStates(slot *session.Slot) {
	s.registry.SubscribeStates(slot.ID)
}

// wireEncoder is implemented by every wire response type.
type wireEncoder interface {
	Encode() ([]byte, error)
}

func (s *Server) sendTo(slot *session.Slot, msgType uint32, msg wireEncoder) {
	payload, err := msg.Encode()
	if err != nil {
		s.log.WithError(err).Error("gateway: encode response")
		return
	}
	framed, err := frame.Encode(msgType, payload)
	if err != nil {
		s.log.WithError(err).Error("gateway: frame response")
		return
	}
	if err := slot.Send(framed); err != nil {
		s.log.WithField("peer", slot.Peer()).WithError(err).Warn("gateway: send failed, dropping session")
	}
}

// Broadcast sends an already-framed message to every active session, per
// spec.md §5's "broadcast acquires the per-session mutex individually,
// releasing the table lock before any socket write".
func (s *Server) Broadcast(payload []byte) error {
	s.table.ForEach(func(slot *session.Slot) {
		if err := slot.Send(payload); err != nil {
			s.log.WithField("peer", slot.Peer()).WithError(err).Warn("gateway: broadcast send failed, dropping session")
		}
	})
	return nil
}

// Unicast sends an already-framed message to one client by slot ID.
func (s *Server) Unicast(clientID int, payload []byte) error {
	slot := s.table.Get(clientID)
	if slot == nil || !slot.Active() {
		return fmt.Errorf("gateway: unicast to unknown or inactive client %d", clientID)
	}
	return slot.Send(payload)
}

// PeerHost returns the remote address string for clientID, or "" if unknown.
func (s *Server) PeerHost(clientID int) string {
	slot := s.table.Get(clientID)
	if slot == nil {
		return ""
	}
	return slot.Peer()
}

// Log returns the gateway's structured logger.
func (s *Server) Log() *logrus.Logger { return s.log }
