// Package wire implements the typed request/response records the gateway
// handles, per spec.md §6, encoded and decoded over internal/codec.
package wire

import "github.com/srg/espgw/internal/codec"

// Message type codes, spec.md §6. The unsubscribe/response pair adopts the
// numbering spec.md §9 calls out as canonical (87/93), not the stale 80
// variant seen in some ESPHome header revisions.
const (
	TypeHelloRequest                           = 1
	TypeHelloResponse                          = 2
	TypeConnectRequest                         = 3
	TypeConnectResponse                        = 4
	TypeDisconnectRequest                      = 5
	TypeDisconnectResponse                     = 6
	TypePingRequest                            = 7
	TypePingResponse                           = 8
	TypeDeviceInfoRequest                      = 9
	TypeDeviceInfoResponse                     = 10
	TypeListEntitiesRequest                    = 11
	TypeListEntitiesSwitchResponse             = 17
	TypeListEntitiesDoneResponse               = 19
	TypeSubscribeStatesRequest                 = 20
	TypeSwitchStateResponse                    = 26
	TypeSwitchCommandRequest                   = 33
	TypeSubscribeHomeassistantServicesRequest  = 34
	TypeSubscribeHomeassistantStatesRequest    = 38
	TypeSubscribeBluetoothLEAdvertisementsReq  = 66
	TypeUnsubscribeBluetoothLEAdvertisementsReq = 87
	TypeBluetoothLERawAdvertisementsResponse   = 93
)

// HelloRequest is sent by the client to open a session.
type HelloRequest struct {
	ClientInfo    string
	APIVersionMajor uint32
	APIVersionMinor uint32
}

// DecodeHelloRequest parses a HelloRequest payload. Unknown fields (the
// client may send more than this gateway cares about) are skipped.
func DecodeHelloRequest(payload []byte) (HelloRequest, error) {
	var m HelloRequest
	r := codec.NewReader(payload)
	for {
		field, wt, ok := r.ReadTag()
		if !ok {
			break
		}
		switch field {
		case 1:
			m.ClientInfo, _ = r.ReadString()
		case 2:
			m.APIVersionMajor, _ = r.ReadUint32()
		case 3:
			m.APIVersionMinor, _ = r.ReadUint32()
		default:
			r.SkipField(field, wt)
		}
	}
	return m, r.Err()
}

// HelloResponse is spec.md §6's HelloRes.
type HelloResponse struct {
	APIVersionMajor uint32
	APIVersionMinor uint32
	ServerInfo      string
	Name            string
}

// Encode renders the response payload.
func (m HelloResponse) Encode() ([]byte, error) {
	w := codec.NewWriter(64)
	w.WriteUint32Field(1, m.APIVersionMajor, false)
	w.WriteUint32Field(2, m.APIVersionMinor, false)
	w.WriteStringField(3, m.ServerInfo)
	w.WriteStringField(4, m.Name)
	return w.Bytes(), w.Err()
}

// ConnectRequest carries the (unused) password attempt.
type ConnectRequest struct {
	Password string
}

// DecodeConnectRequest parses a ConnectRequest payload.
func DecodeConnectRequest(payload []byte) (ConnectRequest, error) {
	var m ConnectRequest
	r := codec.NewReader(payload)
	for {
		field, wt, ok := r.ReadTag()
		if !ok {
			break
		}
		if field == 1 {
			m.Password, _ = r.ReadString()
		} else {
			r.SkipField(field, wt)
		}
	}
	return m, r.Err()
}

// ConnectResponse is spec.md §6's ConnectRes. invalid_password is always
// false: this gateway never verifies a password, per spec.md §4.2/§9.
type ConnectResponse struct {
	InvalidPassword bool
}

// Encode renders the response payload.
func (m ConnectResponse) Encode() ([]byte, error) {
	w := codec.NewWriter(8)
	w.WriteBoolField(1, m.InvalidPassword, false)
	return w.Bytes(), w.Err()
}

// DisconnectResponse and PingResponse carry no fields.
type DisconnectResponse struct{}

// Encode renders an empty payload.
func (DisconnectResponse) Encode() ([]byte, error) { return []byte{}, nil }

// PingResponse carries no fields.
type PingResponse struct{}

// Encode renders an empty payload.
func (PingResponse) Encode() ([]byte, error) { return []byte{}, nil }

// ListEntitiesDoneResponse carries no fields.
type ListEntitiesDoneResponse struct{}

// Encode renders an empty payload.
func (ListEntitiesDoneResponse) Encode() ([]byte, error) { return []byte{}, nil }

// DeviceInfoResponse is spec.md §6's DeviceInfoRes. Fields 11/14 are
// reserved-deprecated and intentionally never populated; fields 20-22 are
// reserved for nested device/area records this gateway does not emit.
type DeviceInfoResponse struct {
	UsesPassword               bool
	Name                       string
	MACAddress                 string
	ESPHomeVersion             string
	CompilationTime            string
	Model                      string
	HasDeepSleep               bool
	ProjectName                string
	ProjectVersion             string
	WebserverPort              uint32
	Manufacturer               string
	FriendlyName               string
	BluetoothProxyFeatureFlags uint32
	SuggestedArea              string
	VoiceAssistantFeatureFlags uint32
	BluetoothMACAddress        string
	APIEncryptionSupported     bool
	ZWaveProxyFeatureFlags     uint32
	ZWaveHomeID                uint32
}

// Encode renders the response payload.
func (m DeviceInfoResponse) Encode() ([]byte, error) {
	w := codec.NewWriter(256)
	w.WriteBoolField(1, m.UsesPassword, false)
	w.WriteStringField(2, m.Name)
	w.WriteStringField(3, m.MACAddress)
	w.WriteStringField(4, m.ESPHomeVersion)
	w.WriteStringField(5, m.CompilationTime)
	w.WriteStringField(6, m.Model)
	w.WriteBoolField(7, m.HasDeepSleep, false)
	w.WriteStringField(8, m.ProjectName)
	w.WriteStringField(9, m.ProjectVersion)
	w.WriteUint32Field(10, m.WebserverPort, true)
	w.WriteStringField(12, m.Manufacturer)
	w.WriteStringField(13, m.FriendlyName)
	w.WriteUint32Field(15, m.BluetoothProxyFeatureFlags, true)
	w.WriteStringField(16, m.SuggestedArea)
	w.WriteUint32Field(17, m.VoiceAssistantFeatureFlags, true)
	w.WriteStringField(18, m.BluetoothMACAddress)
	w.WriteBoolField(19, m.APIEncryptionSupported, true)
	w.WriteUint32Field(23, m.ZWaveProxyFeatureFlags, true)
	w.WriteUint32Field(24, m.ZWaveHomeID, true)
	return w.Bytes(), w.Err()
}

// ListEntitiesSwitchResponse describes one switch entity, emitted by a
// component's list-entities hook (spec.md §4.2/§4.3).
type ListEntitiesSwitchResponse struct {
	ObjectID string
	Key      uint32
	Name     string
	UniqueID string
}

// Encode renders the response payload.
func (m ListEntitiesSwitchResponse) Encode() ([]byte, error) {
	w := codec.NewWriter(64)
	w.WriteStringField(1, m.ObjectID)
	w.WriteUint32Field(2, m.Key, false)
	w.WriteStringField(3, m.Name)
	w.WriteStringField(4, m.UniqueID)
	return w.Bytes(), w.Err()
}

// SwitchStateResponse reports a switch entity's current state.
type SwitchStateResponse struct {
	Key   uint32
	State bool
}

// Encode renders the response payload.
func (m SwitchStateResponse) Encode() ([]byte, error) {
	w := codec.NewWriter(16)
	w.WriteUint32Field(1, m.Key, false)
	w.WriteBoolField(2, m.State, false)
	return w.Bytes(), w.Err()
}

// SwitchCommandRequest is the client's request to set a switch entity.
type SwitchCommandRequest struct {
	Key   uint32
	State bool
}

// DecodeSwitchCommandRequest parses a SwitchCommandRequest payload.
func DecodeSwitchCommandRequest(payload []byte) (SwitchCommandRequest, error) {
	var m SwitchCommandRequest
	r := codec.NewReader(payload)
	for {
		field, wt, ok := r.ReadTag()
		if !ok {
			break
		}
		switch field {
		case 1:
			m.Key, _ = r.ReadUint32()
		case 2:
			m.State, _ = r.ReadBool()
		default:
			r.SkipField(field, wt)
		}
	}
	return m, r.Err()
}

// BLEAdvertisement is one entry of a BluetoothLERawAdvertisementsResponse
// batch, spec.md §6.
type BLEAdvertisement struct {
	Address     uint64 // big-endian-packed MAC, byte0 most significant
	RSSI        int32
	AddressType uint32
	Data        []byte
}

func (a BLEAdvertisement) encode() ([]byte, error) {
	w := codec.NewWriter(96)
	w.WriteUint64Field(1, a.Address, false)
	w.WriteSint32Field(2, a.RSSI, false)
	w.WriteUint32Field(3, a.AddressType, false)
	w.WriteBytesField(4, a.Data)
	return w.Bytes(), w.Err()
}

// BluetoothLERawAdvertisementsResponse is a batch of advertisements.
type BluetoothLERawAdvertisementsResponse struct {
	Advertisements []BLEAdvertisement
}

// Encode renders the response payload.
func (m BluetoothLERawAdvertisementsResponse) Encode() ([]byte, error) {
	w := codec.NewWriter(96 * len(m.Advertisements))
	for _, a := range m.Advertisements {
		nested, err := a.encode()
		if err != nil {
			return nil, err
		}
		w.WriteRawMessageField(1, nested)
		if w.Err() != nil {
			return nil, w.Err()
		}
	}
	return w.Bytes(), w.Err()
}
