package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/espgw/internal/codec"
)

func TestDecodeHelloRequestRoundTrip(t *testing.T) {
	w := codec.NewWriter(32)
	w.WriteStringField(1, "home-assistant")
	w.WriteUint32Field(2, 1, false)
	w.WriteUint32Field(3, 10, false)
	require.NoError(t, w.Err())

	req, err := DecodeHelloRequest(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "home-assistant", req.ClientInfo)
	assert.EqualValues(t, 1, req.APIVersionMajor)
	assert.EqualValues(t, 10, req.APIVersionMinor)
}

func TestDecodeHelloRequestSkipsUnknownFields(t *testing.T) {
	w := codec.NewWriter(32)
	w.WriteStringField(99, "future field")
	w.WriteStringField(1, "client")
	require.NoError(t, w.Err())

	req, err := DecodeHelloRequest(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "client", req.ClientInfo)
}

func TestDecodeConnectRequestRoundTrip(t *testing.T) {
	w := codec.NewWriter(16)
	w.WriteStringField(1, "hunter2")
	require.NoError(t, w.Err())

	req, err := DecodeConnectRequest(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "hunter2", req.Password)
}

func TestDecodeSwitchCommandRequestRoundTrip(t *testing.T) {
	w := codec.NewWriter(16)
	w.WriteUint32Field(1, 100, false)
	w.WriteBoolField(2, true, false)
	require.NoError(t, w.Err())

	req, err := DecodeSwitchCommandRequest(w.Bytes())
	require.NoError(t, err)
	assert.EqualValues(t, 100, req.Key)
	assert.True(t, req.State)
}

func TestHelloResponseEncodeDecodesViaReader(t *testing.T) {
	payload, err := HelloResponse{
		APIVersionMajor: 1,
		APIVersionMinor: 12,
		ServerInfo:      "espgw (native API gateway)",
		Name:            "kitchen-gw",
	}.Encode()
	require.NoError(t, err)

	r := codec.NewReader(payload)
	field, _, ok := r.ReadTag()
	require.True(t, ok)
	assert.EqualValues(t, 1, field)
	major, ok := r.ReadUint32()
	require.True(t, ok)
	assert.EqualValues(t, 1, major)
}

func TestConnectResponseAlwaysEncodesWithoutError(t *testing.T) {
	payload, err := ConnectResponse{InvalidPassword: false}.Encode()
	require.NoError(t, err)
	// InvalidPassword is always written, even when false: tag (field 1,
	// varint) then 0.
	assert.Equal(t, []byte{0x08, 0x00}, payload)
}

func TestDeviceInfoResponseOmitsZeroFeatureFlags(t *testing.T) {
	payload, err := DeviceInfoResponse{Name: "gw"}.Encode()
	require.NoError(t, err)

	r := codec.NewReader(payload)
	sawFeatureFlagField := false
	for {
		field, wt, ok := r.ReadTag()
		if !ok {
			break
		}
		if field == 15 {
			sawFeatureFlagField = true
		}
		r.SkipField(field, wt)
	}
	assert.False(t, sawFeatureFlagField, "zero feature-flag field should be omitted")
}

func TestBluetoothLERawAdvertisementsResponseEncodesEachAdvertisementNested(t *testing.T) {
	payload, err := BluetoothLERawAdvertisementsResponse{
		Advertisements: []BLEAdvertisement{
			{Address: 0x0011223344556677, RSSI: -42, AddressType: 0, Data: []byte{0x02, 0x01, 0x06}},
			{Address: 0x8899AABBCCDDEEFF, RSSI: -70, AddressType: 1, Data: []byte{0x03, 0x09, 0x41}},
		},
	}.Encode()
	require.NoError(t, err)

	r := codec.NewReader(payload)
	count := 0
	for {
		field, _, ok := r.ReadTag()
		if !ok {
			break
		}
		require.EqualValues(t, 1, field)
		nested, ok := r.ReadBytes()
		require.True(t, ok)
		assert.NotEmpty(t, nested)
		count++
	}
	assert.Equal(t, 2, count)
}
