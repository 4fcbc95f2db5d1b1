// Package ble implements the BLE observer, cache, and batcher of spec.md
// §4.4: a platform adapter feeds canonical AdvertRecord events into a
// fixed-capacity MAC-indexed cache, which a periodic batcher drains into
// bounded AdvertBatch messages for broadcast.
package ble


// MaxAdvertDataLen is the maximum length of raw advertisement-data bytes
// carried by a record, per spec.md §3. Adapters truncate at the source.
const MaxAdvertDataLen = 62

// AddressType is the advertisement's address_type field: public (0) vs
// random (1) addresses.
type AddressType uint32

const (
	AddressPublic AddressType = 0
	AddressRandom AddressType = 1
)

// Record is the canonical advertisement record of spec.md §3: a 6-byte MAC,
// address type, signed RSSI, and raw advertisement-data bytes.
type Record struct {
	MAC         [6]byte
	AddressType AddressType
	RSSI        int32
	Data        []byte // length <= MaxAdvertDataLen
}

// clone returns a copy of r with its own backing array for Data, since the
// cache keeps records past the lifetime of whatever buffer the adapter
// handed them in on.
func (r Record) clone() Record {
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	r.Data = data
	return r
}

