// Package frame implements the wire framing described in spec.md §4.1: a
// single preamble byte, a varint payload length, a varint message type, and
// the payload itself.
package frame

import (
	"errors"

	"github.com/srg/espgw/internal/codec"
	"google.golang.org/protobuf/encoding/protowire"
)

// Preamble is the single leading byte of every frame on the wire.
const Preamble byte = 0x00

// MaxPayloadSize bounds a single frame's payload. Encoding a larger payload
// fails with ErrBufferExhausted.
const MaxPayloadSize = codec.MaxMessageSize

// Errors mirror spec.md §4.1's fail set for the frame layer.
var (
	ErrBufferExhausted = codec.ErrBufferExhausted
	ErrInvalidPreamble = errors.New("frame: invalid preamble")
	ErrTruncatedHeader = errors.New("frame: truncated header")
	ErrVarintOverflow  = codec.ErrVarintOverflow
)

// Encode wraps payload in a frame for the given message type. It returns an
// error (never a partially encoded frame) if payload exceeds MaxPayloadSize.
func Encode(messageType uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrBufferExhausted
	}
	out := make([]byte, 0, 1+protowire.SizeVarint(uint64(len(payload)))+protowire.SizeVarint(uint64(messageType))+len(payload))
	out = append(out, Preamble)
	out = protowire.AppendVarint(out, uint64(len(payload)))
	out = protowire.AppendVarint(out, uint64(messageType))
	out = append(out, payload...)
	return out, nil
}

// Decode parses one frame from the head of buf. It is tolerant of partial
// reads: if buf does not yet contain a complete frame (header or payload not
// fully buffered), it returns ErrTruncatedHeader so the caller can
// distinguish "need more bytes" from a hard protocol error using errors.Is,
// with consumed == 0 in that case.
//
// On success, consumed is the total number of bytes of buf making up the
// frame (header + payload). Decode itself checks that header offset plus
// payload length does not exceed len(buf), so the caller need not.
func Decode(buf []byte) (messageType uint32, payload []byte, consumed int, err error) {
	if len(buf) < 1 {
		return 0, nil, 0, ErrTruncatedHeader
	}
	if buf[0] != Preamble {
		return 0, nil, 0, ErrInvalidPreamble
	}
	rest := buf[1:]

	payloadLen, n, err := codec.ConsumeVarintChecked(rest)
	if err != nil {
		if errors.Is(err, codec.ErrVarintOverflow) {
			return 0, nil, 0, ErrVarintOverflow
		}
		return 0, nil, 0, ErrTruncatedHeader
	}
	rest = rest[n:]
	headerLen := 1 + n

	msgType, n2, err := codec.ConsumeVarintChecked(rest)
	if err != nil {
		if errors.Is(err, codec.ErrVarintOverflow) {
			return 0, nil, 0, ErrVarintOverflow
		}
		return 0, nil, 0, ErrTruncatedHeader
	}
	rest = rest[n2:]
	headerLen += n2

	if payloadLen > MaxPayloadSize {
		return 0, nil, 0, ErrBufferExhausted
	}
	if uint64(len(rest)) < payloadLen {
		return 0, nil, 0, ErrTruncatedHeader
	}

	consumed = headerLen + int(payloadLen)
	return uint32(msgType), rest[:payloadLen], consumed, nil
}
