// Package codec implements the buffered encode/decode primitives the gateway's
// wire messages are built from: varint, zig-zag sint32, bool, fixed64, and
// length-delimited bytes/strings, plus field-skip for unknown tags.
//
// The heavy lifting (varint math, tag packing, zig-zag) is protowire's; this
// package only adds the bounded-buffer bookkeeping and sticky-error behavior
// spec.md asks for, since protowire has no notion of either.
package codec

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// Errors mirror spec.md §4.1's fail set for the codec layer.
var (
	ErrBufferExhausted = errors.New("codec: buffer exhausted")
	ErrTruncated       = errors.New("codec: truncated input")
	ErrVarintOverflow  = errors.New("codec: varint overflow")
)

// MaxMessageSize bounds a single encoded message. Anything larger trips
// ErrBufferExhausted rather than growing without limit.
const MaxMessageSize = 64 * 1024

// Writer accumulates an encoded message payload. Once Err() is non-nil every
// subsequent Write* call is a no-op, matching the "sticky error, return
// zero-length" contract of spec.md §7.
type Writer struct {
	buf []byte
	err error
}

// NewWriter returns a Writer with the given starting capacity.
func NewWriter(capacityHint int) *Writer {
	return &Writer{buf: make([]byte, 0, capacityHint)}
}

// Err reports the first error encountered, if any.
func (w *Writer) Err() error { return w.err }

// Bytes returns the encoded payload so far. If Err() is non-nil this returns
// nil, since the caller must drop the outbound message on overflow.
func (w *Writer) Bytes() []byte {
	if w.err != nil {
		return nil
	}
	return w.buf
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) checkRoom(extra int) bool {
	if w.err != nil {
		return false
	}
	if len(w.buf)+extra > MaxMessageSize {
		w.fail(ErrBufferExhausted)
		return false
	}
	return true
}

// WriteUint32Field encodes a varint field unless v == 0 and omitEmpty is set.
func (w *Writer) WriteUint32Field(field int32, v uint32, omitEmpty bool) {
	if omitEmpty && v == 0 {
		return
	}
	w.writeVarintField(field, uint64(v))
}

// WriteUint64Field encodes a varint field.
func (w *Writer) WriteUint64Field(field int32, v uint64, omitEmpty bool) {
	if omitEmpty && v == 0 {
		return
	}
	w.writeVarintField(field, v)
}

// WriteBoolField encodes a bool field unless v is false and omitEmpty is set.
func (w *Writer) WriteBoolField(field int32, v bool, omitEmpty bool) {
	if omitEmpty && !v {
		return
	}
	n := uint64(0)
	if v {
		n = 1
	}
	w.writeVarintField(field, n)
}

// WriteSint32Field encodes a zig-zag signed varint field.
func (w *Writer) WriteSint32Field(field int32, v int32, omitEmpty bool) {
	if omitEmpty && v == 0 {
		return
	}
	w.writeVarintField(field, protowire.EncodeZigZag(int64(v)))
}

// WriteFixed64Field encodes a fixed 64-bit field.
func (w *Writer) WriteFixed64Field(field int32, v uint64, omitEmpty bool) {
	if omitEmpty && v == 0 {
		return
	}
	if !w.checkRoom(protowire.SizeTag(protowire.Number(field)) + protowire.SizeFixed64()) {
		return
	}
	w.buf = protowire.AppendTag(w.buf, protowire.Number(field), protowire.Fixed64Type)
	w.buf = protowire.AppendFixed64(w.buf, v)
}

func (w *Writer) writeVarintField(field int32, v uint64) {
	if !w.checkRoom(protowire.SizeTag(protowire.Number(field)) + protowire.SizeVarint(v)) {
		return
	}
	w.buf = protowire.AppendTag(w.buf, protowire.Number(field), protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, v)
}

// WriteStringField encodes a length-delimited string field. Per spec.md
// §4.1, an empty string is treated as the default and omitted.
func (w *Writer) WriteStringField(field int32, v string) {
	if v == "" {
		return
	}
	w.WriteBytesField(field, []byte(v))
}

// WriteBytesField encodes a length-delimited bytes field. An empty slice is
// omitted, matching the string case.
func (w *Writer) WriteBytesField(field int32, v []byte) {
	if len(v) == 0 {
		return
	}
	if !w.checkRoom(protowire.SizeTag(protowire.Number(field)) + protowire.SizeBytes(len(v))) {
		return
	}
	w.buf = protowire.AppendTag(w.buf, protowire.Number(field), protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, v)
}

// WriteRawMessageField encodes an already-encoded nested message as a
// length-delimited field (used for repeated nested records such as
// BluetoothLERawAdvertisementsResponse's advertisements).
func (w *Writer) WriteRawMessageField(field int32, payload []byte) {
	w.WriteBytesField(field, payload)
}

// Reader decodes a message payload field by field.
type Reader struct {
	buf []byte
	err error
}

// NewReader wraps buf for decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err reports the first decode error encountered.
func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Done reports whether the buffer has been fully consumed (and no error).
func (r *Reader) Done() bool { return r.err == nil && len(r.buf) == 0 }

// ReadTag consumes the next field tag, returning ok=false at end of buffer or
// on error.
func (r *Reader) ReadTag() (field int32, wireType protowire.Type, ok bool) {
	if r.err != nil || len(r.buf) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.buf)
	if n < 0 {
		r.fail(ErrTruncated)
		return 0, 0, false
	}
	r.buf = r.buf[n:]
	return int32(num), typ, true
}

// ReadVarint consumes a raw varint value, enforcing spec.md's group-count
// limit (at most 9 continuation groups, i.e. values below 2^63).
func (r *Reader) ReadVarint() (uint64, bool) {
	if r.err != nil {
		return 0, false
	}
	v, n, err := ConsumeVarintChecked(r.buf)
	if err != nil {
		r.fail(err)
		return 0, false
	}
	r.buf = r.buf[n:]
	return v, true
}

// ConsumeVarintChecked decodes a single varint from the head of b, failing
// with ErrVarintOverflow once more than 9 continuation groups are seen (i.e.
// the value would require 64 or more significant bits) and ErrTruncated if b
// ends before a terminating byte is found.
func ConsumeVarintChecked(b []byte) (v uint64, n int, err error) {
	const maxGroups = 9
	for i := 0; i < len(b) && i < maxGroups; i++ {
		byt := b[i]
		v |= uint64(byt&0x7f) << (7 * uint(i))
		if byt&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	if len(b) <= maxGroups {
		return 0, 0, ErrTruncated
	}
	return 0, 0, ErrVarintOverflow
}

// ReadUint32 consumes a varint and truncates it to uint32.
func (r *Reader) ReadUint32() (uint32, bool) {
	v, ok := r.ReadVarint()
	return uint32(v), ok
}

// ReadBool consumes a varint as a boolean (nonzero == true).
func (r *Reader) ReadBool() (bool, bool) {
	v, ok := r.ReadVarint()
	return v != 0, ok
}

// ReadSint32 consumes a zig-zag encoded signed 32-bit integer.
func (r *Reader) ReadSint32() (int32, bool) {
	v, ok := r.ReadVarint()
	if !ok {
		return 0, false
	}
	return int32(protowire.DecodeZigZag(v)), true
}

// ReadFixed64 consumes a fixed 64-bit value.
func (r *Reader) ReadFixed64() (uint64, bool) {
	if r.err != nil {
		return 0, false
	}
	v, n := protowire.ConsumeFixed64(r.buf)
	if n < 0 {
		r.fail(ErrTruncated)
		return 0, false
	}
	r.buf = r.buf[n:]
	return v, true
}

// ReadBytes consumes a length-delimited field.
func (r *Reader) ReadBytes() ([]byte, bool) {
	if r.err != nil {
		return nil, false
	}
	v, n := protowire.ConsumeBytes(r.buf)
	if n < 0 {
		r.fail(ErrTruncated)
		return nil, false
	}
	r.buf = r.buf[n:]
	return v, true
}

// ReadString consumes a length-delimited field as a string.
func (r *Reader) ReadString() (string, bool) {
	v, ok := r.ReadBytes()
	if !ok {
		return "", false
	}
	return string(v), true
}

// SkipField discards the value of a field whose tag was already read, using
// the wire type carried in the tag's low three bits, per spec.md §4.1.
func (r *Reader) SkipField(field int32, wireType protowire.Type) bool {
	if r.err != nil {
		return false
	}
	n := protowire.ConsumeFieldValue(protowire.Number(field), wireType, r.buf)
	if n < 0 {
		r.fail(ErrTruncated)
		return false
	}
	r.buf = r.buf[n:]
	return true
}
