package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.WriteUint32Field(1, 42, false)
	w.WriteBoolField(2, true, false)
	w.WriteSint32Field(3, -17, false)
	w.WriteStringField(4, "hello")
	w.WriteFixed64Field(5, 0xdeadbeef, false)
	require.NoError(t, w.Err())

	r := NewReader(w.Bytes())

	field, _, ok := r.ReadTag()
	require.True(t, ok)
	assert.EqualValues(t, 1, field)
	v, ok := r.ReadUint32()
	require.True(t, ok)
	assert.EqualValues(t, 42, v)

	field, _, ok = r.ReadTag()
	require.True(t, ok)
	assert.EqualValues(t, 2, field)
	b, ok := r.ReadBool()
	require.True(t, ok)
	assert.True(t, b)

	field, _, ok = r.ReadTag()
	require.True(t, ok)
	assert.EqualValues(t, 3, field)
	s32, ok := r.ReadSint32()
	require.True(t, ok)
	assert.EqualValues(t, -17, s32)

	field, _, ok = r.ReadTag()
	require.True(t, ok)
	assert.EqualValues(t, 4, field)
	str, ok := r.ReadString()
	require.True(t, ok)
	assert.Equal(t, "hello", str)

	field, _, ok = r.ReadTag()
	require.True(t, ok)
	assert.EqualValues(t, 5, field)
	f64, ok := r.ReadFixed64()
	require.True(t, ok)
	assert.EqualValues(t, 0xdeadbeef, f64)

	assert.True(t, r.Done())
}

func TestWriterOmitsEmptyFields(t *testing.T) {
	w := NewWriter(16)
	w.WriteUint32Field(1, 0, true)
	w.WriteBoolField(2, false, true)
	w.WriteStringField(3, "")
	w.WriteBytesField(4, nil)
	require.NoError(t, w.Err())
	assert.Empty(t, w.Bytes())
}

func TestWriterStickyErrorOnOverflow(t *testing.T) {
	w := NewWriter(4)
	w.WriteBytesField(1, make([]byte, MaxMessageSize+1))
	assert.ErrorIs(t, w.Err(), ErrBufferExhausted)
	assert.Nil(t, w.Bytes())

	// Subsequent writes are no-ops once sticky.
	w.WriteUint32Field(2, 5, false)
	assert.ErrorIs(t, w.Err(), ErrBufferExhausted)
}

func TestSkipFieldAdvancesPastUnknownType(t *testing.T) {
	w := NewWriter(32)
	w.WriteStringField(9, "skip-me")
	w.WriteUint32Field(1, 7, false)
	require.NoError(t, w.Err())

	r := NewReader(w.Bytes())
	field, wt, ok := r.ReadTag()
	require.True(t, ok)
	assert.EqualValues(t, 9, field)
	require.True(t, r.SkipField(field, wt))

	field, _, ok = r.ReadTag()
	require.True(t, ok)
	assert.EqualValues(t, 1, field)
	v, ok := r.ReadUint32()
	require.True(t, ok)
	assert.EqualValues(t, 7, v)
	assert.True(t, r.Done())
}

func TestConsumeVarintCheckedWithinNineGroups(t *testing.T) {
	// (1<<63)-1 encodes in exactly 9 groups: the maximum value spec.md allows.
	const maxAllowed = uint64(1)<<63 - 1
	w := NewWriter(16)
	w.WriteUint64Field(1, maxAllowed, false)
	require.NoError(t, w.Err())

	r := NewReader(w.Bytes())
	_, _, ok := r.ReadTag()
	require.True(t, ok)
	v, ok := r.ReadVarint()
	require.True(t, ok)
	assert.Equal(t, maxAllowed, v)
}

func TestConsumeVarintCheckedOverflowsPastNineGroups(t *testing.T) {
	// Ten groups, the first nine with the continuation bit 0x80 set and a
	// nonzero tenth: requires
	// 64+ significant bits, which spec.md's stricter decoder must reject even
	// though protowire's own ConsumeVarint would accept it.
	overflowing := []byte{
		0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01,
	}
	_, _, err := ConsumeVarintChecked(overflowing)
	assert.ErrorIs(t, err, ErrVarintOverflow)
}

func TestConsumeVarintCheckedTruncated(t *testing.T) {
	truncated := []byte{0x80, 0x80}
	_, _, err := ConsumeVarintChecked(truncated)
	assert.ErrorIs(t, err, ErrTruncated)
}
