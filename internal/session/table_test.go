package session

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestTableReserveFillsFirstEmptySlot(t *testing.T) {
	table := NewTable(2)
	client, _ := pipePair(t)

	slot, err := table.Reserve(client)
	require.NoError(t, err)
	assert.Equal(t, 0, slot.ID)
	assert.True(t, slot.Active())
}

func TestTableReserveFailsWhenFull(t *testing.T) {
	table := NewTable(1)
	c1, _ := pipePair(t)
	c2, _ := pipePair(t)

	_, err := table.Reserve(c1)
	require.NoError(t, err)

	_, err = table.Reserve(c2)
	assert.ErrorIs(t, err, ErrTableFull)
}

func TestTableReleaseFreesSlotForReuse(t *testing.T) {
	table := NewTable(1)
	c1, _ := pipePair(t)
	slot, err := table.Reserve(c1)
	require.NoError(t, err)

	table.Release(slot.ID)
	assert.False(t, slot.Active())

	c2, _ := pipePair(t)
	_, err = table.Reserve(c2)
	assert.NoError(t, err)
}

func TestTableCloseAllClosesEveryActiveSlot(t *testing.T) {
	table := NewTable(2)
	c1, _ := pipePair(t)
	c2, _ := pipePair(t)
	s1, err := table.Reserve(c1)
	require.NoError(t, err)
	s2, err := table.Reserve(c2)
	require.NoError(t, err)

	table.CloseAll()
	assert.False(t, s1.Active())
	assert.False(t, s2.Active())
}

func TestTableForEachOnlyVisitsActiveSlots(t *testing.T) {
	table := NewTable(2)
	c1, _ := pipePair(t)
	_, err := table.Reserve(c1)
	require.NoError(t, err)

	var visited int
	table.ForEach(func(s *Slot) { visited++ })
	assert.Equal(t, 1, visited)
}

func TestTableGetReturnsNilOutOfRange(t *testing.T) {
	table := NewTable(1)
	assert.Nil(t, table.Get(-1))
	assert.Nil(t, table.Get(5))
}

func TestSlotRecvCompactShiftsPartialFrameToFront(t *testing.T) {
	c1, _ := pipePair(t)
	table := NewTable(1)
	slot, err := table.Reserve(c1)
	require.NoError(t, err)

	copy(slot.RecvTail(), []byte("AAABBB"))
	slot.RecvAdvance(6)

	slot.RecvCompact(3)
	assert.Equal(t, []byte("BBB"), slot.RecvBuffered())
}

func TestSlotSendFailsAfterClose(t *testing.T) {
	c1, _ := pipePair(t)
	table := NewTable(1)
	slot, err := table.Reserve(c1)
	require.NoError(t, err)

	slot.Close()
	err = slot.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}
