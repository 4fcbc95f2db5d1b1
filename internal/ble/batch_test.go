package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{MAC: mac(byte(i))}
	}
	return out
}

func TestDrainEmptyInput(t *testing.T) {
	assert.Nil(t, Drain(nil))
}

func TestDrainSingleBatchWhenUnderCapacity(t *testing.T) {
	batches := Drain(records(BatchCapacity - 1))
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], BatchCapacity-1)
}

func TestDrainSplitsExactMultipleIntoEvenBatches(t *testing.T) {
	batches := Drain(records(BatchCapacity * 3))
	require.Len(t, batches, 3)
	for _, b := range batches {
		assert.Len(t, b, BatchCapacity)
	}
}

func TestDrainCoversEveryEntryExactlyOnce(t *testing.T) {
	all := records(BatchCapacity*2 + 5)
	batches := Drain(all)
	require.Len(t, batches, 3)

	seen := map[[6]byte]int{}
	for _, b := range batches {
		for _, rec := range b {
			seen[rec.MAC]++
		}
	}
	assert.Len(t, seen, len(all))
	for mac, count := range seen {
		assert.Equalf(t, 1, count, "mac %v should appear exactly once", mac)
	}
}
