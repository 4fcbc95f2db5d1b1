package ble

import (
	"sync/atomic"
	"time"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest
// semantics, adapted from the teacher repo's internal/lua.RingChannel[T]. It
// bridges a BLE library's push-style scan callback into the pull-style
// Adapter.Next(timeout) this package's adapters expose: producers (the
// library's callback goroutine) never block indefinitely, and a consumer
// can poll with a timeout via Receive.
type RingChannel struct {
	ch      chan Record
	metrics ringMetrics
}

// NewRingChannel returns a RingChannel buffering up to capacity records.
func NewRingChannel(capacity int) *RingChannel {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingChannel{ch: make(chan Record, capacity)}
}

// Send inserts rec, discarding the oldest buffered record if full. It never
// blocks.
func (rc *RingChannel) Send(rec Record) {
	select {
	case rc.ch <- rec:
		rc.metrics.addWritten(1)
	default:
		select {
		case <-rc.ch:
			rc.metrics.addOverwritten(1)
		default:
		}
		select {
		case rc.ch <- rec:
			rc.metrics.addWritten(1)
		default:
		}
	}
}

// Receive blocks for up to timeout waiting for the next record.
func (rc *RingChannel) Receive(timeout time.Duration) (Record, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case rec, ok := <-rc.ch:
		return rec, ok
	case <-t.C:
		return Record{}, false
	}
}

// C returns the underlying receive channel.
func (rc *RingChannel) C() <-chan Record { return rc.ch }

// Close closes the underlying channel. Send after Close panics.
func (rc *RingChannel) Close() { close(rc.ch) }

type ringMetrics struct {
	Written     int64
	Overwritten int64
}

func (m *ringMetrics) addWritten(n int)     { atomic.AddInt64(&m.Written, int64(n)) }
func (m *ringMetrics) addOverwritten(n int) { atomic.AddInt64(&m.Overwritten, int64(n)) }
