package ble

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a test double satisfying Adapter: Start/Stop just count
// calls, and Next pulls from an internal channel so a test can feed events on
// its own schedule.
type fakeAdapter struct {
	mu         sync.Mutex
	startCount int
	stopCount  int
	events     chan Record
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{events: make(chan Record, 256)}
}

func (f *fakeAdapter) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCount++
	return nil
}

func (f *fakeAdapter) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCount++
	return nil
}

func (f *fakeAdapter) Next(timeout time.Duration) (Record, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case rec, ok := <-f.events:
		return rec, ok
	case <-t.C:
		return Record{}, false
	}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) push(rec Record) { f.events <- rec }

func (f *fakeAdapter) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCount
}

func (f *fakeAdapter) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCount
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestObserverStartIsIdempotent(t *testing.T) {
	adapter := newFakeAdapter()
	o := NewObserver(adapter, func([]byte) error { return nil }, quietLogger(), time.Hour, false)

	require.NoError(t, o.Start())
	require.NoError(t, o.Start())
	assert.Equal(t, 1, adapter.starts())

	require.NoError(t, o.Stop())
}

func TestObserverStopIsIdempotent(t *testing.T) {
	adapter := newFakeAdapter()
	o := NewObserver(adapter, func([]byte) error { return nil }, quietLogger(), time.Hour, false)

	require.NoError(t, o.Start())
	require.NoError(t, o.Stop())
	require.NoError(t, o.Stop())
	assert.Equal(t, 1, adapter.stops())
}

func TestObserverStopWithoutStartIsNoop(t *testing.T) {
	adapter := newFakeAdapter()
	o := NewObserver(adapter, func([]byte) error { return nil }, quietLogger(), time.Hour, false)

	require.NoError(t, o.Stop())
	assert.Equal(t, 0, adapter.stops())
}

func TestObserverEagerFlushTriggersAtBatchCapacity(t *testing.T) {
	adapter := newFakeAdapter()
	var broadcasts int32
	broadcast := func(payload []byte) error {
		atomic.AddInt32(&broadcasts, 1)
		return nil
	}
	// tickInterval is long enough that only the eager flush path can fire.
	o := NewObserver(adapter, broadcast, quietLogger(), time.Hour, true)
	require.NoError(t, o.Start())
	defer o.Stop()

	for i := 0; i < BatchCapacity; i++ {
		adapter.push(Record{MAC: mac(byte(i)), RSSI: -50})
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&broadcasts) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestObserverPeriodicTickFlushesNonEmptyCache(t *testing.T) {
	adapter := newFakeAdapter()
	var broadcasts int32
	broadcast := func(payload []byte) error {
		atomic.AddInt32(&broadcasts, 1)
		return nil
	}
	o := NewObserver(adapter, broadcast, quietLogger(), 20*time.Millisecond, false)
	require.NoError(t, o.Start())
	defer o.Stop()

	adapter.push(Record{MAC: mac(1), RSSI: -70})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&broadcasts) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
