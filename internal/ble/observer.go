package ble

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/espgw/internal/frame"
	"github.com/srg/espgw/internal/groutine"
	"github.com/srg/espgw/internal/wire"
)

// pollTimeout bounds how long the event-pump goroutine blocks on
// Adapter.Next between checks of the stop signal.
const pollTimeout = 200 * time.Millisecond

// BroadcastFunc sends an already-framed message to every subscribed client.
// The observer never imports the gateway package, so it is handed this
// callback instead (see internal/component's ServerFacade for the same
// decoupling over the component boundary).
type BroadcastFunc func(payload []byte) error

// Observer drives an Adapter + Cache pair through the enable/disable
// contract and periodic batching loop of spec.md §4.4: the scanner is not
// started at boot, starts on the first subscribe and stops on the matching
// unsubscribe, and — while running — a fixed-period batcher cleans stale
// entries, drains the cache into bounded batches, and broadcasts each one.
type Observer struct {
	adapter      Adapter
	cache        *Cache
	broadcast    BroadcastFunc
	log          *logrus.Logger
	tickInterval time.Duration
	eagerFlush   bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewObserver constructs an Observer. tickInterval is the periodic flush
// period (10s for the system-bus adapter, 100ms for the HCI adapter's
// batching thread per spec.md §4.4). eagerFlush additionally triggers an
// out-of-band flush as soon as the cache reaches BatchCapacity, which the
// HCI adapter uses to avoid unbounded eviction churn between ticks.
func NewObserver(adapter Adapter, broadcast BroadcastFunc, log *logrus.Logger, tickInterval time.Duration, eagerFlush bool) *Observer {
	return &Observer{
		adapter:      adapter,
		cache:        NewCache(),
		broadcast:    broadcast,
		log:          log,
		tickInterval: tickInterval,
		eagerFlush:   eagerFlush,
	}
}

// Start begins scanning. Starting an already-running observer is a no-op,
// matching spec.md §4.4's idempotent enable contract.
func (o *Observer) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}
	if err := o.adapter.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.running = true

	o.wg.Add(2)
	groutine.Go(ctx, "ble-observer-pump-"+o.adapter.Name(), func(ctx context.Context) {
		defer o.wg.Done()
		o.pump(ctx)
	})
	groutine.Go(ctx, "ble-observer-batcher-"+o.adapter.Name(), func(ctx context.Context) {
		defer o.wg.Done()
		o.batchLoop(ctx)
	})
	return nil
}

// Stop ends scanning and blocks until both internal goroutines have exited.
// Stopping an observer that was not started is a no-op.
func (o *Observer) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	err := o.adapter.Stop()
	o.wg.Wait()
	return err
}

// pump pulls advertisement events off the adapter and merges them into the
// cache, optionally triggering an eager flush once the cache fills.
func (o *Observer) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, ok := o.adapter.Next(pollTimeout)
		if !ok {
			continue
		}
		o.cache.Observe(rec, time.Now())

		if o.eagerFlush && o.cache.Len() >= BatchCapacity {
			o.flush(time.Now())
		}
	}
}

// batchLoop runs the fixed-period flush: clean stale entries, drain the
// cache, broadcast every batch.
func (o *Observer) batchLoop(ctx context.Context) {
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.flush(now)
		}
	}
}

// flush is the single tick body shared by the periodic ticker and eager
// flush: clean stale entries, snapshot, drain into batches, broadcast each.
func (o *Observer) flush(now time.Time) {
	o.cache.CleanStale(now)
	records := o.cache.Snapshot()
	for _, batch := range Drain(records) {
		payload, err := wire.BluetoothLERawAdvertisementsResponse{
			Advertisements: toWireAdvertisements(batch),
		}.Encode()
		if err != nil {
			o.log.WithError(err).Error("ble: encode advertisement batch")
			continue
		}
		framed, err := frame.Encode(wire.TypeBluetoothLERawAdvertisementsResponse, payload)
		if err != nil {
			o.log.WithError(err).Error("ble: frame advertisement batch")
			continue
		}
		if err := o.broadcast(framed); err != nil {
			o.log.WithError(err).Warn("ble: broadcast advertisement batch")
		}
	}
}

func toWireAdvertisements(records []Record) []wire.BLEAdvertisement {
	out := make([]wire.BLEAdvertisement, len(records))
	for i, rec := range records {
		out[i] = wire.BLEAdvertisement{
			Address:     macToUint64(rec.MAC),
			RSSI:        rec.RSSI,
			AddressType: uint32(rec.AddressType),
			Data:        rec.Data,
		}
	}
	return out
}

// macToUint64 packs a 6-byte MAC into the low 48 bits of a uint64, byte0
// (the MAC's first octet) most significant, matching ESPHome's native
// representation of BLE addresses.
func macToUint64(mac [6]byte) uint64 {
	var buf [8]byte
	copy(buf[2:], mac[:])
	return binary.BigEndian.Uint64(buf[:])
}
