package ble

import (
	"errors"
	"time"
)

// Errors from adapter construction and scanner lifecycle, per spec.md §4.4.
var (
	// ErrScannerUnavailable means the platform adapter failed to
	// construct; the owning component stays alive so it can still answer
	// subscribe messages with a logged failure.
	ErrScannerUnavailable = errors.New("ble: scanner unavailable")

	// ErrScannerAlreadyRunning is internal and treated as success by
	// callers (starting an already-running scanner is a no-op).
	ErrScannerAlreadyRunning = errors.New("ble: scanner already running")
)

// Adapter is the platform-specific BLE event source, abstracted per spec.md
// §9's "multiple overlapping BLE adapters → interface abstraction" design
// note. Exactly one implementation (internal/ble/dbusadapter or
// internal/ble/hciadapter) is selected at build/configuration time.
type Adapter interface {
	// Start begins scanning. Starting an already-started adapter is a
	// no-op.
	Start() error
	// Stop ends scanning. Stopping an adapter that was not started is a
	// no-op.
	Stop() error
	// Next blocks for up to timeout waiting for the next advertisement
	// event, returning ok=false on timeout or after Stop.
	Next(timeout time.Duration) (rec Record, ok bool)
	// Name identifies the adapter for logging.
	Name() string
}
