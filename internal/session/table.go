package session

import (
	"errors"
	"net"
	"sync"
)

// Errors returned by Slot and Table operations.
var (
	ErrClosed     = errors.New("session: slot closed")
	ErrShortWrite = errors.New("session: short write")
	ErrTableFull  = errors.New("session: table full")
)

// DefaultCapacity is the default number of concurrent sessions, per spec.md
// §3 ("cap=2 by default").
const DefaultCapacity = 2

// Table is the fixed-capacity slot array of spec.md §3. Slot *membership*
// (which index holds a live connection) is guarded by the table's own lock;
// a slot's interior (receive buffer, state) is touched only by that slot's
// worker goroutine, and its send path is guarded by the slot's own mutex —
// never the table lock, so broadcasting never holds the table lock across a
// socket write (spec.md §5).
type Table struct {
	mu    sync.Mutex
	slots []*Slot
}

// NewTable allocates a table with the given fixed capacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	slots := make([]*Slot, capacity)
	for i := range slots {
		slots[i] = &Slot{ID: i}
	}
	return &Table{slots: slots}
}

// Reserve finds the first empty slot and binds conn to it. It returns
// ErrTableFull if every slot is occupied, in which case the caller must
// close conn immediately without exchanging any frames (spec.md §4.2/§8).
func (t *Table) Reserve(conn net.Conn) (*Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.slots {
		if s.conn == nil {
			s.conn = conn
			s.peer = conn.RemoteAddr().String()
			s.recvBuf = make([]byte, RecvBufferCapacity)
			s.recvLen = 0
			s.SetState(StateConnecting)
			return s, nil
		}
	}
	return nil, ErrTableFull
}

// Release empties slot id, making it available for a future Reserve. The
// slot's connection, if still open, is closed first.
func (t *Table) Release(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) {
		return
	}
	s := t.slots[id]
	s.Close()
}

// ForEach invokes fn for every currently active slot. It copies the set of
// active slots under the table lock, then releases the lock before fn runs,
// so per-slot sends (which acquire each slot's own mutex) never happen while
// the table lock is held.
func (t *Table) ForEach(fn func(*Slot)) {
	t.mu.Lock()
	active := make([]*Slot, 0, len(t.slots))
	for _, s := range t.slots {
		if s.Active() {
			active = append(active, s)
		}
	}
	t.mu.Unlock()

	for _, s := range active {
		fn(s)
	}
}

// Get returns the slot for id, or nil if id is out of range.
func (t *Table) Get(id int) *Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) {
		return nil
	}
	return t.slots[id]
}

// CloseAll closes every active slot's connection, unblocking every worker's
// pending Read, as part of the shutdown sequence in spec.md §5.
func (t *Table) CloseAll() {
	t.mu.Lock()
	slots := append([]*Slot(nil), t.slots...)
	t.mu.Unlock()
	for _, s := range slots {
		s.Close()
	}
}
