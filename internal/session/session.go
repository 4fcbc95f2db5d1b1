// Package session implements the per-connection state and the fixed-capacity
// slot table described in spec.md §3/§4.2/§5. It owns socket plumbing only —
// request dispatch and component wiring live in internal/gateway.
package session

import (
	"net"
	"sync"
	"sync/atomic"
)

// State is a session's position in the handshake state machine of spec.md
// §4.2.
type State int32

const (
	StateConnecting State = iota
	StateHelloAcked
	StateAuthenticated
)

// RecvBufferCapacity is the minimum capacity of a session's receive buffer,
// per spec.md §4.2 ("capacity ≥ 4 KiB").
const RecvBufferCapacity = 4096

// Slot is one entry of the session table: a socket handle, the send mutex
// that serializes every outbound frame on it, and the receive buffer that
// only this slot's worker goroutine touches.
type Slot struct {
	ID    int
	state atomic.Int32

	sendMu sync.Mutex
	conn   net.Conn // nil when the slot is empty

	peer string

	// recvBuf is owned exclusively by the worker goroutine reading this
	// slot's socket; nothing else may touch it, per spec.md §5's
	// owned-by-worker discipline.
	recvBuf []byte
	recvLen int
}

// State returns the slot's current handshake state.
func (s *Slot) State() State { return State(s.state.Load()) }

// SetState advances the slot's handshake state.
func (s *Slot) SetState(st State) { s.state.Store(int32(st)) }

// Peer returns the remote address string captured at accept time.
func (s *Slot) Peer() string { return s.peer }

// Active reports whether the slot currently holds a live connection.
func (s *Slot) Active() bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn != nil
}

// Send writes frameBytes atomically with respect to every other Send call on
// this slot. A short write is treated as fatal for the session, per spec.md
// §4.2/§7: the slot is closed and ErrShortWrite is returned. A write error
// also closes the slot and is returned as is.
func (s *Slot) Send(frameBytes []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.conn == nil {
		return ErrClosed
	}
	n, err := s.conn.Write(frameBytes)
	if err != nil {
		s.closeLocked()
		return err
	}
	if n != len(frameBytes) {
		s.closeLocked()
		return ErrShortWrite
	}
	return nil
}

// Close shuts down the slot's connection, unblocking its worker's pending
// Read. Safe to call multiple times and concurrently with Send.
func (s *Slot) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.closeLocked()
}

func (s *Slot) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// conn returns the underlying net.Conn for the worker's Read loop. Only the
// worker goroutine that owns this slot may call it.
func (s *Slot) Conn() net.Conn { return s.conn }

// RecvTail returns the writable tail of the receive buffer, growing it if
// necessary, so the worker can Read into it directly.
func (s *Slot) RecvTail() []byte {
	if cap(s.recvBuf)-s.recvLen < 2048 {
		grown := make([]byte, len(s.recvBuf), cap(s.recvBuf)*2+RecvBufferCapacity)
		copy(grown, s.recvBuf[:s.recvLen])
		s.recvBuf = grown
	}
	return s.recvBuf[s.recvLen:cap(s.recvBuf)]
}

// RecvAdvance records that n additional bytes were read into the tail
// returned by RecvTail.
func (s *Slot) RecvAdvance(n int) { s.recvLen += n }

// RecvBuffered returns the currently buffered, not-yet-consumed bytes.
func (s *Slot) RecvBuffered() []byte { return s.recvBuf[:s.recvLen] }

// RecvCompact discards the first n consumed bytes, shifting any remaining
// (partial, trailing) frame left to the front of the buffer, per spec.md
// §4.2 step 2.
func (s *Slot) RecvCompact(n int) {
	remaining := s.recvLen - n
	copy(s.recvBuf, s.recvBuf[n:s.recvLen])
	s.recvLen = remaining
}
