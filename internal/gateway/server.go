// Package gateway implements the TCP listener, session worker, and request
// dispatch of spec.md §4.2/§5: the ESPHome Native API server itself. It is
// the only package that imports both internal/session and
// internal/component, since it is the concrete ServerFacade the latter's
// components call back into.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srg/espgw/internal/component"
	"github.com/srg/espgw/internal/config"
	"github.com/srg/espgw/internal/frame"
	"github.com/srg/espgw/internal/groutine"
	"github.com/srg/espgw/internal/session"
)

// ListenAddress is the fixed bind address, spec.md §6.
const ListenAddress = "0.0.0.0:6053"

// APIVersionMajor/APIVersionMinor are the protocol version advertised in
// HelloRes, spec.md §4.2.
const (
	APIVersionMajor = 1
	APIVersionMinor = 12
)

// Server owns the listening socket, the session table, and the component
// registry, and implements component.ServerFacade for the registry's
// components to call back into.
type Server struct {
	cfg      *config.DeviceConfig
	registry *component.Registry
	log      *logrus.Logger
	table    *session.Table

	ln net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer constructs a Server. Registered components are not initialized
// until Start.
func NewServer(cfg *config.DeviceConfig, registry *component.Registry, log *logrus.Logger, tableCapacity int) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		log:      log,
		table:    session.NewTable(tableCapacity),
	}
}

// Start binds the listener, spawns the accept loop, and initializes every
// registered component, per spec.md §4.3 ("after the listener is live").
func (s *Server) Start() error {
	lc := net.ListenConfig{Control: controlReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", ListenAddress)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", ListenAddress, err)
	}
	s.ln = ln

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.registry.InitAll(s, s.cfg)

	s.wg.Add(1)
	groutine.Go(s.ctx, "gateway-listener", func(ctx context.Context) {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	})

	s.log.WithField("addr", ListenAddress).Info("gateway: listening")
	return nil
}

// Stop runs the shutdown sequence of spec.md §5: stop accepting, close
// every session socket, join workers, clean up components.
func (s *Server) Stop() {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.table.CloseAll()
	s.wg.Wait()
	s.registry.CleanupAll()
	s.log.Info("gateway: stopped")
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Warn("gateway: accept")
			continue
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		slot, err := s.table.Reserve(conn)
		if err != nil {
			s.log.WithField("peer", conn.RemoteAddr().String()).Warn("gateway: table full, refusing connection")
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		groutine.Go(ctx, fmt.Sprintf("gateway-worker-%d", slot.ID), func(ctx context.Context) {
			defer s.wg.Done()
			s.workerLoop(ctx, slot)
		})
	}
}

// workerLoop is the per-session receive/dispatch/compact cycle of spec.md
// §4.2.
func (s *Server) workerLoop(ctx context.Context, slot *session.Slot) {
	defer s.table.Release(slot.ID)

	for {
		n, err := slot.Conn().Read(slot.RecvTail())
		if err != nil || n == 0 {
			return
		}
		slot.RecvAdvance(n)

		for {
			buf := slot.RecvBuffered()
			msgType, payload, consumed, err := frame.Decode(buf)
			if err != nil {
				if errors.Is(err, frame.ErrTruncatedHeader) {
					break // partial trailing frame, wait for more bytes
				}
				s.log.WithField("peer", slot.Peer()).WithError(err).Warn("gateway: protocol error, dropping session")
				return
			}
			s.dispatch(slot, msgType, payload)
			if !slot.Active() {
				// dispatch closed the slot (e.g. DisconnectRequest or a bad
				// Hello/Connect payload); its conn is now nil, so the outer
				// loop must not re-enter slot.Conn().Read.
				return
			}
			slot.RecvCompact(consumed)
		}
	}
}

// controlReuseAddr sets SO_REUSEADDR on the listening socket before bind,
// per spec.md §4.2.
func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
