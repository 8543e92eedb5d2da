// Package server implements the single-threaded, readiness-driven event
// loop: one epoll instance multiplexing the listening socket and every
// accepted connection, with no blocking I/O anywhere in the hot path.
package server

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	ferdis "github.com/behrlich/ferdis-go"
	"github.com/behrlich/ferdis-go/command"
	"github.com/behrlich/ferdis-go/conn"
	"github.com/behrlich/ferdis-go/internal/logging"
	"github.com/behrlich/ferdis-go/internal/metrics"
)

const (
	listenBacklog = 128
	maxEvents     = 256
	// pollTimeoutMs bounds each EpollWait call so Run can notice context
	// cancellation without a dedicated wakeup fd.
	pollTimeoutMs = 200
)

// Server owns the listening socket, the epoll instance multiplexing it
// with every accepted connection, and the command engine those
// connections dispatch against.
type Server struct {
	addr     string
	listenFD int
	epollFD  int
	conns    map[int]*conn.Conn

	engine   *command.Engine
	logger   *logging.Logger
	observer metrics.Observer
}

// New creates a server that will listen on addr (host:port) once Run is
// called. engine is shared read-write across every connection; callers
// must not mutate engine.Dict concurrently from outside the server.
func New(addr string, engine *command.Engine, logger *logging.Logger, observer metrics.Observer) *Server {
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}
	return &Server{
		addr:     addr,
		listenFD: -1,
		epollFD:  -1,
		conns:    make(map[int]*conn.Conn),
		engine:   engine,
		logger:   logger,
		observer: observer,
	}
}

// Run binds the listening socket and drives the event loop until ctx is
// canceled or an unrecoverable error occurs. On return every connection
// and the listening socket are closed.
func (s *Server) Run(ctx context.Context) error {
	if err := s.listen(); err != nil {
		return ferdis.WrapError("listen", -1, err)
	}
	defer s.closeAll()

	epollFD, err := unix.EpollCreate1(0)
	if err != nil {
		return ferdis.NewErrnoError("epoll_create1", -1, err.(unix.Errno))
	}
	s.epollFD = epollFD

	if err := s.epollAdd(s.listenFD, unix.EPOLLIN); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Infof("listening on %s (fd=%d)", s.addr, s.listenFD)
	}

	events := make([]unix.EpollEvent, maxEvents)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.EpollWait(s.epollFD, events, pollTimeoutMs)
		if err != nil {
			errno, ok := err.(unix.Errno)
			if ok && errno == unix.EINTR {
				continue
			}
			return ferdis.NewErrnoError("epoll_wait", s.epollFD, errno)
		}

		// The listening socket is a member of the very same EpollWait
		// batch as every connection fd, so its readiness is never a
		// stale record from a previous call: a connect arriving this
		// iteration is observed this iteration. Accepts run after every
		// ready connection in the batch has had its turn.
		listenerReady := false
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)

			if fd == s.listenFD {
				listenerReady = true
				continue
			}

			s.handleConnEvent(fd, ev.Events)
		}
		if listenerReady {
			s.acceptAll()
		}
	}
}

// listen creates, binds, and starts listening on the server's address.
func (s *Server) listen() error {
	ip, port, err := splitHostPort(s.addr)
	if err != nil {
		return err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("set nonblock: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}

	s.listenFD = fd
	return nil
}

// acceptAll drains every pending connection from the listen backlog:
// accept4 is called in a loop until it returns EAGAIN, matching the
// edge-triggered-safe pattern of reading a readiness notification to
// exhaustion before waiting for the next one.
func (s *Server) acceptAll() {
	for {
		fd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			errno, ok := err.(unix.Errno)
			if ok && (errno == unix.EAGAIN || errno == unix.EINTR) {
				return
			}
			if s.logger != nil {
				s.logger.Warnf("accept4 failed: %v", err)
			}
			return
		}

		c := conn.New(fd, s.engine, s.logger, s.observer)
		s.conns[fd] = c
		if err := s.epollAdd(fd, c.Interest()); err != nil {
			if s.logger != nil {
				s.logger.Warnf("fd=%d epoll_ctl add failed: %v", fd, err)
			}
			s.closeConn(fd)
		}
	}
}

// handleConnEvent drives one connection's state machine in response to
// an epoll readiness notification, then either updates its epoll
// interest or removes it if it closed.
func (s *Server) handleConnEvent(fd int, events uint32) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}

	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		s.closeConn(fd)
		return
	}

	if events&unix.EPOLLIN != 0 {
		c.HandleReadable()
	}
	if c.State() != conn.StateClosed && events&unix.EPOLLOUT != 0 {
		c.HandleWritable()
	}

	if c.State() == conn.StateClosed {
		s.closeConn(fd)
		return
	}

	if err := s.epollMod(fd, c.Interest()); err != nil && s.logger != nil {
		s.logger.Warnf("fd=%d epoll_ctl mod failed: %v", fd, err)
	}
}

func (s *Server) closeConn(fd int) {
	if c, ok := s.conns[fd]; ok {
		c.Release()
		delete(s.conns, fd)
	}
	unix.EpollCtl(s.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
}

func (s *Server) closeAll() {
	for fd := range s.conns {
		s.closeConn(fd)
	}
	if s.listenFD >= 0 {
		unix.Close(s.listenFD)
		s.listenFD = -1
	}
	if s.epollFD >= 0 {
		unix.Close(s.epollFD)
		s.epollFD = -1
	}
}

func (s *Server) epollAdd(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epollFD, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return ferdis.NewErrnoError("epoll_ctl_add", fd, err.(unix.Errno))
	}
	return nil
}

func (s *Server) epollMod(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epollFD, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return ferdis.NewErrnoError("epoll_ctl_mod", fd, err.(unix.Errno))
	}
	return nil
}
