// Package conn implements the per-connection request/response state
// machine: draining readable bytes into complete request frames,
// dispatching each to the command engine, and draining encoded replies
// back out as the socket becomes writable.
package conn

import (
	"time"

	"golang.org/x/sys/unix"

	ferdis "github.com/behrlich/ferdis-go"
	"github.com/behrlich/ferdis-go/command"
	"github.com/behrlich/ferdis-go/internal/logging"
	"github.com/behrlich/ferdis-go/internal/metrics"
	"github.com/behrlich/ferdis-go/protocol"
)

// State is the connection's place in its request/response cycle.
type State int

const (
	// StateReadingRequest: waiting for (more of) a request frame.
	StateReadingRequest State = iota
	// StateWritingResponse: one or more encoded replies are queued and
	// being drained out to the socket.
	StateWritingResponse
	// StateClosed: the connection is done; the caller should remove it
	// from its descriptor table and close the fd.
	StateClosed
)

// Conn is one client connection's state machine. Not safe for concurrent
// use — the event loop drives a single Conn from a single goroutine.
type Conn struct {
	FD    int
	state State

	readBuf []byte
	readLen int

	writeBuf []byte
	writeLen int
	writeOff int

	bodyBuf []byte // scratch space for one dispatched reply body, before framing

	engine   *command.Engine
	logger   *logging.Logger
	observer metrics.Observer
}

// New wraps fd in a connection state machine backed by engine.
func New(fd int, engine *command.Engine, logger *logging.Logger, observer metrics.Observer) *Conn {
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}
	observer.ObserveConnectionOpened()
	return &Conn{
		FD:       fd,
		state:    StateReadingRequest,
		readBuf:  getBuf(),
		writeBuf: getBuf(),
		engine:   engine,
		logger:   logger,
		observer: observer,
	}
}

// State reports the connection's current state.
func (c *Conn) State() State {
	return c.state
}

// Interest returns the epoll event mask the connection currently wants:
// readable while accumulating a request, writable while draining a
// queued reply.
func (c *Conn) Interest() uint32 {
	switch c.state {
	case StateWritingResponse:
		return unix.EPOLLOUT
	default:
		return unix.EPOLLIN
	}
}

// Release returns the connection's buffers to the shared pool. Call once
// the connection is closed and will not be reused.
func (c *Conn) Release() {
	if c.readBuf != nil {
		putBuf(c.readBuf)
		c.readBuf = nil
	}
	if c.writeBuf != nil {
		putBuf(c.writeBuf)
		c.writeBuf = nil
	}
	c.observer.ObserveConnectionClosed()
}

// HandleReadable is called when epoll reports the fd is readable. It
// reads as much as fits in the read buffer, decodes and dispatches every
// complete frame found (pipelining), and transitions to
// StateWritingResponse if any replies were produced.
func (c *Conn) HandleReadable() {
	for c.readLen < len(c.readBuf) {
		n, err := unix.Read(c.FD, c.readBuf[c.readLen:])
		if err != nil {
			errno, ok := err.(unix.Errno)
			if ok && ferdis.ClassifyErrno(errno) == ferdis.ErrCodeTransientIO {
				if errno == unix.EAGAIN {
					break // no more data right now
				}
				continue // EINTR: retry the read
			}
			c.state = StateClosed
			return
		}
		if n == 0 {
			// Peer closed its write half. Any bytes already buffered
			// still get processed below before the connection closes.
			c.state = StateClosed
			break
		}
		c.readLen += n
		c.observer.ObserveBytesRead(uint64(n))
	}

	c.drainRequests()

	// A peer EOF closes the connection immediately: any reply already
	// queued for an already-processed request is dropped, not flushed.
	if c.state == StateClosed {
		return
	}
	if c.writeLen > 0 {
		c.state = StateWritingResponse
		c.HandleWritable()
	}
}

// drainRequests decodes and dispatches every complete frame currently
// buffered in readBuf, appending each encoded reply to writeBuf and
// compacting readBuf afterward.
func (c *Conn) drainRequests() {
	consumedTotal := 0
	for {
		payload, consumed, err := protocol.DecodeRequest(c.readBuf[consumedTotal:c.readLen])
		if err == protocol.ErrNeedMore {
			break
		}
		if err != nil {
			// Malformed frame: the wire contract is violated, so the
			// connection closes without a reply.
			if c.logger != nil {
				c.logger.Warnf("fd=%d closing on protocol violation: %v", c.FD, err)
			}
			c.state = StateClosed
			break
		}

		c.observer.ObserveFrame()
		start := time.Now()
		c.bodyBuf = c.engine.Dispatch(c.bodyBuf[:0], payload)
		c.writeBuf = protocol.EncodeFrame(c.writeBuf[:c.writeLen], c.bodyBuf)
		c.writeLen = len(c.writeBuf)
		c.observer.ObserveDispatchLatency(uint64(time.Since(start).Nanoseconds()))

		consumedTotal += consumed
	}

	if consumedTotal > 0 {
		remaining := c.readLen - consumedTotal
		copy(c.readBuf, c.readBuf[consumedTotal:c.readLen])
		c.readLen = remaining
	}
}

// HandleWritable is called when epoll reports the fd is writable. It
// drains writeBuf, returning the connection to StateReadingRequest once
// every queued reply has been written.
func (c *Conn) HandleWritable() {
	for c.writeOff < c.writeLen {
		n, err := unix.Write(c.FD, c.writeBuf[c.writeOff:c.writeLen])
		if err != nil {
			errno, ok := err.(unix.Errno)
			if ok && ferdis.ClassifyErrno(errno) == ferdis.ErrCodeTransientIO {
				if errno == unix.EAGAIN {
					return // wait for the next writable event
				}
				continue // EINTR: retry the write
			}
			c.state = StateClosed
			return
		}
		c.writeOff += n
		c.observer.ObserveBytesWritten(uint64(n))
	}

	c.writeLen = 0
	c.writeOff = 0

	if c.state != StateClosed {
		c.state = StateReadingRequest
		// A pipelined request may already be sitting in readBuf from a
		// prior read; process it without waiting for another readable
		// event.
		if c.readLen > 0 {
			c.drainRequests()
			if c.writeLen > 0 {
				c.state = StateWritingResponse
			}
		}
	}
}
