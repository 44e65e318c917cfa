package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/insys-icom/mcip-tool/internal/telegram"
)

// DefaultBusSocket is the well-known path of the local message bus.
const DefaultBusSocket = "/devices/mcip.socket"

// BusDialer registers with the message bus listening on a Unix socket.
type BusDialer struct {
	Path string
	Log  *slog.Logger
}

// Register connects to the bus socket and registers every identifier in
// oids as a receiver. The returned Conn deregisters on Close.
func (d BusDialer) Register(ctx context.Context, oids *OIDSet) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("bus socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: d.Path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", d.Path, err)
	}

	c, err := newBusConn(fd, oids.Primary())
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	reg, err := telegram.Encode(telegram.Header{
		Destination: telegram.OIDBus,
		Source:      oids.Primary(),
		Command:     telegram.CmdRegister,
	}, telegram.EncodeOIDs(oids.IDs()))
	if err != nil {
		c.release()
		return nil, fmt.Errorf("encode registration: %w", err)
	}
	if _, err := c.Write(reg); err != nil {
		c.release()
		return nil, fmt.Errorf("send registration: %w", err)
	}

	if d.Log != nil {
		d.Log.Debug("registered", "socket", d.Path, "oids", oids.String())
	}
	return c, nil
}

// busConn is a registered bus socket driven by poll(2). A non-blocking pipe
// is polled alongside the socket so Interrupt can end a Wait early.
type busConn struct {
	fd     int
	source uint16

	mu          sync.Mutex // guards the fields below against Interrupt/Close races
	wakeR       int
	wakeW       int
	interrupted bool
	closed      bool
}

func newBusConn(fd int, source uint16) (*busConn, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	return &busConn{fd: fd, source: source, wakeR: p[0], wakeW: p[1]}, nil
}

func (c *busConn) Wait(timeout time.Duration) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	wakeR := c.wakeR
	c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		fds := []unix.PollFd{
			{Fd: int32(c.fd), Events: unix.POLLIN},
			{Fd: int32(wakeR), Events: unix.POLLIN},
		}
		remaining := time.Until(deadline)
		ms := 0
		if remaining > 0 {
			ms = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		count, err := unix.Poll(fds, ms)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return false, fmt.Errorf("poll bus socket: %w", err)
		}
		if fds[1].Revents != 0 {
			return false, ErrInterrupted
		}
		if count == 0 {
			return false, nil
		}

		ev := fds[0].Revents
		if ev&unix.POLLNVAL != 0 {
			return false, ErrClosed
		}
		if ev&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return true, nil
		}
	}
}

func (c *busConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read bus socket: %w", err)
		}
		return max(n, 0), nil
	}
}

func (c *busConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("write bus socket: %w", err)
		}
		written += n
	}
	return written, nil
}

func (c *busConn) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.interrupted {
		return
	}
	c.interrupted = true
	unix.Write(c.wakeW, []byte{1})
}

// Close sends a best-effort deregistration and releases all descriptors.
func (c *busConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// The peer may already be gone; deregistration is advisory.
	if dereg, err := telegram.Encode(telegram.Header{
		Destination: telegram.OIDBus,
		Source:      c.source,
		Command:     telegram.CmdDeregister,
	}, nil); err == nil {
		c.Write(dereg)
	}
	return c.release()
}

func (c *busConn) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	unix.Close(c.wakeR)
	unix.Close(c.wakeW)
	return unix.Close(c.fd)
}
