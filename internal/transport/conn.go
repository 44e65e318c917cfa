package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInterrupted is returned by Wait when Interrupt was called.
	ErrInterrupted = errors.New("wait interrupted")

	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("connection closed")
)

// Conn is a registered connection to the message bus.
//
// Wait, Read and Write are called from the single session goroutine.
// Interrupt may be called from any goroutine.
type Conn interface {
	// Wait blocks until the socket is readable or timeout elapses. It
	// returns false on timeout. A hang-up is reported as readable so that
	// the following Read observes it.
	Wait(timeout time.Duration) (bool, error)

	// Read performs one read into p. A zero-length result means the peer
	// closed or p was empty.
	Read(p []byte) (int, error)

	// Write sends one complete telegram.
	Write(p []byte) (int, error)

	// Interrupt wakes a blocked or future Wait with ErrInterrupted.
	Interrupt()

	// Close deregisters from the bus and releases the socket.
	Close() error
}

// Registrar opens registered bus connections. The session's connection
// manager depends on this interface so tests can substitute a fake bus.
type Registrar interface {
	Register(ctx context.Context, oids *OIDSet) (Conn, error)
}
