package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/insys-icom/mcip-tool/internal/clock"
	"github.com/insys-icom/mcip-tool/internal/transport"
)

var (
	// ErrRegistration means the bus refused or could not be reached. Fatal.
	ErrRegistration = errors.New("failed to register to MCIP")

	// ErrReadFailure means a read returned an error or no bytes. The session
	// recovers from it by reconnecting.
	ErrReadFailure = errors.New("failed to read from MCIP")

	// ErrReconnectLimit means Backoff.MaxAttempts consecutive read failures
	// happened without any byte being received in between.
	ErrReconnectLimit = errors.New("reconnect attempt limit reached")
)

// Backoff is the delay policy between a read failure and the next
// registration.
type Backoff struct {
	// InitialDelay is waited before the second consecutive attempt. The
	// first attempt after a failure is immediate.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the delay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier grows the delay per consecutive attempt.
	Multiplier float64 `yaml:"multiplier"`

	// MaxAttempts bounds consecutive attempts. Zero retries forever.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultBackoff retries immediately once, then waits 100ms doubling up to 5s.
var DefaultBackoff = Backoff{
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2,
}

// Delay returns how long to wait before consecutive attempt number attempt
// (starting at 1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 || b.InitialDelay <= 0 {
		return 0
	}
	d := float64(b.InitialDelay)
	mult := max(b.Multiplier, 1)
	for i := 2; i < attempt; i++ {
		d *= mult
		if b.MaxDelay > 0 && d >= float64(b.MaxDelay) {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && time.Duration(d) > b.MaxDelay {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// Manager owns the bus connection for one session. Reconnect always closes
// the failed connection completely before registering again with the same
// identifier set; nothing from the old connection is reused.
type Manager struct {
	registrar transport.Registrar
	oids      *transport.OIDSet
	backoff   Backoff
	clock     clock.Clock
	log       *slog.Logger

	mu          sync.Mutex // guards conn and interrupted against Interrupt from another goroutine
	conn        transport.Conn
	interrupted bool
	attempts    int // consecutive reconnects without a successful read
	total       int
}

// NewManager creates a manager. A nil clock means clock.Real().
func NewManager(reg transport.Registrar, oids *transport.OIDSet, backoff Backoff, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &Manager{
		registrar: reg,
		oids:      oids,
		backoff:   backoff,
		clock:     clk,
		log:       logger,
	}
}

// Open registers with the bus. Failure is wrapped in ErrRegistration.
func (m *Manager) Open(ctx context.Context) (transport.Conn, error) {
	conn, err := m.registrar.Register(ctx, m.oids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	m.mu.Lock()
	m.conn = conn
	if m.interrupted {
		conn.Interrupt()
	}
	m.mu.Unlock()
	return conn, nil
}

// Reconnect tears down the current connection, waits according to the
// backoff policy and registers again.
func (m *Manager) Reconnect(ctx context.Context, cause error) (transport.Conn, error) {
	m.Close()

	m.attempts++
	m.total++
	if m.backoff.MaxAttempts > 0 && m.attempts > m.backoff.MaxAttempts {
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrReconnectLimit, m.backoff.MaxAttempts, cause)
	}

	delay := m.backoff.Delay(m.attempts)
	m.log.Warn("reconnecting to MCIP", "err", cause, "attempt", m.attempts, "delay", delay)
	select {
	case <-m.clock.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.Open(ctx)
}

// Progress records that the current connection delivered data, which
// resets the consecutive attempt counter.
func (m *Manager) Progress() {
	m.attempts = 0
}

// Attempts returns the number of consecutive reconnects since the last
// successful read.
func (m *Manager) Attempts() int {
	return m.attempts
}

// Reconnects returns the total number of reconnects.
func (m *Manager) Reconnects() int {
	return m.total
}

// Interrupt wakes a Wait on the current connection and on every connection
// opened afterwards. Safe to call from any goroutine.
func (m *Manager) Interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupted = true
	if m.conn != nil {
		m.conn.Interrupt()
	}
}

// Close deregisters and releases the current connection, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			m.log.Debug("close bus connection", "err", err)
		}
	}
}
