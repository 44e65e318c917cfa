package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/insys-icom/mcip-tool/internal/telegram"
	"github.com/insys-icom/mcip-tool/internal/transport"
)

// DefaultPollTimeout bounds each wait for socket readiness.
const DefaultPollTimeout = 10 * time.Second

// errBufferFull is the read-failure cause when the reassembly buffer has no
// space left, which only happens when a telegram declares more than
// telegram.MaxSize bytes.
var errBufferFull = errors.New("reassembly buffer full")

// discardHandler is a no-op slog handler used when no logger is supplied.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Emitter receives every accepted telegram.
type Emitter interface {
	Emit(f telegram.Frame, payload []byte) error
}

// Config holds session configuration.
type Config struct {
	Filter      telegram.Filter
	SingleShot  bool          // stop after the first accepted telegram
	PollTimeout time.Duration // zero means DefaultPollTimeout

	// Initial, if set, is a complete telegram written once right after the
	// first registration, before anything is read.
	Initial []byte
}

// State is a position in the session state machine.
type State int

const (
	Idle State = iota
	Connected
	Polling
	TimedOut
	Reading
	FrameIncomplete
	FrameComplete
	Dispatch
	Done   // terminal, success
	Failed // terminal, error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connected:
		return "connected"
	case Polling:
		return "polling"
	case TimedOut:
		return "timed-out"
	case Reading:
		return "reading"
	case FrameIncomplete:
		return "frame-incomplete"
	case FrameComplete:
		return "frame-complete"
	case Dispatch:
		return "dispatch"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stats counts what happened during a run.
type Stats struct {
	Polls      int
	Timeouts   int
	Reads      int
	Frames     int
	Accepted   int
	Rejected   int
	Reconnects int
}

// Session is one listening run against the bus: it polls the registered
// socket, feeds the reassembler, filters complete telegrams and emits the
// accepted ones. It is single-threaded; the only other goroutine involved
// is the one that interrupts a wait when the context ends.
type Session struct {
	cfg   Config
	mgr   *Manager
	out   Emitter
	log   *slog.Logger
	asm   *telegram.Reassembler
	state State
	stats Stats
}

// New creates a session. Call Run to start it.
func New(cfg Config, mgr *Manager, out Emitter, logger *slog.Logger) *Session {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &Session{
		cfg: cfg,
		mgr: mgr,
		out: out,
		log: logger,
		asm: telegram.NewReassembler(cfg.Filter.Layout),
	}
}

// Run registers with the bus and processes telegrams until the session is
// done. In single-shot mode it returns nil after the first accepted
// telegram. In run-forever mode it returns only when ctx ends (with
// ctx.Err()) or on a fatal error. Registration failure, including during a
// reconnect, is fatal and wraps ErrRegistration.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.mgr.Interrupt)
	defer stop()
	defer s.mgr.Close()

	s.setState(Idle)
	conn, err := s.mgr.Open(ctx)
	if err != nil {
		return s.fail(err)
	}
	s.setState(Connected)

	if len(s.cfg.Initial) > 0 {
		if _, err := conn.Write(s.cfg.Initial); err != nil {
			return s.fail(fmt.Errorf("send telegram: %w", err))
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return s.fail(err)
		}

		s.setState(Polling)
		s.stats.Polls++
		ready, err := conn.Wait(s.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrInterrupted) && ctx.Err() != nil {
				return s.fail(ctx.Err())
			}
			if conn, err = s.reconnect(ctx, fmt.Errorf("%w: %w", ErrReadFailure, err)); err != nil {
				return s.fail(err)
			}
			continue
		}
		if !ready {
			s.setState(TimedOut)
			s.stats.Timeouts++
			continue
		}

		s.setState(Reading)
		space := s.asm.Space()
		n, err := conn.Read(space)
		if n == 0 || err != nil {
			cause := err
			switch {
			case len(space) == 0:
				cause = errBufferFull
			case cause == nil:
				cause = errors.New("connection closed by bus")
			}
			if conn, err = s.reconnect(ctx, fmt.Errorf("%w: %w", ErrReadFailure, cause)); err != nil {
				return s.fail(err)
			}
			continue
		}
		s.stats.Reads++
		s.mgr.Progress()

		frame, status := s.asm.Feed(n)
		if status == telegram.Incomplete {
			s.setState(FrameIncomplete)
			continue
		}
		s.setState(FrameComplete)
		s.stats.Frames++

		s.setState(Dispatch)
		payload, ok := s.cfg.Filter.Accept(frame)
		if !ok {
			s.stats.Rejected++
			continue
		}
		s.stats.Accepted++
		if err := s.out.Emit(frame, payload); err != nil {
			return s.fail(fmt.Errorf("emit telegram: %w", err))
		}
		if s.cfg.SingleShot {
			s.setState(Done)
			return nil
		}
	}
}

// reconnect drops everything buffered from the failed connection and asks
// the manager for a fresh registration.
func (s *Session) reconnect(ctx context.Context, cause error) (transport.Conn, error) {
	s.log.Warn("read failed", "err", cause, "buffered", s.asm.Len())
	s.asm.Reset()
	s.stats.Reconnects++
	conn, err := s.mgr.Reconnect(ctx, cause)
	if err != nil {
		return nil, err
	}
	s.setState(Connected)
	return conn, nil
}

func (s *Session) fail(err error) error {
	s.setState(Failed)
	return err
}

func (s *Session) setState(st State) {
	s.state = st
	s.log.Debug("session state", "state", st)
}

// State returns the current state. After Run returns it is Done or Failed.
func (s *Session) State() State {
	return s.state
}

// Stats returns the counters of the last run.
func (s *Session) Stats() Stats {
	return s.stats
}
