// Package bustest runs an in-process message bus on a Unix socket for tests.
//
// The server accepts any number of sequential registrations, records what
// each client asked for, and lets the test push raw byte chunks to the most
// recent client or drop its connection to simulate a read failure.
package bustest

import (
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/insys-icom/mcip-tool/internal/telegram"
)

// Registration records one register telegram received by the server.
type Registration struct {
	Source uint16
	OIDs   []uint16
}

// Written records one write telegram received by the server.
type Written struct {
	Header  telegram.Header
	Payload []byte
}

// Server is a fake bus.
type Server struct {
	Path string

	ln net.Listener

	mu       sync.Mutex
	current  net.Conn
	regs     []Registration
	deregs   int
	regCh    chan Registration
	writesCh chan Written
}

// New starts a server in a fresh temporary directory. It is closed when the
// test finishes.
func New(t testing.TB) *Server {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mcip.socket")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("bustest: listen: %v", err)
	}
	s := &Server{
		Path:     path,
		ln:       ln,
		regCh:    make(chan Registration, 64),
		writesCh: make(chan Written, 64),
	}
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.current = conn
		s.mu.Unlock()

		go s.serve(conn)
	}
}

// serve reads telegrams sent by one client until it disconnects.
func (s *Server) serve(conn net.Conn) {
	for {
		h, payload, err := telegram.ReadTelegram(conn)
		if err != nil {
			return
		}
		switch h.Command {
		case telegram.CmdRegister:
			reg := Registration{Source: h.Source, OIDs: telegram.DecodeOIDs(payload)}
			s.mu.Lock()
			s.regs = append(s.regs, reg)
			s.mu.Unlock()
			s.regCh <- reg
		case telegram.CmdDeregister:
			s.mu.Lock()
			s.deregs++
			s.mu.Unlock()
		case telegram.CmdWrite:
			s.writesCh <- Written{Header: h, Payload: payload}
		}
	}
}

// WaitRegistration blocks until the next registration arrives.
func (s *Server) WaitRegistration(timeout time.Duration) (Registration, error) {
	select {
	case reg := <-s.regCh:
		return reg, nil
	case <-time.After(timeout):
		return Registration{}, errors.New("bustest: timeout waiting for registration")
	}
}

// WaitWrite blocks until the next write telegram arrives.
func (s *Server) WaitWrite(timeout time.Duration) (Written, error) {
	select {
	case w := <-s.writesCh:
		return w, nil
	case <-time.After(timeout):
		return Written{}, errors.New("bustest: timeout waiting for write telegram")
	}
}

// Send writes each chunk to the most recent client, pausing between chunks
// so they are likely to arrive as separate reads.
func (s *Server) Send(chunks ...[]byte) error {
	s.mu.Lock()
	conn := s.current
	s.mu.Unlock()
	if conn == nil {
		return errors.New("bustest: no client connected")
	}
	for i, c := range chunks {
		if i > 0 {
			time.Sleep(10 * time.Millisecond)
		}
		if _, err := conn.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// Drop closes the most recent client connection.
func (s *Server) Drop() error {
	s.mu.Lock()
	conn := s.current
	s.current = nil
	s.mu.Unlock()
	if conn == nil {
		return errors.New("bustest: no client connected")
	}
	return conn.Close()
}

// Registrations returns the number of registrations seen so far.
func (s *Server) Registrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

// Deregistrations returns the number of deregister telegrams seen so far.
func (s *Server) Deregistrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deregs
}

// Close stops accepting, drops the current client and removes the socket.
// Registering after Close fails.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
	s.mu.Unlock()
}
