package transport

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/insys-icom/mcip-tool/internal/bustest"
)

func TestRegisterSendsIdentifierSet(t *testing.T) {
	srv := bustest.New(t)

	conn, err := BusDialer{Path: srv.Path}.Register(context.Background(), NewOIDSet(4, 9))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer conn.Close()

	reg, err := srv.WaitRegistration(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Source != 4 || len(reg.OIDs) != 2 || reg.OIDs[0] != 4 || reg.OIDs[1] != 9 {
		t.Fatalf("unexpected registration %+v", reg)
	}

	if err := srv.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	ready, err := conn.Wait(5 * time.Second)
	if err != nil || !ready {
		t.Fatalf("wait = %v, %v", ready, err)
	}
	buf := make([]byte, 32)
	n, err := conn.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("read %q, %v", buf[:n], err)
	}
}

func TestRegisterMissingSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.socket")
	if _, err := (BusDialer{Path: path}).Register(context.Background(), NewOIDSet(4)); err == nil {
		t.Fatal("expected error registering against a missing socket")
	}
}

func TestRegisterCancelledContext(t *testing.T) {
	srv := bustest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (BusDialer{Path: srv.Path}).Register(ctx, NewOIDSet(4)); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDeregisterOnClose(t *testing.T) {
	srv := bustest.New(t)

	conn, err := BusDialer{Path: srv.Path}.Register(context.Background(), NewOIDSet(3))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := srv.WaitRegistration(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Deregistrations() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for deregistration")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
