package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/insys-icom/mcip-tool/internal/bustest"
)

// invoke runs the binary as argv and returns exit code, stdout and stderr.
func invoke(t *testing.T, ctx context.Context, argv ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(ctx, argv, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// writeConfig points the bus and control-plane sockets at test servers.
func writeConfig(t *testing.T, busSocket, cliSocket string) string {
	t.Helper()
	if busSocket == "" {
		busSocket = filepath.Join(t.TempDir(), "no-bus.socket")
	}
	if cliSocket == "" {
		cliSocket = filepath.Join(t.TempDir(), "no-cli.socket")
	}
	content := fmt.Sprintf("bus:\n  socket: %s\n  poll_timeout: 1s\ncli:\n  socket: %s\n  timeout: 1s\n", busSocket, cliSocket)
	path := filepath.Join(t.TempDir(), "mcip-tool.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// startCLI serves the control-plane line protocol, answering OK to
// everything, and records the request lines.
func startCLI(t *testing.T) (string, <-chan string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.socket")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	lines := make(chan string, 64)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				conn.Write([]byte(">\n"))
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					lines <- strings.TrimSuffix(line, "\n")
					conn.Write([]byte("OK\n"))
				}
			}()
		}
	}()
	return path, lines
}

func collect(t *testing.T, lines <-chan string, n int) []string {
	t.Helper()
	var got []string
	for i := 0; i < n; i++ {
		select {
		case l := <-lines:
			got = append(got, l)
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout after %d lines: %q", len(got), got)
		}
	}
	return got
}

func inputEvent(text string) []byte {
	b := make([]byte, 12+len(text))
	binary.LittleEndian.PutUint16(b[0:2], 4)
	binary.LittleEndian.PutUint16(b[2:4], 2)
	binary.LittleEndian.PutUint16(b[4:6], uint16(len(b)))
	copy(b[7:11], "1.1:")
	b[11] = 'i'
	copy(b[12:], text)
	return b
}

func TestResolveApplet(t *testing.T) {
	tests := []struct {
		argv     []string
		want     string
		wantArgs int
	}{
		{[]string{"/usr/bin/get-input", "-p"}, "get-input", 1},
		{[]string{"mcip-tool", "sms-tool", "-l"}, "sms-tool", 1},
		{[]string{"mcip-tool", "-l"}, "mcip-tool", 1},
		{[]string{"./renamed", "-m", "5"}, "mcip-tool", 2},
		{[]string{"cli-cmd", "container"}, "cli-cmd", 1},
	}
	for _, tt := range tests {
		a, args := resolveApplet(tt.argv)
		if a.name != tt.want || len(args) != tt.wantArgs {
			t.Errorf("resolveApplet(%q) = %s %q", tt.argv, a.name, args)
		}
	}
}

func TestNoArgumentsPrintsUsage(t *testing.T) {
	code, stdout, _ := invoke(t, context.Background(), "mcip-tool")
	if code != exitOK {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "Usage: mcip-tool") || !strings.Contains(stdout, "get-pulses") {
		t.Fatalf("usage output:\n%s", stdout)
	}
}

func TestHelp(t *testing.T) {
	code, stdout, _ := invoke(t, context.Background(), "get-input", "--help")
	if code != exitOK || !strings.Contains(stdout, "Receive input change events.") {
		t.Fatalf("exit %d, output:\n%s", code, stdout)
	}
}

func TestVersion(t *testing.T) {
	code, stdout, _ := invoke(t, context.Background(), "container", "--version")
	if code != exitOK || !strings.HasPrefix(stdout, "container ") {
		t.Fatalf("exit %d, output %q", code, stdout)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		argv []string
	}{
		{"my-oid too small", []string{"mcip-tool", "-m", "1", "-l"}},
		{"to-oid too large", []string{"mcip-tool", "-t", "65535", "-s", "x"}},
		{"unknown flag", []string{"get-pulses", "--bogus"}},
		{"sms without action", []string{"sms-tool"}},
		{"sms send without number", []string{"sms-tool", "-s", "-t", "hi"}},
		{"bad output state", []string{"set-output", "-o", "1.1", "-s", "toggle"}},
		{"conflicting container actions", []string{"container", "-0", "-1"}},
		{"unknown format", []string{"get-input", "--format", "json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := invoke(t, context.Background(), tt.argv...)
			if code != exitUsage {
				t.Fatalf("exit %d, want %d (stderr %q)", code, exitUsage, stderr)
			}
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	code, _, stderr := invoke(t, context.Background(), "get-input", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if code != exitUsage || !strings.Contains(stderr, "config") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
}

func TestCLICmdWithoutCommand(t *testing.T) {
	code, stdout, _ := invoke(t, context.Background(), "cli-cmd")
	if code != exitOK || stdout != "No command has been given\n" {
		t.Fatalf("exit %d, output %q", code, stdout)
	}
}

func TestCLICmd(t *testing.T) {
	cli, lines := startCLI(t)
	cfg := writeConfig(t, "", cli)

	code, stdout, stderr := invoke(t, context.Background(), "cli-cmd", "--config", cfg, "status.sys.version")
	if code != exitOK {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
	if stdout != "OK\n" {
		t.Fatalf("output %q", stdout)
	}
	if got := collect(t, lines, 1); got[0] != "status.sys.version" {
		t.Fatalf("sent %q", got)
	}
}

func TestCLIOpenFailurePrintsHint(t *testing.T) {
	cfg := writeConfig(t, "", "")
	code, _, stderr := invoke(t, context.Background(), "cli-cmd", "--config", cfg, "x")
	if code != exitFailure {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stderr, `"Read/Write" user group`) {
		t.Fatalf("stderr %q", stderr)
	}
}

func TestSetOutput(t *testing.T) {
	cli, lines := startCLI(t)
	cfg := writeConfig(t, "", cli)

	code, stdout, stderr := invoke(t, context.Background(), "set-output", "--config", cfg, "-o", "1.2", "-s", "open")
	if code != exitOK {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
	if stdout != "Output set: 1.2 to open\n" {
		t.Fatalf("output %q", stdout)
	}
	want := []string{"help.debug.output.output=1.2", "help.debug.output.change=open", "help.debug.output.submit"}
	if got := collect(t, lines, 3); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("sent %q, want %q", got, want)
	}
}

func TestSendSMS(t *testing.T) {
	cli, lines := startCLI(t)
	cfg := writeConfig(t, "", cli)

	code, stdout, stderr := invoke(t, context.Background(), "sms-tool", "--config", cfg, "-s", "-n", "+4912345", "-t", "hello", "-i", "lte1")
	if code != exitOK {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
	if stdout != "SMS sending OK\n" {
		t.Fatalf("output %q", stdout)
	}
	got := collect(t, lines, 4)
	if got[0] != "help.debug.sms.modem=lte1" || got[3] != "help.debug.sms.submit=1" {
		t.Fatalf("sent %q", got)
	}
}

func TestContainerDefaultsToRestart(t *testing.T) {
	cli, lines := startCLI(t)
	cfg := writeConfig(t, "", cli)

	code, _, stderr := invoke(t, context.Background(), "container", "--config", cfg, "-n", "web")
	if code != exitOK {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
	got := collect(t, lines, 3)
	if got[0] != "help.debug.container_state.name=web" || got[1] != "help.debug.container_state.state_change=restart" {
		t.Fatalf("sent %q", got)
	}
}

func TestSendTelegram(t *testing.T) {
	srv := bustest.New(t)
	cfg := writeConfig(t, srv.Path, "")

	code, _, stderr := invoke(t, context.Background(), "mcip-tool", "--config", cfg, "-m", "5", "-t", "9", "-s", "hello")
	if code != exitOK {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
	w, err := srv.WaitWrite(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if w.Header.Destination != 9 || w.Header.Source != 5 || string(w.Payload) != "hello" {
		t.Fatalf("unexpected write %+v", w)
	}
}

func TestRegistrationFailure(t *testing.T) {
	cfg := writeConfig(t, "", "")
	code, _, stderr := invoke(t, context.Background(), "get-input", "--config", cfg)
	if code != exitFailure || !strings.Contains(stderr, "failed to register to MCIP") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
}

func TestGetInputPrintsEvent(t *testing.T) {
	srv := bustest.New(t)
	cfg := writeConfig(t, srv.Path, "")

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- run(context.Background(), []string{"get-input", "--config", cfg, "-m", "6"}, &stdout, &stderr)
	}()

	reg, err := srv.WaitRegistration(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Source != 6 {
		t.Fatalf("registered as %d, want 6", reg.Source)
	}
	if err := srv.Send(inputEvent("on")); err != nil {
		t.Fatal(err)
	}

	select {
	case code := <-done:
		if code != exitOK {
			t.Fatalf("exit %d, stderr %q", code, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for get-input")
	}
	if stdout.String() != "1.1:ion\n" {
		t.Fatalf("output %q", stdout.String())
	}
}

func TestPermanentListenEndsOnInterrupt(t *testing.T) {
	srv := bustest.New(t)
	cfg := writeConfig(t, srv.Path, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"get-input", "--config", cfg, "-p"}, &stdout, &stderr)
	}()

	if _, err := srv.WaitRegistration(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if err := srv.Send(inputEvent("a")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		if code != exitOK {
			t.Fatalf("exit %d, stderr %q", code, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not stop get-input")
	}
	if stdout.String() != "1.1:ia\n" {
		t.Fatalf("output %q", stdout.String())
	}
}
