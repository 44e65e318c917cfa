// Package command talks to the router's control plane over its
// unauthenticated Unix socket.
//
// The protocol is line based. On open the control plane sends one prompt
// line. Every request is a single line and is answered by a single line; an
// answer starting with "ERROR" means the request was rejected.
package command

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultSocket is the control-plane socket that needs no authentication.
const DefaultSocket = "/devices/cli_no_auth/cli.socket"

// DefaultTimeout bounds opening the channel and each Send.
const DefaultTimeout = 300 * time.Millisecond

var (
	// ErrRejected means the control plane answered with an error line.
	ErrRejected = errors.New("command rejected")

	// ErrTimeout means no answer arrived in time.
	ErrTimeout = errors.New("command timed out")

	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("command channel closed")
)

// Channel is an open connection to the control plane. Requests are
// serialized; a Channel may be shared between goroutines.
type Channel struct {
	timeout time.Duration
	prompt  string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Open connects to the control plane at path and reads its prompt. timeout
// bounds the connect and the prompt, and is later used for every Send.
func Open(path string, timeout time.Duration) (*Channel, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial control plane %s: %w", path, err)
	}
	c := &Channel{
		timeout: timeout,
		conn:    conn,
		reader:  bufio.NewReader(conn),
	}
	prompt, err := c.readLine(timeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read control plane prompt: %w", err)
	}
	c.prompt = prompt
	return c, nil
}

// Prompt returns the line the control plane greeted with.
func (c *Channel) Prompt() string {
	return c.prompt
}

// Send issues a setting line and waits for its acknowledgement within the
// open timeout.
func (c *Channel) Send(line string) error {
	_, err := c.Query(line, c.timeout)
	return err
}

// Query issues line and returns the answer read within timeout.
func (c *Channel) Query(line string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return "", ErrClosed
	}
	if strings.ContainsAny(line, "\r\n") {
		return "", fmt.Errorf("command %q: line breaks are not allowed", line)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("send %q: %w", line, classify(err))
	}
	answer, err := c.readLine(timeout)
	if err != nil {
		return "", fmt.Errorf("answer to %q: %w", line, err)
	}
	if strings.HasPrefix(answer, "ERROR") {
		return answer, fmt.Errorf("%w: %s: %s", ErrRejected, line, answer)
	}
	return answer, nil
}

func (c *Channel) readLine(timeout time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close releases the socket. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func classify(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
