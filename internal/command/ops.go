package command

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Answer timeouts used by the control-plane operations.
const (
	SMSSubmitTimeout = 60 * time.Second
	QueryTimeout     = 6 * time.Second
)

// DefaultModem is the modem used for SMS when none is given.
const DefaultModem = "lte2"

// SMS is an outgoing short message.
type SMS struct {
	Modem     string // empty means DefaultModem
	Recipient string
	Text      string
}

// SendSMS configures and submits an SMS. It returns the control plane's
// answer to the submit request.
func (c *Channel) SendSMS(msg SMS) (string, error) {
	if msg.Recipient == "" {
		return "", errors.New("sms: no recipient given")
	}
	modem := msg.Modem
	if modem == "" {
		modem = DefaultModem
	}
	if err := c.Send("help.debug.sms.modem=" + modem); err != nil {
		return "", fmt.Errorf("set modem: %w", err)
	}
	if err := c.Send("help.debug.sms.recipient=" + msg.Recipient); err != nil {
		return "", fmt.Errorf("set recipient: %w", err)
	}
	if err := c.Send("help.debug.sms.text=-----BEGIN ...-----" + msg.Text + "-----END ...-----"); err != nil {
		return "", fmt.Errorf("set text: %w", err)
	}
	answer, err := c.Query("help.debug.sms.submit=1", SMSSubmitTimeout)
	if err != nil {
		return "", fmt.Errorf("submit sms: %w", err)
	}
	return answer, nil
}

// OutputState is the target state of a switching output.
type OutputState string

const (
	OutputOpen  OutputState = "open"
	OutputClose OutputState = "close"
)

// ParseOutputState accepts "open" or "close".
func ParseOutputState(s string) (OutputState, error) {
	switch st := OutputState(strings.ToLower(s)); st {
	case OutputOpen, OutputClose:
		return st, nil
	}
	return "", fmt.Errorf("unknown output state %q (want open or close)", s)
}

// SwitchOutput sets output (SLOT.OUTPUT, e.g. "1.1") to state.
func (c *Channel) SwitchOutput(output string, state OutputState) error {
	if output == "" {
		return errors.New("output: no output given")
	}
	if err := c.Send("help.debug.output.output=" + output); err != nil {
		return fmt.Errorf("select output %s: %w", output, err)
	}
	if err := c.Send("help.debug.output.change=" + string(state)); err != nil {
		return fmt.Errorf("set state %s: %w", state, err)
	}
	if err := c.Send("help.debug.output.submit"); err != nil {
		return fmt.Errorf("switch output %s: %w", output, err)
	}
	return nil
}

// ContainerAction is a container state change.
type ContainerAction string

const (
	ContainerStop    ContainerAction = "stop"
	ContainerStart   ContainerAction = "start"
	ContainerRestart ContainerAction = "restart"
)

// ChangeContainerState stops, starts or restarts the named container.
func (c *Channel) ChangeContainerState(name string, action ContainerAction) error {
	if name == "" {
		return errors.New("container: no name given")
	}
	steps := []string{
		"help.debug.container_state.name=" + name,
		"help.debug.container_state.state_change=" + string(action),
		"help.debug.container_state.submit",
	}
	for _, line := range steps {
		if _, err := c.Query(line, QueryTimeout); err != nil {
			return fmt.Errorf("container %s %s: %w", name, action, err)
		}
	}
	return nil
}

// Run sends a raw command and returns the answer.
func (c *Channel) Run(cmd string) (string, error) {
	return c.Query(cmd, QueryTimeout)
}
