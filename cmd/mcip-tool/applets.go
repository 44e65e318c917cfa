package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/insys-icom/mcip-tool/internal/command"
	"github.com/insys-icom/mcip-tool/internal/output"
	"github.com/insys-icom/mcip-tool/internal/session"
	"github.com/insys-icom/mcip-tool/internal/telegram"
	"github.com/insys-icom/mcip-tool/internal/transport"
)

// setOutputTimeout is the control-plane open timeout used by set-output.
const setOutputTimeout = 100 * time.Millisecond

const cliGroupHint = `Maybe the container has not been added to the "Read/Write" user group for access the CLI without authentication?`

var applets = []*applet{
	{
		name:        "mcip-tool",
		description: "Send or receive MCIP messages.",
		usage: `  -m, --my-oid value    OID (decimal) of this tool. This is mandatory in order to
                        connect to the MCIP server.
  -t, --to-oid value    OID (decimal) to whom the message should be sent. If
                        omitted, the message will be sent to OID 2 (the router).
  -l, --listen          Listen for a message, print it on the console and exit.
  -s, --send "value"    Send the <value> to the OID given.
  -p, --permanently     Do not exit after receiving an MCIP telegram.
`,
		setup: setupMCIPTool,
	},
	{
		name:        "sms-tool",
		description: "Send or receive SMS.",
		usage: `Receive SMS:
  -l, --listen                Listen for a SMS, print it on the console and exit.
  -p, --permanently           Do not exit after receiving an SMS.
  -m, --my-oid value          OID (decimal) of this tool (default 3).

Send SMS:
  -s, --send                  Send an SMS.
  -n, --number "number"       Phone number to whom the SMS should be sent.
  -t, --text "text"           SMS text to be sent.
  -i, --interface "interface" Set the interface (modem) to use for sending SMS
                              (default lte2).
`,
		setup: setupSMSTool,
	},
	{
		name:        "get-input",
		description: "Receive input change events.",
		usage:       eventUsage,
		setup:       setupEvents(telegram.InputChange),
	},
	{
		name:        "get-pulses",
		description: "Receive input pulses.",
		usage:       eventUsage,
		setup:       setupEvents(telegram.Pulse),
	},
	{
		name:        "set-output",
		description: "Set output state.",
		usage: `  -o, --output          Output to set. Syntax: <slot>.<output> (e.g. -o 4.1).
  -s, --state           State of output (open, close).
`,
		setup: setupSetOutput,
	},
	{
		name:        "cli-cmd",
		description: "Send a command to the cli and print the answer.",
		usage:       "",
		setup:       setupCLICmd,
	},
	{
		name:        "container",
		description: "Start, stop or restart a container.",
		usage: `  -n, --name            Name of container to stop/restart; default is the hostname.
  -0, --stop            Stop a container.
  -1, --start           Start a container.
  -r, --restart         Restart the container (default).
`,
		setup: setupContainer,
	},
}

const eventUsage = `  -m, --my-oid value    OID (decimal) of this tool (default 4).
  -p, --permanently     Do not exit after receiving an MCIP telegram.
`

// oidFlag registers -m/--my-oid.
func oidFlag(fs *pflag.FlagSet, def int) *int {
	return fs.IntP("my-oid", "m", def, "OID of this tool")
}

func checkOID(e *env, name string, v, lo int) (uint16, bool) {
	if v < lo || v > 65534 {
		e.usageError("The given value for %s must be in range of %d to 65534", name, lo)
		return 0, false
	}
	return uint16(v), true
}

func setupMCIPTool(fs *pflag.FlagSet) func(context.Context, *env) int {
	myOID := oidFlag(fs, 0)
	toOID := fs.IntP("to-oid", "t", int(telegram.OIDRouter), "OID to send to")
	listen := fs.BoolP("listen", "l", false, "listen for a telegram")
	send := fs.StringP("send", "s", "", "text to send")
	perma := fs.BoolP("permanently", "p", false, "do not exit after a telegram")

	return func(ctx context.Context, e *env) int {
		// OID 0 means no OID of our own and is only reachable by omitting -m.
		var my uint16
		if fs.Changed("my-oid") {
			v, ok := checkOID(e, "my-oid", *myOID, 2)
			if !ok {
				return exitUsage
			}
			my = v
		}
		to, ok := checkOID(e, "to-oid", *toOID, 1)
		if !ok {
			return exitUsage
		}

		var initial []byte
		if fs.Changed("send") {
			tg, err := telegram.Encode(telegram.Header{Destination: to, Source: my, Command: telegram.CmdWrite}, []byte(*send))
			if err != nil {
				return e.fail(err)
			}
			initial = tg
		}

		if !*listen {
			return sendOnly(ctx, e, my, initial)
		}
		filter := telegram.Filter{Mode: telegram.Passthrough, Layout: e.cfg.Layouts.Generic}
		return listenBus(ctx, e, my, filter, !*perma, initial)
	}
}

// sendOnly registers, writes the telegram if there is one and deregisters.
func sendOnly(ctx context.Context, e *env, oid uint16, tg []byte) int {
	mgr := newManager(e, oid)
	defer mgr.Close()

	conn, err := mgr.Open(ctx)
	if err != nil {
		return e.fail(err)
	}
	if len(tg) > 0 {
		if _, err := conn.Write(tg); err != nil {
			return e.fail(fmt.Errorf("failed to send string to MCIP: %w", err))
		}
	}
	return exitOK
}

func setupEvents(mode telegram.Mode) func(*pflag.FlagSet) func(context.Context, *env) int {
	return func(fs *pflag.FlagSet) func(context.Context, *env) int {
		myOID := oidFlag(fs, 4)
		perma := fs.BoolP("permanently", "p", false, "do not exit after a telegram")

		return func(ctx context.Context, e *env) int {
			oid, ok := checkOID(e, "my-oid", *myOID, 2)
			if !ok {
				return exitUsage
			}
			filter := telegram.Filter{Mode: mode, Layout: e.cfg.Layouts.Event}
			return listenBus(ctx, e, oid, filter, !*perma, nil)
		}
	}
}

func setupSMSTool(fs *pflag.FlagSet) func(context.Context, *env) int {
	listen := fs.BoolP("listen", "l", false, "listen for an SMS")
	perma := fs.BoolP("permanently", "p", false, "do not exit after an SMS")
	myOID := oidFlag(fs, 3)
	send := fs.BoolP("send", "s", false, "send an SMS")
	number := fs.StringP("number", "n", "", "recipient phone number")
	text := fs.StringP("text", "t", "", "SMS text")
	modem := fs.StringP("interface", "i", command.DefaultModem, "modem used for sending")

	return func(ctx context.Context, e *env) int {
		if !*send && !*listen {
			return e.usageError("either --send or --listen is required")
		}
		oid, ok := checkOID(e, "my-oid", *myOID, 2)
		if !ok {
			return exitUsage
		}
		if *send {
			if *number == "" || *text == "" {
				return e.usageError("--send needs --number and --text")
			}
			ch, code := openCLI(e, e.cfg.CLI.Timeout)
			if ch == nil {
				return code
			}
			answer, err := ch.SendSMS(command.SMS{Modem: *modem, Recipient: *number, Text: *text})
			ch.Close()
			if err != nil {
				return e.fail(err)
			}
			fmt.Fprintf(e.stdout, "SMS sending %s\n", answer)
		}
		if *listen {
			filter := telegram.Filter{Mode: telegram.SMSExtract, Layout: e.cfg.Layouts.SMS}
			return listenBus(ctx, e, oid, filter, !*perma, nil)
		}
		return exitOK
	}
}

func setupSetOutput(fs *pflag.FlagSet) func(context.Context, *env) int {
	out := fs.StringP("output", "o", "", "output as <slot>.<output>")
	state := fs.StringP("state", "s", "", "open or close")

	return func(_ context.Context, e *env) int {
		if *out == "" {
			return e.usageError("no output given")
		}
		st, err := command.ParseOutputState(*state)
		if err != nil {
			return e.usageError("%v", err)
		}
		ch, code := openCLI(e, setOutputTimeout)
		if ch == nil {
			return code
		}
		defer ch.Close()
		if err := ch.SwitchOutput(*out, st); err != nil {
			return e.fail(err)
		}
		fmt.Fprintf(e.stdout, "Output set: %s to %s\n", *out, st)
		return exitOK
	}
}

func setupCLICmd(_ *pflag.FlagSet) func(context.Context, *env) int {
	return func(_ context.Context, e *env) int {
		if len(e.args) == 0 {
			fmt.Fprintln(e.stdout, "No command has been given")
			return exitOK
		}
		ch, code := openCLI(e, e.cfg.CLI.Timeout)
		if ch == nil {
			return code
		}
		defer ch.Close()
		answer, err := ch.Run(strings.Join(e.args, " "))
		if err != nil && !errors.Is(err, command.ErrRejected) {
			return e.fail(fmt.Errorf("failed to send the command: %w", err))
		}
		fmt.Fprintln(e.stdout, answer)
		if err != nil {
			return exitFailure
		}
		return exitOK
	}
}

func setupContainer(fs *pflag.FlagSet) func(context.Context, *env) int {
	name := fs.StringP("name", "n", "", "container name (default: host name)")
	stop := fs.BoolP("stop", "0", false, "stop the container")
	start := fs.BoolP("start", "1", false, "start the container")
	restart := fs.BoolP("restart", "r", false, "restart the container")

	return func(_ context.Context, e *env) int {
		var actions []command.ContainerAction
		if *stop {
			actions = append(actions, command.ContainerStop)
		}
		if *start {
			actions = append(actions, command.ContainerStart)
		}
		if *restart {
			actions = append(actions, command.ContainerRestart)
		}
		action := command.ContainerRestart
		switch len(actions) {
		case 0:
		case 1:
			action = actions[0]
		default:
			return e.usageError("--stop, --start and --restart are mutually exclusive")
		}

		target := *name
		if target == "" {
			host, err := os.Hostname()
			if err != nil {
				return e.fail(fmt.Errorf("could not get the host name of this container: %w", err))
			}
			target = host
		}

		ch, code := openCLI(e, e.cfg.CLI.Timeout)
		if ch == nil {
			return code
		}
		defer ch.Close()
		if err := ch.ChangeContainerState(target, action); err != nil {
			return e.fail(err)
		}
		return exitOK
	}
}

// openCLI opens the control plane or reports why it could not.
func openCLI(e *env, timeout time.Duration) (*command.Channel, int) {
	ch, err := command.Open(e.cfg.CLI.Socket, timeout)
	if err != nil {
		code := e.fail(fmt.Errorf("failed to initialise CLI: %w", err))
		fmt.Fprintln(e.stderr, cliGroupHint)
		return nil, code
	}
	e.log.Debug("control plane open", "component", "command", "prompt", ch.Prompt())
	return ch, exitOK
}

func newManager(e *env, oid uint16) *session.Manager {
	reg := transport.BusDialer{Path: e.cfg.Bus.Socket, Log: e.log.With("component", "bus")}
	return session.NewManager(reg, transport.NewOIDSet(oid), e.cfg.Bus.Reconnect, nil, e.log.With("component", "session"))
}

// listenBus runs a session and maps its outcome to an exit code.
func listenBus(ctx context.Context, e *env, oid uint16, filter telegram.Filter, singleShot bool, initial []byte) int {
	s := session.New(session.Config{
		Filter:      filter,
		SingleShot:  singleShot,
		PollTimeout: e.cfg.Bus.PollTimeout,
		Initial:     initial,
	}, newManager(e, oid), output.New(e.stdout, e.format, filter.Layout), e.log.With("component", "session"))

	err := s.Run(ctx)
	e.log.Debug("session finished", "state", s.State(), "stats", fmt.Sprintf("%+v", s.Stats()))
	if err != nil && ctx.Err() == nil {
		return e.fail(err)
	}
	return exitOK
}
