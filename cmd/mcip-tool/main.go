// Command mcip-tool is a multi-call binary for talking to the router's
// internal message bus and control plane from inside a container.
//
// The applet is chosen by the name the binary is invoked under (usually a
// symlink such as get-input) or, failing that, by the first argument.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/insys-icom/mcip-tool/internal/config"
	"github.com/insys-icom/mcip-tool/internal/output"
	"github.com/insys-icom/mcip-tool/internal/version"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// applet is one tool of the multi-call binary.
type applet struct {
	name        string
	description string
	usage       string // option help, printed after the synopsis
	setup       func(fs *pflag.FlagSet) func(ctx context.Context, e *env) int
}

// env is what every applet gets after the common flags are handled.
type env struct {
	name   string
	args   []string // positional arguments
	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config
	format output.Format
	log    *slog.Logger
}

// common holds the flags every applet accepts.
type common struct {
	config  string
	format  string
	verbose bool
	version bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// resolveApplet picks the applet for argv and returns it with the
// remaining arguments.
func resolveApplet(argv []string) (*applet, []string) {
	base := filepath.Base(argv[0])
	if a := findApplet(base); a != nil && a.name != "mcip-tool" {
		return a, argv[1:]
	}
	if len(argv) > 1 {
		if a := findApplet(argv[1]); a != nil {
			return a, argv[2:]
		}
	}
	return findApplet("mcip-tool"), argv[1:]
}

func findApplet(name string) *applet {
	i := slices.IndexFunc(applets, func(a *applet) bool { return a.name == name })
	if i < 0 {
		return nil
	}
	return applets[i]
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	a, args := resolveApplet(argv)

	fs := pflag.NewFlagSet(a.name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {}
	var c common
	fs.StringVar(&c.config, "config", "", "configuration file (default: $"+config.EnvVar+")")
	fs.StringVar(&c.format, "format", "", "output format: text, hex or cbor")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "log diagnostics to stderr")
	fs.BoolVar(&c.version, "version", false, "print version and exit")
	exec := a.setup(fs)

	if a.name == "mcip-tool" && len(args) == 0 {
		printUsage(stdout, a)
		return exitOK
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stdout, a)
			return exitOK
		}
		fmt.Fprintf(stderr, "%s: %v\n", a.name, err)
		fmt.Fprintf(stderr, "Try '%s --help' for more information.\n", a.name)
		return exitUsage
	}
	if c.version {
		fmt.Fprintln(stdout, version.String(a.name))
		return exitOK
	}

	cfg, err := config.Load(c.config)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", a.name, err)
		return exitUsage
	}
	if c.format != "" {
		cfg.Output.Format = c.format
	}
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", a.name, err)
		return exitUsage
	}
	level, _ := cfg.LogLevel()
	if c.verbose {
		level = slog.LevelDebug
	}

	e := &env{
		name:   a.name,
		args:   fs.Args(),
		stdout: stdout,
		stderr: stderr,
		cfg:    cfg,
		format: format,
		log:    slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
	}
	return exec(ctx, e)
}

// fail reports err and returns the failure exit code.
func (e *env) fail(err error) int {
	fmt.Fprintf(e.stderr, "%s: %v\n", e.name, err)
	return exitFailure
}

// usageError reports a bad invocation and returns the usage exit code.
func (e *env) usageError(format string, args ...any) int {
	fmt.Fprintf(e.stderr, "%s: %s\n", e.name, fmt.Sprintf(format, args...))
	fmt.Fprintf(e.stderr, "Try '%s --help' for more information.\n", e.name)
	return exitUsage
}
