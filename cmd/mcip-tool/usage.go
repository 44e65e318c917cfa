package main

import (
	"fmt"
	"io"
)

func printUsage(w io.Writer, a *applet) {
	synopsis := "[OPTIONS]"
	if a.name == "cli-cmd" {
		synopsis = "[OPTIONS] <CLI command>"
	}
	fmt.Fprintf(w, "\nUsage: %s %s\n%s\n\n", a.name, synopsis, a.description)
	fmt.Fprintln(w, "  -h, --help            Display this help and exit.")
	fmt.Fprint(w, a.usage)
	fmt.Fprint(w, `
Common options:
      --config file     Configuration file (default: $MCIP_TOOL_CONFIG).
      --format name     Output format: text, hex or cbor.
  -v, --verbose         Log diagnostics to stderr.
      --version         Print version and exit.

`)
	printApplets(w)
}

func printApplets(w io.Writer) {
	fmt.Fprintln(w, `This tool is an applet of the multi binary "mcip-tool".`)
	fmt.Fprintln(w, "The names of the applets are:")
	for _, a := range applets {
		fmt.Fprintf(w, "  %-12s %s\n", a.name, a.description)
	}
	fmt.Fprintln(w)
}
