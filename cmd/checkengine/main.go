package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/checkengine"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = no check summary reached FAIL
//	1 = at least one FAIL or ERROR summary
//	2 = usage or setup error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "order":
		return runOrderCmd(args[2:], stdout, stderr)
	case "runs":
		return runRunsCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, checkengine.Version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "checkengine %s\n\n", checkengine.Version)
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  checkengine <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	_, _ = fmt.Fprintln(w, "  run      Run a spec document and stream events as JSON lines")
	_, _ = fmt.Fprintln(w, "  order    Print the execution order of a spec document")
	_, _ = fmt.Fprintln(w, "  runs     List the runs kept in the identity store")
	_, _ = fmt.Fprintln(w, "  version  Print the engine version")
}

// multiFlag allows repeatable flag values (e.g. -check a -check b).
type multiFlag []string

func (f *multiFlag) String() string { return fmt.Sprintf("%v", *f) }
func (f *multiFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}
