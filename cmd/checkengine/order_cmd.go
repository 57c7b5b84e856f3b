package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/checkengine/pkg/config"
)

// runOrderCmd implements `checkengine order`: one identity per line in
// execution order, or canonical serialized identities with -serialized.
func runOrderCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("order", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		rf         runnerFlags
		serialized bool
	)
	rf.register(cmd)
	cmd.BoolVar(&serialized, "serialized", false, "Print canonical serialized identities")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	sp, r, err := rf.build(newLogger(config.Load(), stderr))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	for _, id := range r.Order() {
		line := id.String()
		if serialized {
			if line, err = sp.SerializeIdentity(id); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
		}
		_, _ = fmt.Fprintln(stdout, line)
	}
	return 0
}
