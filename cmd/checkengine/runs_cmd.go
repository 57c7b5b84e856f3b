package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Mindburn-Labs/checkengine/pkg/config"
)

// runRunsCmd implements `checkengine runs`.
func runRunsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("runs", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var storeDSN string
	cmd.StringVar(&storeDSN, "store", config.Load().StoreDSN, "Identity store DSN (postgres://... or sqlite path)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, storeDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = closeStore() }()

	runs, err := store.Runs(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tIDENTITIES\tSAVED")
	for _, run := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", run.RunID, run.Count, run.SavedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
	return 0
}
