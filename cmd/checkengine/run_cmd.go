package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/checkengine/pkg/checkrunner"
	"github.com/Mindburn-Labs/checkengine/pkg/config"
	"github.com/Mindburn-Labs/checkengine/pkg/identitystore"
	"github.com/Mindburn-Labs/checkengine/pkg/protocol"
	"github.com/Mindburn-Labs/checkengine/pkg/status"
)

// runRunCmd implements `checkengine run`: it streams every event as one JSON
// line on stdout.
//
// With -save-failed the identities whose summary is FAIL or worse are kept
// in the identity store under the run id; -replay runs a stored id list as
// a partial order.
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		rf         runnerFlags
		storeDSN   string
		saveFailed bool
		replay     string
		strict     bool
	)
	rf.register(cmd)
	cmd.StringVar(&storeDSN, "store", cfg.StoreDSN, "Identity store DSN (postgres://... or sqlite path)")
	cmd.BoolVar(&saveFailed, "save-failed", false, "Save the identities that failed to the identity store")
	cmd.StringVar(&replay, "replay", "", "Run only the identities stored under this run id")
	cmd.BoolVar(&strict, "strict", false, "Validate the event stream and fail on protocol violations")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	logger := newLogger(cfg, stderr)

	provider, err := newObservability(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	sp, r, err := rf.build(logger, checkrunner.WithTracker(provider))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var store *identitystore.Store
	if replay != "" || saveFailed {
		var closeStore func() error
		if store, closeStore, err = openStore(ctx, storeDSN); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer func() { _ = closeStore() }()
	}

	events := r.Run(ctx)
	if replay != "" {
		ids, err := store.Load(ctx, replay, sp)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if events, err = r.Events(ctx, ids); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	rec := protocol.NewRecorder(r.RunID())
	validator := protocol.NewValidator()
	enc := json.NewEncoder(stdout)
	for e := range events {
		if strict {
			if err := validator.Observe(e); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
		}
		if err := enc.Encode(rec.Record(e)); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	if strict {
		if err := validator.Done(); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	if saveFailed {
		failed := rec.Failed(status.FAIL)
		if err := store.Save(ctx, rec.RunID(), sp, failed); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		logger.InfoContext(ctx, "saved failed identities", "run_id", rec.RunID(), "count", len(failed))
	}

	tally := rec.Tally()
	logger.InfoContext(ctx, "run finished", "run_id", rec.RunID(), "checks", tally.Total(), "tally", map[string]int(tally))
	if tally.Failed() {
		return 1
	}
	return 0
}
