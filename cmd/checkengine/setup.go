package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/checkengine/pkg/checkrunner"
	"github.com/Mindburn-Labs/checkengine/pkg/config"
	"github.com/Mindburn-Labs/checkengine/pkg/declarative"
	"github.com/Mindburn-Labs/checkengine/pkg/identitystore"
	"github.com/Mindburn-Labs/checkengine/pkg/observability"
	"github.com/Mindburn-Labs/checkengine/pkg/spec"
)

// runnerFlags are the flags shared by the commands that build a runner.
type runnerFlags struct {
	specPath    string
	profilePath string
	set         multiFlag
	checks      multiFlag
	excludes    multiFlag
	order       multiFlag
}

func (f *runnerFlags) register(cmd *flag.FlagSet) {
	cmd.StringVar(&f.specPath, "spec", "", "Spec document (REQUIRED)")
	cmd.StringVar(&f.profilePath, "profile", "", "Run profile with values and runner options")
	cmd.Var(&f.set, "set", "Runtime value as name=yaml, overriding the profile (repeatable)")
	cmd.Var(&f.checks, "check", "Run only checks whose id contains this text (repeatable)")
	cmd.Var(&f.excludes, "exclude", "Skip checks whose id contains this text (repeatable)")
	cmd.Var(&f.order, "order", "Custom ordering hint entry (repeatable)")
}

// build loads the document and profile and constructs the runner.
func (f *runnerFlags) build(logger *slog.Logger, extra ...checkrunner.Option) (*spec.Spec, *checkrunner.CheckRunner, error) {
	if f.specPath == "" {
		return nil, nil, fmt.Errorf("-spec is required")
	}
	sp, err := declarative.LoadSpec(f.specPath)
	if err != nil {
		return nil, nil, err
	}

	profile := &config.RunProfile{Values: map[string]any{}}
	if f.profilePath != "" {
		if profile, err = config.LoadRunProfile(f.profilePath); err != nil {
			return nil, nil, err
		}
	}
	for _, kv := range f.set {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("invalid -set %q, want name=value", kv)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, nil, fmt.Errorf("invalid -set %q: %w", kv, err)
		}
		profile.Values[name] = v
	}

	opts := profile.RunnerOptions()
	if len(f.checks) > 0 {
		opts = append(opts, checkrunner.WithExplicitChecks(f.checks...))
	}
	if len(f.excludes) > 0 {
		opts = append(opts, checkrunner.WithExcludeChecks(f.excludes...))
	}
	if len(f.order) > 0 {
		opts = append(opts, checkrunner.WithCustomOrder(f.order...))
	}
	opts = append(opts, checkrunner.WithLogger(logger))
	opts = append(opts, extra...)

	r, err := checkrunner.New(sp, profile.Values, opts...)
	if err != nil {
		return nil, nil, err
	}
	return sp, r, nil
}

func newLogger(cfg *config.Config, stderr io.Writer) *slog.Logger {
	return slog.New(cfg.LogHandler(stderr)).With("component", "checkengine")
}

func newObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	obs := observability.DefaultConfig()
	obs.Enabled = cfg.OTelEnabled
	obs.OTLPEndpoint = cfg.OTLPEndpoint
	return observability.New(ctx, obs)
}

func openStore(ctx context.Context, dsn string) (*identitystore.Store, func() error, error) {
	if dsn == "" {
		return nil, nil, fmt.Errorf("an identity store is required: set -store or CHECKENGINE_STORE_DSN")
	}
	return identitystore.Open(ctx, dsn)
}
