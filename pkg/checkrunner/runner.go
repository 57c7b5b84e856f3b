// Package checkrunner evaluates a frozen spec over concrete runtime values.
//
// A CheckRunner binds values to registered names, computes the execution
// order once and then produces the event stream of a run lazily: nothing is
// evaluated ahead of the consumer. Conditions are memoized per run and per
// the subset of iterargs they depend on.
package checkrunner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/checkengine/pkg/observability"
	"github.com/Mindburn-Labs/checkengine/pkg/protocol"
	"github.com/Mindburn-Labs/checkengine/pkg/scheduler"
	"github.com/Mindburn-Labs/checkengine/pkg/spec"
	"github.com/Mindburn-Labs/checkengine/pkg/status"
)

// ErrOrderNotSubset is returned when a partial order names an identity the
// runner would not execute.
var ErrOrderNotSubset = errors.New("order is not a subset of the full execution order")

// Tracker observes runs and check executions.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
	RecordSummary(ctx context.Context, summary string, attrs ...attribute.KeyValue)
}

type nopTracker struct{}

func (nopTracker) TrackOperation(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (nopTracker) RecordSummary(context.Context, string, ...attribute.KeyValue) {}

// CheckRunner owns the concrete values and condition cache of one run
// configuration.
type CheckRunner struct {
	spec        *spec.Spec
	values      map[string]any
	collections map[string][]any // iterarg name -> items of its plural value
	order       []spec.Identity
	runID       string
	cache       *conditionCache

	allowShadowing bool
	schedule       scheduler.Options
	logger         *slog.Logger
	tracker        Tracker
	clock          func() time.Time
}

// Option configures a CheckRunner.
type Option func(*CheckRunner)

// WithAllowShadowing lets runtime values override namespace entries of the
// same name.
func WithAllowShadowing(allow bool) Option {
	return func(r *CheckRunner) { r.allowShadowing = allow }
}

// WithCustomOrder replaces every section's ordering hint.
func WithCustomOrder(order ...string) Option {
	return func(r *CheckRunner) { r.schedule.CustomOrder = order }
}

// WithExplicitChecks runs only checks whose id contains one of ids.
func WithExplicitChecks(ids ...string) Option {
	return func(r *CheckRunner) { r.schedule.ExplicitChecks = ids }
}

// WithExcludeChecks skips checks whose id contains one of ids.
func WithExcludeChecks(ids ...string) Option {
	return func(r *CheckRunner) { r.schedule.ExcludeChecks = ids }
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *CheckRunner) { r.logger = logger }
}

// WithTracker reports runs and checks to t.
func WithTracker(t Tracker) Option {
	return func(r *CheckRunner) { r.tracker = t }
}

// WithClock overrides the clock used for check durations.
func WithClock(clock func() time.Time) Option {
	return func(r *CheckRunner) { r.clock = clock }
}

// New freezes s, binds values and computes the execution order. Every
// configuration problem is reported here, before any event is produced.
func New(s *spec.Spec, values map[string]any, opts ...Option) (*CheckRunner, error) {
	r := &CheckRunner{
		spec:        s,
		values:      maps.Clone(values),
		collections: make(map[string][]any),
		cache:       newConditionCache(),
		logger:      slog.Default().With("component", "checkrunner"),
		tracker:     nopTracker{},
		clock:       time.Now,
	}
	if r.values == nil {
		r.values = make(map[string]any)
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := s.Freeze(); err != nil {
		return nil, err
	}
	if err := r.bindExpectedValues(); err != nil {
		return nil, err
	}
	if err := r.checkShadowing(); err != nil {
		return nil, err
	}
	if err := r.bindCollections(); err != nil {
		return nil, err
	}
	if err := r.checkDerivedIterables(); err != nil {
		return nil, err
	}

	cardinality := make(map[string]int, len(r.collections))
	for name, items := range r.collections {
		cardinality[name] = len(items)
	}
	order, err := scheduler.New(s, cardinality, r.schedule).Order()
	if err != nil {
		return nil, fmt.Errorf("compute execution order: %w", err)
	}
	r.order = order
	r.runID = uuid.NewString()

	r.logger.Debug("runner ready", "run_id", r.runID, "identities", len(order), "values", len(r.values))
	return r, nil
}

func (r *CheckRunner) bindExpectedValues() error {
	for _, ev := range r.spec.ExpectedValues() {
		if _, ok := r.values[ev.Name]; !ok && ev.Default != nil {
			r.values[ev.Name] = ev.Default
		}
		v, ok := r.values[ev.Name]
		if !ok || ev.Validate == nil {
			continue
		}
		if err := ev.Validate(v); err != nil {
			return &spec.SetupError{Msg: fmt.Sprintf("expected value %q is invalid", ev.Name), Err: err}
		}
	}
	return nil
}

func (r *CheckRunner) checkShadowing() error {
	if r.allowShadowing {
		return nil
	}
	for name := range r.values {
		kind, ok := r.spec.GetType(name)
		if !ok || kind == spec.KindExpectedValue {
			continue
		}
		return &spec.SetupError{Msg: fmt.Sprintf("value %q shadows a registered %s entry; allow shadowing to override it", name, kind)}
	}
	return nil
}

func (r *CheckRunner) bindCollections() error {
	for _, ia := range r.spec.IterArgs() {
		v, ok := r.values[ia.Plural]
		if !ok {
			r.collections[ia.Name] = nil
			continue
		}
		items, err := toSequence(v)
		if err != nil {
			return &spec.SetupError{Msg: fmt.Sprintf("value %q for iterarg %q", ia.Plural, ia.Name), Err: err}
		}
		r.collections[ia.Name] = items
	}
	return nil
}

func (r *CheckRunner) checkDerivedIterables() error {
	for _, name := range r.spec.Names(spec.KindDerivedIterable) {
		e, _ := r.spec.Get(name)
		cond, _ := r.spec.Condition(e.Derived.Condition)
		if len(r.spec.GetIterArgs(cond)) == 0 {
			return &spec.SetupError{Msg: fmt.Sprintf("derived iterable %q: condition %q depends on no iterarg", name, cond.Name)}
		}
	}
	return nil
}

// toSequence snapshots a slice or array of any element type.
func toSequence(v any) ([]any, error) {
	if items, ok := v.([]any); ok {
		return append([]any(nil), items...), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%T is not a sequence", v)
	}
}

// RunID identifies this runner's runs in logs, traces and stores.
func (r *CheckRunner) RunID() string { return r.runID }

// Spec returns the frozen spec the runner evaluates.
func (r *CheckRunner) Spec() *spec.Spec { return r.spec }

// Order returns the full execution order.
func (r *CheckRunner) Order() []spec.Identity {
	return append([]spec.Identity(nil), r.order...)
}

// Run is Events over the full order.
func (r *CheckRunner) Run(ctx context.Context) iter.Seq[protocol.Event] {
	return r.events(ctx, r.order)
}

// Events returns the event stream for order, which must be a subset of the
// full order. A nil order runs everything. Identities are matched ignoring
// the order of their iterargs and replaced by the runner's own, so events
// keep the clustering order of iterargs; duplicates run once.
func (r *CheckRunner) Events(ctx context.Context, order []spec.Identity) (iter.Seq[protocol.Event], error) {
	if order == nil {
		return r.events(ctx, r.order), nil
	}
	known := make(map[string]spec.Identity, len(r.order))
	for _, id := range r.order {
		known[id.Key()] = id
	}
	seen := make(map[string]bool, len(order))
	resolved := make([]spec.Identity, 0, len(order))
	for _, id := range order {
		key := id.Key()
		own, ok := known[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotSubset, id)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		resolved = append(resolved, own)
	}
	return r.events(ctx, resolved), nil
}

func (r *CheckRunner) events(ctx context.Context, order []spec.Identity) iter.Seq[protocol.Event] {
	return func(yield func(protocol.Event) bool) {
		ctx, finish := r.tracker.TrackOperation(ctx, "checkengine.run", observability.AttrRunID.String(r.runID))
		var runErr error
		defer func() { finish(runErr) }()

		r.logger.InfoContext(ctx, "run started", "run_id", r.runID, "identities", len(order))
		if !yield(protocol.Event{Status: status.START, Message: order}) {
			return
		}

		total := protocol.Tally{}
		for start := 0; start < len(order); {
			section := order[start].Section
			end := start + 1
			for end < len(order) && order[end].Section == section {
				end++
			}
			sub := order[start:end]
			sectionID := spec.Identity{Section: section}

			if !yield(protocol.Event{Status: status.STARTSECTION, Message: sub, Identity: sectionID}) {
				return
			}
			tally := protocol.Tally{}
			for _, id := range sub {
				summary, ok := r.runCheck(ctx, id, yield)
				if !ok {
					return
				}
				tally.Add(summary)
			}
			if !yield(protocol.Event{Status: status.ENDSECTION, Message: tally.Clone(), Identity: sectionID}) {
				return
			}
			total.Merge(tally)
			start = end
		}

		if total.Failed() {
			runErr = fmt.Errorf("run %s finished with failures", r.runID)
		}
		r.logger.InfoContext(ctx, "run finished", "run_id", r.runID, "tally", map[string]int(total))
		yield(protocol.Event{Status: status.END, Message: total})
	}
}
