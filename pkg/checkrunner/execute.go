package checkrunner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/checkengine/pkg/observability"
	"github.com/Mindburn-Labs/checkengine/pkg/protocol"
	"github.com/Mindburn-Labs/checkengine/pkg/spec"
	"github.com/Mindburn-Labs/checkengine/pkg/status"
)

type checkState int

const (
	stateNotStarted checkState = iota
	stateRunning
	stateHasResults
	stateDone
)

func (s checkState) String() string {
	switch s {
	case stateNotStarted:
		return "not_started"
	case stateRunning:
		return "running"
	case stateHasResults:
		return "has_results"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("checkState(%d)", int(s))
}

// execution is one check identity moving through
// NotStarted -> Running -> HasResults -> Done.
type execution struct {
	id       spec.Identity
	yield    func(protocol.Event) bool
	state    checkState
	worst    *status.Status
	firstErr error
	stopped  bool
}

func (x *execution) emit(s *status.Status, msg any) bool {
	if x.stopped {
		return false
	}
	if !x.yield(protocol.Event{Status: s, Message: msg, Identity: x.id}) {
		x.stopped = true
		return false
	}
	return true
}

func (x *execution) start() bool {
	if x.state != stateNotStarted {
		panic(fmt.Sprintf("checkrunner: start in state %s", x.state))
	}
	x.state = stateRunning
	return x.emit(status.STARTCHECK, nil)
}

func (x *execution) result(s *status.Status, msg any) bool {
	if x.state != stateRunning && x.state != stateHasResults {
		panic(fmt.Sprintf("checkrunner: result in state %s", x.state))
	}
	x.state = stateHasResults
	x.worst = status.Max(x.worst, s)
	if err, ok := msg.(error); ok && x.firstErr == nil {
		x.firstErr = err
	}
	return x.emit(s, msg)
}

// finish adds the explanatory ERROR results a summary may need and closes
// the check.
func (x *execution) finish() (*status.Status, bool) {
	switch {
	case x.state == stateRunning:
		if !x.result(status.ERROR, fmt.Sprintf("The check %s did not yield any status", x.id.Check.ID)) {
			return nil, false
		}
	case x.worst.Less(status.PASS):
		msg := fmt.Sprintf("The most significant status of %s was only %s but the minimum is %s", x.id.Check.ID, x.worst, status.PASS)
		if !x.result(status.ERROR, msg) {
			return nil, false
		}
	}
	x.state = stateDone
	summary := x.worst
	return summary, x.emit(status.ENDCHECK, summary)
}

// runCheck emits STARTCHECK, the results and ENDCHECK for id. It reports
// false when the consumer stopped.
func (r *CheckRunner) runCheck(ctx context.Context, id spec.Identity, yield func(protocol.Event) bool) (*status.Status, bool) {
	begin := r.clock()
	attrs := []attribute.KeyValue{
		observability.AttrRunID.String(r.runID),
		observability.AttrSection.String(id.Section.Name),
		observability.AttrCheck.String(id.Check.ID),
		observability.AttrIterArgs.String(id.IterArgs.String()),
	}
	ctx, finish := r.tracker.TrackOperation(ctx, "checkengine.check", attrs...)

	x := &execution{id: id, yield: yield}
	if !x.start() || !r.execute(ctx, x) {
		finish(x.firstErr)
		return nil, false
	}
	summary, ok := x.finish()
	if summary != nil {
		r.tracker.RecordSummary(ctx, summary.Name(), attrs...)
	}
	finish(x.firstErr)

	r.logger.DebugContext(ctx, "check finished",
		"check", id.String(),
		"summary", summary,
		"duration", r.clock().Sub(begin),
	)
	return summary, ok
}

// execute resolves the dependencies of x and runs the body. Dependency
// problems produce a single SKIP or ERROR result and the body never runs.
func (r *CheckRunner) execute(ctx context.Context, x *execution) bool {
	check := x.id.Check

	if filter := r.spec.SkipFilter; filter != nil {
		if accepted, msg := filter(check.ID, r.iterargValues(x.id.IterArgs)); !accepted {
			return x.result(status.SKIP, "Filtered: "+msg)
		}
	}

	unmet, err := r.checkConditions(ctx, check, x.id.IterArgs)
	if err != nil {
		return x.result(status.ERROR, err)
	}
	if len(unmet) > 0 {
		return x.result(status.SKIP, "Unfulfilled Conditions: "+strings.Join(unmet, ", "))
	}

	args, err := r.resolveArgs(ctx, check.Args, check.OptionalArgs, x.id.IterArgs, nil)
	if err != nil {
		return x.result(status.ERROR, &spec.FailedDependenciesError{CheckID: check.ID, Err: err})
	}
	return r.drain(ctx, x, args)
}

// drain forwards every result of the body. An error or panic ends the body
// with one ERROR result; results already forwarded stay. Panics raised by the
// consumer while a result is being forwarded are not recovered.
func (r *CheckRunner) drain(ctx context.Context, x *execution, args spec.Args) (ok bool) {
	forwarding := false
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if forwarding {
			panic(p)
		}
		r.logger.WarnContext(ctx, "check panicked", "check", x.id.String(), "panic", p)
		ok = x.result(status.ERROR, &spec.FailedCheckError{Err: fmt.Errorf("panic: %v", p), Trace: string(debug.Stack())})
	}()

	for res, err := range x.id.Check.Body(ctx, args) {
		var s *status.Status
		var msg any
		if err != nil {
			s, msg = status.ERROR, &spec.FailedCheckError{Err: err}
		} else {
			s, msg = normalize(x.id.Check, res)
		}

		forwarding = true
		cont := x.result(s, msg)
		forwarding = false
		if !cont || err != nil {
			return cont
		}
	}
	return true
}

// normalize validates a body result. Booleans map to PASS and FAIL; anything
// that is not a log status becomes a FAIL carrying an API violation.
func normalize(check *spec.Check, res spec.Result) (*status.Status, any) {
	switch s := res.Status.(type) {
	case *status.Status:
		if s == nil {
			break
		}
		if s.IsStructural() {
			return status.FAIL, &spec.APIViolationError{
				Msg:    fmt.Sprintf("check %s yielded the structural status %s", check.ID, s),
				Result: res,
			}
		}
		return s, res.Message
	case bool:
		if s {
			return status.PASS, res.Message
		}
		return status.FAIL, res.Message
	}
	return status.FAIL, &spec.APIViolationError{
		Msg:    fmt.Sprintf("check %s yielded a status of type %T, want *status.Status or bool", check.ID, res.Status),
		Result: res,
	}
}

// checkConditions returns the declared conditions that are not met.
// A value registered under the exact declared string is used as is; a value
// under the bare condition name stands in for its evaluation.
func (r *CheckRunner) checkConditions(ctx context.Context, check *spec.Check, iterargs spec.IterArgs) ([]string, error) {
	var unmet []string
	for _, declared := range check.Conditions {
		if v, ok := r.values[declared]; ok {
			if !truthy(v) {
				unmet = append(unmet, declared)
			}
			continue
		}
		negated, name := spec.ParseCondition(declared)
		v, err := r.conditionValue(ctx, name, iterargs)
		if err != nil {
			return nil, err
		}
		if truthy(v) == negated {
			unmet = append(unmet, declared)
		}
	}
	return unmet, nil
}

func (r *CheckRunner) conditionValue(ctx context.Context, name string, iterargs spec.IterArgs) (any, error) {
	v, err := r.resolve(ctx, name, iterargs, nil)
	var missing *spec.MissingValueError
	if errors.As(err, &missing) && missing.Name == name {
		return nil, &spec.MissingConditionError{Name: name}
	}
	return v, err
}

func (r *CheckRunner) iterargValues(iterargs spec.IterArgs) map[string]any {
	out := make(map[string]any, len(iterargs))
	for _, a := range iterargs {
		if items := r.collections[a.Name]; a.Index >= 0 && a.Index < len(items) {
			out[a.Name] = items[a.Index]
		}
	}
	return out
}
