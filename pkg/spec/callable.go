package spec

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/Mindburn-Labs/checkengine/pkg/status"
)

// Args holds the resolved arguments passed to a condition or check body.
type Args map[string]any

// Arg returns the argument name converted to T.
func Arg[T any](args Args, name string) (T, error) {
	var zero T
	v, ok := args[name]
	if !ok {
		return zero, &MissingValueError{Name: name}
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("argument %q is %T, not %T", name, v, zero)
	}
	return t, nil
}

// Dependent is anything that declares argument names: checks and conditions.
type Dependent interface {
	// Dependencies returns the declared names this item needs, optional
	// names included unless mandatoryOnly is set.
	Dependencies(mandatoryOnly bool) []string
}

// ConditionFunc computes a condition value from resolved arguments.
type ConditionFunc func(ctx context.Context, args Args) (any, error)

// Condition is a named, memoized computation usable as a check dependency.
type Condition struct {
	Name         string
	Description  string
	Args         []string
	OptionalArgs []string
	Fn           ConditionFunc
}

func (c *Condition) Dependencies(mandatoryOnly bool) []string {
	if mandatoryOnly {
		return append([]string(nil), c.Args...)
	}
	return append(append([]string(nil), c.Args...), c.OptionalArgs...)
}

// Result is one item produced by a check body.
// Status holds a *status.Status or a bool (true is PASS, false is FAIL);
// anything else is reported as an API violation.
type Result struct {
	Status  any
	Message any
}

// R builds a Result.
func R(s *status.Status, msg any) Result {
	return Result{Status: s, Message: msg}
}

// Body produces the results of one check execution. A non-nil error ends the
// sequence; results yielded before it are kept.
type Body func(ctx context.Context, args Args) iter.Seq2[Result, error]

// Single adapts a body that produces exactly one result.
func Single(fn func(ctx context.Context, args Args) (Result, error)) Body {
	return func(ctx context.Context, args Args) iter.Seq2[Result, error] {
		return func(yield func(Result, error) bool) {
			r, err := fn(ctx, args)
			yield(r, err)
		}
	}
}

// Stream adapts a body that emits any number of results through yield and
// may fail part way.
func Stream(fn func(ctx context.Context, args Args, yield func(Result) bool) error) Body {
	return func(ctx context.Context, args Args) iter.Seq2[Result, error] {
		return func(yield func(Result, error) bool) {
			stopped := false
			err := fn(ctx, args, func(r Result) bool {
				if stopped {
					return false
				}
				if !yield(r, nil) {
					stopped = true
				}
				return !stopped
			})
			if err != nil && !stopped {
				yield(Result{}, err)
			}
		}
	}
}

// Check is one registered check.
type Check struct {
	ID           string
	Description  string
	Rationale    string
	Args         []string
	OptionalArgs []string
	// Conditions lists condition names, optionally prefixed with "not " or
	// "!" to require the condition to be false.
	Conditions []string
	Body       Body
}

func (c *Check) Dependencies(mandatoryOnly bool) []string {
	deps := append([]string(nil), c.Args...)
	if !mandatoryOnly {
		deps = append(deps, c.OptionalArgs...)
	}
	for _, cond := range c.Conditions {
		_, name := ParseCondition(cond)
		deps = append(deps, name)
	}
	return deps
}

func (c *Check) String() string { return fmt.Sprintf("<Check %s>", c.ID) }

// ParseCondition splits the negation prefix off a declared condition.
// "not foo" and "!foo" both yield (true, "foo").
func ParseCondition(declared string) (negated bool, name string) {
	stripped := strings.TrimSpace(declared)
	switch {
	case strings.HasPrefix(stripped, "not "):
		return true, strings.TrimSpace(stripped[len("not "):])
	case strings.HasPrefix(stripped, "!"):
		return true, strings.TrimSpace(stripped[1:])
	default:
		return false, stripped
	}
}
