// Package scheduler computes the execution order of a spec: one linear,
// duplicate-free sequence of identities in which checks sharing iterarg
// dependencies are clustered, so conditions computed for one iterarg value
// are reused by the checks that follow.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Mindburn-Labs/checkengine/pkg/spec"
)

// Ordering hint placeholders.
const (
	// AxisIterArgs expands to every iterarg not named earlier in the hint.
	AxisIterArgs = "*iterargs"
	// AxisCheck isolates each check: all executions of one check run before
	// the next check starts on the remaining axes.
	AxisCheck = "*check"
)

// ErrInconsistentClustering marks a broken scheduler invariant. It is an
// engine defect, never caused by user input.
var ErrInconsistentClustering = errors.New("scheduler: inconsistent clustering signature collision")

// Options narrow and steer the computed order.
type Options struct {
	// CustomOrder replaces every section's ordering hint.
	CustomOrder []string
	// ExplicitChecks keeps only checks whose id contains one of the entries.
	ExplicitChecks []string
	// ExcludeChecks drops checks whose id contains one of the entries. It is
	// applied after ExplicitChecks.
	ExcludeChecks []string
}

// Scheduler computes orders for one spec and one set of iterarg
// cardinalities.
type Scheduler struct {
	spec        *spec.Spec
	cardinality map[string]int
	opts        Options
	logger      *slog.Logger
}

// New creates a scheduler. cardinality maps each iterarg name to the length
// of its runtime collection; missing iterargs have no values.
func New(s *spec.Spec, cardinality map[string]int, opts Options) *Scheduler {
	return &Scheduler{
		spec:        s,
		cardinality: cardinality,
		opts:        opts,
		logger:      slog.Default().With("component", "scheduler"),
	}
}

// Order returns the executions of every section, sections in registration
// order.
func (sc *Scheduler) Order() ([]spec.Identity, error) {
	var order []spec.Identity
	for _, section := range sc.spec.Sections() {
		sub, err := sc.SectionOrder(section)
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", section.Name, err)
		}
		order = append(order, sub...)
	}
	sc.logger.Debug("execution order computed", "identities", len(order), "sections", len(sc.spec.Sections()))
	return order, nil
}

// SectionOrder returns the executions of one section.
func (sc *Scheduler) SectionOrder(section *spec.Section) ([]spec.Identity, error) {
	hint := section.Order
	if sc.opts.CustomOrder != nil {
		hint = sc.opts.CustomOrder
	}
	iterargs := make([]string, 0, len(sc.spec.IterArgs()))
	for _, ia := range sc.spec.IterArgs() {
		iterargs = append(iterargs, ia.Name)
	}
	full := NormalizeOrder(hint, iterargs)

	items := analyze(full, sc.filter(section.Checks()), sc.spec.GetIterArgs)
	slices.SortStableFunc(items, func(a, b item) int { return compareSignatures(a.signature, b.signature) })

	p := &planner{section: section, full: full, cardinality: sc.cardinality}
	if err := p.expand(items, 0, nil); err != nil {
		return nil, err
	}
	return p.out, nil
}

func (sc *Scheduler) filter(checks []*spec.Check) []*spec.Check {
	out := checks
	if len(sc.opts.ExplicitChecks) > 0 {
		out = slices.DeleteFunc(slices.Clone(out), func(c *spec.Check) bool {
			return !matchesAny(c.ID, sc.opts.ExplicitChecks)
		})
	}
	if len(sc.opts.ExcludeChecks) > 0 {
		out = slices.DeleteFunc(slices.Clone(out), func(c *spec.Check) bool {
			return matchesAny(c.ID, sc.opts.ExcludeChecks)
		})
	}
	return out
}

func matchesAny(id string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(id, p) {
			return true
		}
	}
	return false
}

// NormalizeOrder turns an ordering hint into the full ordering of axes:
// duplicates removed, AxisIterArgs expanded to the iterargs (declaration
// order) not named before it, AxisIterArgs appended when absent and AxisCheck
// appended when absent.
func NormalizeOrder(hint []string, iterargs []string) []string {
	stack := slices.Clone(hint)
	if !slices.Contains(stack, AxisIterArgs) {
		stack = append(stack, AxisIterArgs)
	}
	seen := make(map[string]bool)
	full := make([]string, 0, len(stack)+len(iterargs)+1)
	for _, axis := range stack {
		if axis == AxisIterArgs {
			for _, name := range iterargs {
				if !seen[name] {
					seen[name] = true
					full = append(full, name)
				}
			}
			continue
		}
		if seen[axis] {
			continue
		}
		seen[axis] = true
		full = append(full, axis)
	}
	if !seen[AxisCheck] {
		full = append(full, AxisCheck)
	}
	return full
}
