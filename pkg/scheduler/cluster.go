package scheduler

import (
	"fmt"
	"slices"

	"github.com/Mindburn-Labs/checkengine/pkg/spec"
)

// item is one check with its clustering signature over the full ordering.
// signature[i] is set when the check clusters on axis i.
type item struct {
	check     *spec.Check
	signature []bool
}

// analyze computes signatures. A check stops growing its signature once none
// of the remaining axes is required by it; such checks are saturated and
// listed first.
func analyze(full []string, checks []*spec.Check, iterargsOf func(spec.Dependent) []string) []item {
	type pending struct {
		item
		requires map[string]bool
	}
	active := make([]pending, 0, len(checks))
	for _, c := range checks {
		req := make(map[string]bool)
		for _, name := range iterargsOf(c) {
			req[name] = true
		}
		active = append(active, pending{item: item{check: c}, requires: req})
	}

	var saturated []item
	for i, axis := range full {
		remaining := full[i:]
		next := active[:0]
		for _, p := range active {
			if !slices.ContainsFunc(remaining, func(a string) bool { return p.requires[a] }) {
				saturated = append(saturated, p.item)
				continue
			}
			p.signature = append(p.signature, axis == AxisCheck || p.requires[axis])
			next = append(next, p)
		}
		active = next
	}
	for _, p := range active {
		saturated = append(saturated, p.item)
	}
	return saturated
}

// compareSignatures orders signatures lexicographically, unset before set,
// a prefix before its extensions.
func compareSignatures(a, b []bool) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if !a[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

const (
	keyLeaf = "\x00leaf"
	keySkip = "\x00skip"
)

type planner struct {
	section     *spec.Section
	full        []string
	cardinality map[string]int
	out         []spec.Identity
}

func (p *planner) key(it item, depth int) string {
	switch {
	case len(it.signature) == depth:
		return keyLeaf
	case !it.signature[depth]:
		return keySkip
	default:
		return p.full[depth]
	}
}

// expand walks the sorted items one axis at a time. Items are consumed in
// contiguous runs sharing the same key at this depth; a key that shows up in
// two separate runs means the sort and the signatures disagree.
func (p *planner) expand(items []item, depth int, assigned spec.IterArgs) error {
	used := make(map[string]bool)
	for start := 0; start < len(items); {
		key := p.key(items[start], depth)
		end := start + 1
		for end < len(items) && p.key(items[end], depth) == key {
			end++
		}
		if used[key] {
			return fmt.Errorf("%w: key %q at depth %d in %s", ErrInconsistentClustering, key, depth, p.section)
		}
		used[key] = true
		run := items[start:end]

		switch key {
		case keyLeaf:
			for _, it := range run {
				p.out = append(p.out, spec.Identity{Section: p.section, Check: it.check, IterArgs: slices.Clone(assigned)})
			}
		case keySkip:
			if err := p.expand(run, depth+1, assigned); err != nil {
				return err
			}
		case AxisCheck:
			for _, it := range run {
				if err := p.expand([]item{it}, depth+1, assigned); err != nil {
					return err
				}
			}
		default:
			for index := 0; index < p.cardinality[key]; index++ {
				branch := append(slices.Clone(assigned), spec.IterArgIndex{Name: key, Index: index})
				if err := p.expand(run, depth+1, branch); err != nil {
					return err
				}
			}
		}
		start = end
	}
	return nil
}
