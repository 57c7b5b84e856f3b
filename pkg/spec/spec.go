// Package spec is the declarative registry of a check engine: iterargs,
// conditions, aliases, derived iterables, expected values and the sections
// of checks that use them.
//
// A Spec is built by explicit registration calls, then frozen. Freezing
// validates alias chains and computes every dependency closure once; the
// runner only reads a frozen spec.
package spec

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
)

// CheckSkipFilter decides, per identity, whether a check runs. A rejected
// identity is reported as SKIP with the returned message.
type CheckSkipFilter func(checkID string, iterargs map[string]any) (accepted bool, message string)

// Section is an ordered group of checks with an ordering hint.
type Section struct {
	Name string
	// Order lists iterarg names, "*iterargs" and "*check" to steer the
	// clustering of the section's executions.
	Order  []string
	checks []*Check
}

// Checks returns the section's checks in registration order.
func (s *Section) Checks() []*Check { return s.checks }

// String is the section's printable representation, used in serialized
// identities.
func (s *Section) String() string { return fmt.Sprintf("<Section: %s>", s.Name) }

// Spec is the registry of one check engine configuration.
type Spec struct {
	entries      map[string]Entry
	iterargOrder []string

	sections       []*Section
	sectionsByName map[string]*Section
	checksByID     map[string]*Check
	checkSection   map[string]*Section

	// SkipFilter is consulted for every identity before its dependencies
	// are resolved. Nil accepts everything.
	SkipFilter CheckSkipFilter

	frozen   bool
	closures map[closureKey][]string
	iterargs map[Dependent][]string
	logger   *slog.Logger
}

type closureKey struct {
	item          Dependent
	mandatoryOnly bool
}

// New creates an empty spec.
func New() *Spec {
	return &Spec{
		entries:        make(map[string]Entry),
		sectionsByName: make(map[string]*Section),
		checksByID:     make(map[string]*Check),
		checkSection:   make(map[string]*Section),
		logger:         slog.Default().With("component", "spec"),
	}
}

// Add registers value under name in the kind partition. A name may live in
// one partition only.
func (s *Spec) Add(kind Kind, name string, value any) error {
	if s.frozen {
		return &SetupError{Msg: fmt.Sprintf("cannot add %s %q", kind, name), Err: ErrFrozen}
	}
	if name == "" {
		return &SetupError{Msg: fmt.Sprintf("%s entry has an empty name", kind)}
	}
	if existing, ok := s.entries[name]; ok {
		return &NamespaceError{Name: name, Existing: existing.Kind, Requested: kind}
	}
	e, err := newEntry(kind, name, value)
	if err != nil {
		return err
	}
	s.entries[name] = e
	if kind == KindIterArg {
		s.iterargOrder = append(s.iterargOrder, name)
	}
	s.logger.Debug("registered namespace entry", "kind", kind, "name", name)
	return nil
}

// AddIterArg declares singular as an iteration over the plural collection.
func (s *Spec) AddIterArg(singular, plural string) error {
	return s.Add(KindIterArg, singular, &IterArg{Name: singular, Plural: plural})
}

// AddAlias makes name resolve to target.
func (s *Spec) AddAlias(name, target string) error {
	return s.Add(KindAlias, name, target)
}

// AddDerivedIterable declares name as the values of condition across all
// combinations of its iterargs.
func (s *Spec) AddDerivedIterable(name, condition string, simple bool) error {
	return s.Add(KindDerivedIterable, name, &DerivedIterable{Name: name, Condition: condition, Simple: simple})
}

// AddExpectedValue declares a runtime value callers are expected to supply.
func (s *Spec) AddExpectedValue(ev *ExpectedValue) error {
	if ev == nil {
		return &SetupError{Msg: "nil expected value"}
	}
	return s.Add(KindExpectedValue, ev.Name, ev)
}

// RegisterCondition adds a condition to the namespace.
func (s *Spec) RegisterCondition(c *Condition) error {
	if c == nil {
		return &SetupError{Msg: "nil condition"}
	}
	if c.Fn == nil {
		return &SetupError{Msg: fmt.Sprintf("condition %q has no function", c.Name)}
	}
	return s.Add(KindCondition, c.Name, c)
}

// RegisterCheck appends check to the named section, creating the section on
// first use. Check ids are unique across the whole spec.
func (s *Spec) RegisterCheck(section string, check *Check) error {
	if s.frozen {
		return &SetupError{Msg: fmt.Sprintf("cannot register check in section %q", section), Err: ErrFrozen}
	}
	if check == nil || check.ID == "" {
		return &SetupError{Msg: "check has no id"}
	}
	if check.Body == nil {
		return &SetupError{Msg: fmt.Sprintf("check %q has no body", check.ID)}
	}
	if _, dup := s.checksByID[check.ID]; dup {
		return &SetupError{Msg: fmt.Sprintf("check id %q is already registered", check.ID)}
	}
	sec := s.AddSection(section)
	sec.checks = append(sec.checks, check)
	s.checksByID[check.ID] = check
	s.checkSection[check.ID] = sec
	s.logger.Debug("registered check", "section", section, "check", check.ID)
	return nil
}

// AddSection returns the named section, creating it with the given ordering
// hint when it does not exist. An existing section keeps its hint unless
// the one passed is non-empty.
func (s *Spec) AddSection(name string, order ...string) *Section {
	if sec, ok := s.sectionsByName[name]; ok {
		if len(order) > 0 {
			sec.Order = order
		}
		return sec
	}
	sec := &Section{Name: name, Order: order}
	s.sections = append(s.sections, sec)
	s.sectionsByName[name] = sec
	return sec
}

// Sections returns the sections in registration order.
func (s *Spec) Sections() []*Section { return s.sections }

// Section returns a section by name.
func (s *Spec) Section(name string) (*Section, bool) {
	sec, ok := s.sectionsByName[name]
	return sec, ok
}

// Check returns a check by id along with its section.
func (s *Spec) Check(id string) (*Check, *Section, bool) {
	c, ok := s.checksByID[id]
	if !ok {
		return nil, nil, false
	}
	return c, s.checkSection[id], true
}

// IterArgs returns the declared iterargs in declaration order.
func (s *Spec) IterArgs() []*IterArg {
	out := make([]*IterArg, 0, len(s.iterargOrder))
	for _, name := range s.iterargOrder {
		out = append(out, s.entries[name].IterArg)
	}
	return out
}

// Has reports whether name is registered in any partition.
func (s *Spec) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Get returns the namespace entry for name.
func (s *Spec) Get(name string) (Entry, bool) {
	e, ok := s.entries[name]
	return e, ok
}

// GetOr returns the entry value for name, or fallback when name is unknown.
func (s *Spec) GetOr(name string, fallback any) any {
	if e, ok := s.entries[name]; ok {
		return e.Value()
	}
	return fallback
}

// GetType returns the partition name lives in.
func (s *Spec) GetType(name string) (Kind, bool) {
	e, ok := s.entries[name]
	return e.Kind, ok
}

// GetTypeOr returns the partition of name, or fallback when name is unknown.
func (s *Spec) GetTypeOr(name string, fallback Kind) Kind {
	if e, ok := s.entries[name]; ok {
		return e.Kind
	}
	return fallback
}

// Condition returns a registered condition.
func (s *Spec) Condition(name string) (*Condition, bool) {
	e, ok := s.entries[name]
	if !ok || e.Kind != KindCondition {
		return nil, false
	}
	return e.Condition, true
}

// Names returns the names registered in the kind partition, sorted.
func (s *Spec) Names(kind Kind) []string {
	var out []string
	for name, e := range s.entries {
		if e.Kind == kind {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ExpectedValues returns the declared expected values sorted by name.
func (s *Spec) ExpectedValues() []*ExpectedValue {
	var out []*ExpectedValue
	for _, e := range s.entries {
		if e.Kind == KindExpectedValue {
			out = append(out, e.Expected)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolveAlias follows alias entries from name until it reaches a name that
// is not an alias.
func (s *Spec) ResolveAlias(name string) (string, error) {
	current := name
	seen := make(map[string]bool)
	var path []string
	for {
		e, ok := s.entries[current]
		if !ok || e.Kind != KindAlias {
			return current, nil
		}
		if seen[current] {
			return "", &CircularAliasError{Name: name, Path: append(path, current)}
		}
		seen[current] = true
		path = append(path, current)
		current = e.Alias
	}
}

// Frozen reports whether Freeze has completed.
func (s *Spec) Frozen() bool { return s.frozen }

// Freeze validates the registry and computes dependency closures. It is
// idempotent; nothing can be registered afterwards.
func (s *Spec) Freeze() error {
	if s.frozen {
		return nil
	}
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := s.entries[name]
		switch e.Kind {
		case KindAlias:
			if _, err := s.ResolveAlias(name); err != nil {
				return err
			}
		case KindDerivedIterable:
			if _, ok := s.Condition(e.Derived.Condition); !ok {
				return &SetupError{Msg: fmt.Sprintf("derived iterable %q", name), Err: &MissingConditionError{Name: e.Derived.Condition}}
			}
		}
	}

	s.closures = make(map[closureKey][]string)
	s.iterargs = make(map[Dependent][]string)
	items := make([]Dependent, 0, len(s.checksByID))
	for _, name := range names {
		if c, ok := s.Condition(name); ok {
			items = append(items, c)
		}
	}
	for _, sec := range s.sections {
		for _, c := range sec.checks {
			items = append(items, c)
		}
	}
	for _, item := range items {
		for _, mandatoryOnly := range []bool{true, false} {
			s.closures[closureKey{item, mandatoryOnly}] = s.aggregate(item, mandatoryOnly)
		}
		s.iterargs[item] = s.filterIterArgs(s.closures[closureKey{item, true}])
	}
	s.frozen = true
	s.logger.Debug("spec frozen", "entries", len(s.entries), "checks", len(s.checksByID), "sections", len(s.sections))
	return nil
}

// AggregateArgs returns the transitive closure of the names item depends
// on, following condition-of-condition dependencies and aliases, sorted.
func (s *Spec) AggregateArgs(item Dependent, mandatoryOnly bool) []string {
	if s.frozen {
		if cached, ok := s.closures[closureKey{item, mandatoryOnly}]; ok {
			return slices.Clone(cached)
		}
	}
	return s.aggregate(item, mandatoryOnly)
}

// GetIterArgs returns the declared iterargs among item's mandatory closure,
// sorted by name.
func (s *Spec) GetIterArgs(item Dependent) []string {
	if s.frozen {
		if cached, ok := s.iterargs[item]; ok {
			return slices.Clone(cached)
		}
	}
	return s.filterIterArgs(s.aggregate(item, true))
}

func (s *Spec) aggregate(item Dependent, mandatoryOnly bool) []string {
	seen := make(map[string]bool)
	stack := slices.Clone(item.Dependencies(mandatoryOnly))
	slices.Reverse(stack)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[name] {
			continue
		}
		seen[name] = true

		if target, err := s.ResolveAlias(name); err == nil && target != name && !seen[target] {
			stack = append(stack, target)
			continue
		}
		if c, ok := s.Condition(name); ok {
			for _, dep := range c.Dependencies(mandatoryOnly) {
				if !seen[dep] {
					stack = append(stack, dep)
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Spec) filterIterArgs(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if kind, ok := s.GetType(name); ok && kind == KindIterArg {
			out = append(out, name)
		}
	}
	return out
}
