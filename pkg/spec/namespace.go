package spec

import "fmt"

// Kind names a namespace partition.
type Kind string

const (
	KindIterArg         Kind = "iterargs"
	KindCondition       Kind = "conditions"
	KindAlias           Kind = "aliases"
	KindDerivedIterable Kind = "derived_iterables"
	KindExpectedValue   Kind = "expected_values"
)

// IterArg declares a per-run iteration dimension: Name is the singular
// argument checks ask for, Plural the runtime collection it indexes.
type IterArg struct {
	Name   string
	Plural string
}

// DerivedIterable names the collection of a condition's values across every
// combination of that condition's iterargs. Simple iterables hold bare
// values, others hold DerivedItem pairs.
type DerivedIterable struct {
	Name      string
	Condition string
	Simple    bool
}

// DerivedItem is one element of a non-simple derived iterable.
type DerivedItem struct {
	IterArgs IterArgs
	Value    any
}

// ExpectedValue declares a runtime value the caller is expected to supply.
// Default fills a missing value when non-nil; Validate rejects bad values
// at runner setup.
type ExpectedValue struct {
	Name        string
	Description string
	Default     any
	Validate    func(v any) error
}

// Entry is one namespace record. Exactly one of the value fields is set,
// matching Kind.
type Entry struct {
	Kind      Kind
	Name      string
	IterArg   *IterArg
	Condition *Condition
	Alias     string
	Derived   *DerivedIterable
	Expected  *ExpectedValue
}

// Value returns the payload matching the entry kind.
func (e Entry) Value() any {
	switch e.Kind {
	case KindIterArg:
		return e.IterArg
	case KindCondition:
		return e.Condition
	case KindAlias:
		return e.Alias
	case KindDerivedIterable:
		return e.Derived
	case KindExpectedValue:
		return e.Expected
	}
	return nil
}

func newEntry(kind Kind, name string, value any) (Entry, error) {
	e := Entry{Kind: kind, Name: name}
	ok := false
	switch kind {
	case KindIterArg:
		switch v := value.(type) {
		case *IterArg:
			e.IterArg, ok = v, v != nil
		case string:
			e.IterArg, ok = &IterArg{Name: name, Plural: v}, v != ""
		}
	case KindCondition:
		e.Condition, ok = value.(*Condition)
		ok = ok && e.Condition != nil
	case KindAlias:
		e.Alias, ok = value.(string)
		ok = ok && e.Alias != ""
	case KindDerivedIterable:
		e.Derived, ok = value.(*DerivedIterable)
		ok = ok && e.Derived != nil
	case KindExpectedValue:
		e.Expected, ok = value.(*ExpectedValue)
		ok = ok && e.Expected != nil
	default:
		return e, &SetupError{Msg: fmt.Sprintf("unknown namespace kind %q", kind)}
	}
	if !ok {
		return e, &SetupError{Msg: fmt.Sprintf("%s entry %q: invalid value %T", kind, name, value)}
	}
	return e, nil
}
