package spec

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"
)

// IterArgIndex binds one iterarg to an index into its collection.
type IterArgIndex struct {
	Name  string
	Index int
}

// IterArgs is an ordered set of iterarg bindings. The order reflects the
// scheduler's clustering, not the names.
type IterArgs []IterArgIndex

// Get returns the index bound to name.
func (ia IterArgs) Get(name string) (int, bool) {
	for _, a := range ia {
		if a.Name == name {
			return a.Index, true
		}
	}
	return 0, false
}

// Sorted returns a copy ordered by name.
func (ia IterArgs) Sorted() IterArgs {
	out := slices.Clone(ia)
	slices.SortFunc(out, func(a, b IterArgIndex) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Filter returns the bindings whose names are in keep, in the original order.
func (ia IterArgs) Filter(keep []string) IterArgs {
	out := make(IterArgs, 0, len(keep))
	for _, a := range ia {
		if slices.Contains(keep, a.Name) {
			out = append(out, a)
		}
	}
	return out
}

func (ia IterArgs) String() string {
	parts := make([]string, len(ia))
	for i, a := range ia {
		parts[i] = a.Name + "=" + strconv.Itoa(a.Index)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Identity is one execution unit: a check of a section under concrete
// iterargs. Run-level events carry an empty identity, section-level events
// one without a check.
type Identity struct {
	Section  *Section
	Check    *Check
	IterArgs IterArgs
}

// Key is a stable string for identity membership tests. It ignores the
// order of the iterargs.
func (id Identity) Key() string {
	var b strings.Builder
	if id.Section != nil {
		b.WriteString(id.Section.Name)
	}
	b.WriteByte('|')
	if id.Check != nil {
		b.WriteString(id.Check.ID)
	}
	b.WriteByte('|')
	b.WriteString(id.IterArgs.Sorted().String())
	return b.String()
}

func (id Identity) String() string {
	section, check := "-", "-"
	if id.Section != nil {
		section = id.Section.Name
	}
	if id.Check != nil {
		check = id.Check.ID
	}
	return fmt.Sprintf("%s/%s%s", section, check, id.IterArgs)
}

// SerializeIdentity encodes id as canonical JSON:
// [section repr, check id, [[iterarg, index], ...] sorted by iterarg].
func (s *Spec) SerializeIdentity(id Identity) (string, error) {
	if id.Section == nil || id.Check == nil {
		return "", &SetupError{Msg: "only check identities can be serialized"}
	}
	pairs := make([][2]any, 0, len(id.IterArgs))
	for _, a := range id.IterArgs.Sorted() {
		pairs = append(pairs, [2]any{a.Name, a.Index})
	}
	raw, err := json.Marshal([]any{id.Section.String(), id.Check.ID, pairs})
	if err != nil {
		return "", fmt.Errorf("marshal identity: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize identity: %w", err)
	}
	return string(canonical), nil
}

// DeserializeIdentity decodes an identity produced by SerializeIdentity. It
// rejects sections, checks and iterargs this spec does not declare.
func (s *Spec) DeserializeIdentity(data string) (Identity, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(data), &parts); err != nil {
		return Identity{}, &SetupError{Msg: "decode identity", Err: err}
	}
	if len(parts) != 3 {
		return Identity{}, &SetupError{Msg: fmt.Sprintf("identity must have 3 items, has %d", len(parts))}
	}

	var sectionRepr, checkID string
	if err := json.Unmarshal(parts[0], &sectionRepr); err != nil {
		return Identity{}, &SetupError{Msg: "decode identity section", Err: err}
	}
	if err := json.Unmarshal(parts[1], &checkID); err != nil {
		return Identity{}, &SetupError{Msg: "decode identity check", Err: err}
	}
	var pairs [][]json.RawMessage
	if err := json.Unmarshal(parts[2], &pairs); err != nil {
		return Identity{}, &SetupError{Msg: "decode identity iterargs", Err: err}
	}

	var section *Section
	for _, sec := range s.sections {
		if sec.String() == sectionRepr {
			section = sec
			break
		}
	}
	if section == nil {
		return Identity{}, &SetupError{Msg: fmt.Sprintf("section %s", sectionRepr), Err: ErrUnknownSection}
	}
	var check *Check
	for _, c := range section.checks {
		if c.ID == checkID {
			check = c
			break
		}
	}
	if check == nil {
		return Identity{}, &SetupError{Msg: fmt.Sprintf("check %q in %s", checkID, sectionRepr), Err: ErrUnknownCheck}
	}

	iterargs := make(IterArgs, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return Identity{}, &SetupError{Msg: "iterarg binding must have 2 items"}
		}
		var name string
		var index int
		if err := json.Unmarshal(pair[0], &name); err != nil {
			return Identity{}, &SetupError{Msg: "decode iterarg name", Err: err}
		}
		if err := json.Unmarshal(pair[1], &index); err != nil {
			return Identity{}, &SetupError{Msg: "decode iterarg index", Err: err}
		}
		if kind, ok := s.GetType(name); !ok || kind != KindIterArg {
			return Identity{}, &SetupError{Msg: fmt.Sprintf("iterarg %q", name), Err: ErrUnknownIterArg}
		}
		iterargs = append(iterargs, IterArgIndex{Name: name, Index: index})
	}
	return Identity{Section: section, Check: check, IterArgs: iterargs}, nil
}
