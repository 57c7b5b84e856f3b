package declarative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/checkengine"
	"github.com/Mindburn-Labs/checkengine/pkg/spec"
)

// SupportedVersions is the range of document versions this build reads.
const SupportedVersions = ">=1.0.0, <2.0.0"

// LoadSpec reads the document at path and builds a frozen spec from it.
func LoadSpec(path string) (*spec.Spec, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return doc.Build()
}

// Build compiles every expression and returns the frozen spec. Names are
// NFC normalized.
func (d *Document) Build() (*spec.Spec, error) {
	if err := d.checkVersion(checkengine.Version); err != nil {
		return nil, err
	}
	s := spec.New()

	for _, name := range d.IterArgs.Names {
		if err := s.AddIterArg(nfc(name), nfc(d.IterArgs.Iterables[name])); err != nil {
			return nil, err
		}
	}
	for _, ev := range d.ExpectedValues {
		built, err := ev.build()
		if err != nil {
			return nil, err
		}
		if err := s.AddExpectedValue(built); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(d.Aliases) {
		if err := s.AddAlias(nfc(name), nfc(d.Aliases[name])); err != nil {
			return nil, err
		}
	}
	for _, c := range d.Conditions {
		built, err := c.build()
		if err != nil {
			return nil, err
		}
		if err := s.RegisterCondition(built); err != nil {
			return nil, err
		}
	}
	for _, di := range d.DerivedIterables {
		if err := s.AddDerivedIterable(nfc(di.Name), nfc(di.Condition), di.Simple); err != nil {
			return nil, err
		}
	}
	for _, sec := range d.Sections {
		name := nfc(sec.Name)
		s.AddSection(name, nfcAll(sec.Order)...)
		for _, c := range sec.Checks {
			built, err := c.build()
			if err != nil {
				return nil, err
			}
			if err := s.RegisterCheck(name, built); err != nil {
				return nil, err
			}
		}
	}
	if err := s.Freeze(); err != nil {
		return nil, err
	}
	return s, nil
}

// checkVersion enforces the supported document range and the document's
// own constraint on the engine.
func (d *Document) checkVersion(engine string) error {
	v, err := semver.NewVersion(d.Version)
	if err != nil {
		return fmt.Errorf("invalid document version %s: %w", d.Version, err)
	}
	supported, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	if !supported.Check(v) {
		return fmt.Errorf("document version %s is outside %s", v, SupportedVersions)
	}
	if d.Requires == "" {
		return nil
	}
	requires, err := semver.NewConstraint(d.Requires)
	if err != nil {
		return fmt.Errorf("invalid engine constraint %q: %w", d.Requires, err)
	}
	ev, err := semver.NewVersion(engine)
	if err != nil {
		return err
	}
	if ok, errs := requires.Validate(ev); !ok {
		return fmt.Errorf("engine %s does not satisfy %q: %v", ev, d.Requires, errs)
	}
	return nil
}

func (c ConditionDoc) build() (*spec.Condition, error) {
	name := nfc(c.Name)
	args, optional := nfcAll(c.Args), nfcAll(c.OptionalArgs)
	prg, err := compile(nfc(c.Expr), append(slices.Clone(args), optional...))
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", name, err)
	}
	return &spec.Condition{
		Name:         name,
		Description:  c.Description,
		Args:         args,
		OptionalArgs: optional,
		Fn: func(ctx context.Context, a spec.Args) (any, error) {
			return prg.eval(ctx, a)
		},
	}, nil
}

func (c CheckDoc) build() (*spec.Check, error) {
	id := nfc(c.ID)
	args, optional := nfcAll(c.Args), nfcAll(c.OptionalArgs)
	prg, err := compile(nfc(c.Expr), append(slices.Clone(args), optional...))
	if err != nil {
		return nil, fmt.Errorf("check %q: %w", id, err)
	}
	return &spec.Check{
		ID:           id,
		Description:  c.Description,
		Rationale:    c.Rationale,
		Args:         args,
		OptionalArgs: optional,
		Conditions:   nfcAll(c.Conditions),
		Body: spec.Stream(func(ctx context.Context, a spec.Args, yield func(spec.Result) bool) error {
			out, err := prg.eval(ctx, a)
			if err != nil {
				return err
			}
			results, err := toResults(out)
			if err != nil {
				return err
			}
			for _, r := range results {
				if !yield(r) {
					return nil
				}
			}
			return nil
		}),
	}, nil
}

func (ev ExpectedValueDoc) build() (*spec.ExpectedValue, error) {
	out := &spec.ExpectedValue{
		Name:        nfc(ev.Name),
		Description: ev.Description,
		Default:     ev.Default,
	}
	if ev.Schema == nil {
		return out, nil
	}
	raw, err := json.Marshal(ev.Schema)
	if err != nil {
		return nil, fmt.Errorf("expected value %q schema: %w", out.Name, err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	u := fmt.Sprintf(valueSchemaURL, url.PathEscape(out.Name))
	if err := c.AddResource(u, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("expected value %q schema load failed: %w", out.Name, err)
	}
	compiled, err := c.Compile(u)
	if err != nil {
		return nil, fmt.Errorf("expected value %q schema compile failed: %w", out.Name, err)
	}
	out.Validate = func(v any) error {
		instance, err := jsonInstance(v)
		if err != nil {
			return err
		}
		return compiled.Validate(instance)
	}
	return out, nil
}

func nfc(s string) string { return norm.NFC.String(s) }

func nfcAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = nfc(s)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
