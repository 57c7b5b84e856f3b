package checkrunner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/checkengine/pkg/protocol"
	"github.com/Mindburn-Labs/checkengine/pkg/spec"
	"github.com/Mindburn-Labs/checkengine/pkg/status"
)

type ttFont struct{ path string }

type fontFixture struct {
	spec        *spec.Spec
	ttfontCalls int
	isTTFCalls  int
	seen        []*ttFont
}

// newFontFixture declares font/fonts with ttfont(font) and is_ttf(ttfont).
func newFontFixture(t *testing.T) *fontFixture {
	t.Helper()
	f := &fontFixture{spec: spec.New()}
	require.NoError(t, f.spec.AddIterArg("font", "fonts"))
	require.NoError(t, f.spec.RegisterCondition(&spec.Condition{
		Name: "ttfont",
		Args: []string{"font"},
		Fn: func(_ context.Context, args spec.Args) (any, error) {
			f.ttfontCalls++
			path, err := spec.Arg[string](args, "font")
			if err != nil {
				return nil, err
			}
			return &ttFont{path: path}, nil
		},
	}))
	require.NoError(t, f.spec.RegisterCondition(&spec.Condition{
		Name: "is_ttf",
		Args: []string{"ttfont"},
		Fn: func(_ context.Context, args spec.Args) (any, error) {
			f.isTTFCalls++
			font, err := spec.Arg[*ttFont](args, "ttfont")
			if err != nil {
				return nil, err
			}
			return strings.HasSuffix(font.path, ".ttf"), nil
		},
	}))
	return f
}

func (f *fontFixture) register(t *testing.T, section string, c *spec.Check) {
	t.Helper()
	require.NoError(t, f.spec.RegisterCheck(section, c))
}

func pass(msg string) spec.Body {
	return spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
		return spec.R(status.PASS, msg), nil
	})
}

func fonts(paths ...string) map[string]any {
	return map[string]any{"fonts": paths}
}

func collect(t *testing.T, events iter.Seq[protocol.Event]) []protocol.Event {
	t.Helper()
	all := slices.Collect(events)
	require.NoError(t, protocol.Validate(slices.Values(all)), "runner streams always keep the protocol")
	return all
}

// byCheck splits the stream into STARTCHECK..ENDCHECK spans keyed by the
// identity string.
func byCheck(events []protocol.Event) map[string][]protocol.Event {
	out := make(map[string][]protocol.Event)
	var current string
	for _, e := range events {
		if e.Status == status.STARTCHECK {
			current = e.Identity.String()
		}
		if e.Identity.Check != nil {
			out[current] = append(out[current], e)
		}
	}
	return out
}

func summaryOf(t *testing.T, span []protocol.Event) *status.Status {
	t.Helper()
	require.NotEmpty(t, span)
	last := span[len(span)-1]
	require.Same(t, status.ENDCHECK, last.Status)
	s, ok := last.Message.(*status.Status)
	require.True(t, ok)
	return s
}

func TestRun_ThreeFontsOneCheck(t *testing.T) {
	f := newFontFixture(t)
	f.register(t, "Basics", &spec.Check{ID: "font/exists", Args: []string{"font"}, Body: pass("ok")})

	r, err := New(f.spec, fonts("a.ttf", "b.otf", "c.ttf"))
	require.NoError(t, err)
	require.Len(t, r.Order(), 3)
	for i, id := range r.Order() {
		idx, ok := id.IterArgs.Get("font")
		require.True(t, ok)
		require.Equal(t, i, idx)
	}
	require.NotEmpty(t, r.RunID())

	events := collect(t, r.Run(context.Background()))
	require.Len(t, events, 2+3*3+2)
	require.Same(t, status.START, events[0].Status)
	require.Len(t, events[0].Message, 3)

	end := events[len(events)-1]
	require.Same(t, status.END, end.Status)
	require.Equal(t, protocol.Tally{"PASS": 3}, end.Message)
}

func TestRun_ConditionMemoization(t *testing.T) {
	f := newFontFixture(t)
	capture := func(id string) *spec.Check {
		return &spec.Check{
			ID:   id,
			Args: []string{"ttfont"},
			Body: spec.Single(func(_ context.Context, args spec.Args) (spec.Result, error) {
				font, err := spec.Arg[*ttFont](args, "ttfont")
				if err != nil {
					return spec.Result{}, err
				}
				f.seen = append(f.seen, font)
				return spec.R(status.PASS, font.path), nil
			}),
		}
	}
	f.register(t, "Basics", capture("first"))
	f.register(t, "Basics", capture("second"))

	r, err := New(f.spec, fonts("a.ttf", "b.ttf"))
	require.NoError(t, err)
	collect(t, r.Run(context.Background()))

	require.Equal(t, 2, f.ttfontCalls, "one evaluation per font")
	require.Len(t, f.seen, 4)
	// Clustering runs both checks for font 0 before font 1.
	require.Same(t, f.seen[0], f.seen[1])
	require.Same(t, f.seen[2], f.seen[3])
	require.NotSame(t, f.seen[0], f.seen[2])
	require.Equal(t, 2, r.cache.len())

	first, err := r.Get(context.Background(), "ttfont", spec.IterArgs{{Name: "font", Index: 0}})
	require.NoError(t, err)
	require.Same(t, f.seen[0], first)
	require.Equal(t, 2, f.ttfontCalls, "cache hits never re-invoke the condition")
}

func TestRun_ConditionKeyIgnoresUnrelatedIterArgs(t *testing.T) {
	f := newFontFixture(t)
	require.NoError(t, f.spec.AddIterArg("glyph", "glyphs"))
	f.register(t, "Glyphs", &spec.Check{ID: "glyph/in-font", Args: []string{"ttfont", "glyph"}, Body: pass("ok")})

	r, err := New(f.spec, map[string]any{"fonts": []string{"a.ttf"}, "glyphs": []string{"a", "b", "c"}})
	require.NoError(t, err)
	events := collect(t, r.Run(context.Background()))

	require.Equal(t, 1, f.ttfontCalls)
	require.Equal(t, protocol.Tally{"PASS": 3}, events[len(events)-1].Message)
}

func TestRun_NegatedConditionSkips(t *testing.T) {
	f := newFontFixture(t)
	called := false
	f.register(t, "Basics", &spec.Check{
		ID:         "otf/only",
		Args:       []string{"font"},
		Conditions: []string{"not is_ttf"},
		Body: spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
			called = true
			return spec.R(status.FAIL, "never"), nil
		}),
	})

	r, err := New(f.spec, fonts("a.ttf"))
	require.NoError(t, err)
	span := byCheck(collect(t, r.Run(context.Background())))["Basics/otf/only(font=0)"]

	require.Len(t, span, 3, "the SKIP is the only sub-result")
	require.Same(t, status.SKIP, span[1].Status)
	require.Contains(t, span[1].Message, "is_ttf")
	require.Same(t, status.SKIP, summaryOf(t, span))
	require.False(t, called)
}

func TestRun_BangNegationAndMetConditions(t *testing.T) {
	f := newFontFixture(t)
	f.register(t, "Basics", &spec.Check{ID: "ttf/only", Conditions: []string{"is_ttf"}, Body: pass("ttf")})
	f.register(t, "Basics", &spec.Check{ID: "not/ttf", Conditions: []string{"!is_ttf"}, Body: pass("otf")})

	r, err := New(f.spec, fonts("a.ttf", "b.otf"))
	require.NoError(t, err)
	spans := byCheck(collect(t, r.Run(context.Background())))

	require.Same(t, status.PASS, summaryOf(t, spans["Basics/ttf/only(font=0)"]))
	require.Same(t, status.SKIP, summaryOf(t, spans["Basics/ttf/only(font=1)"]))
	require.Same(t, status.SKIP, summaryOf(t, spans["Basics/not/ttf(font=0)"]))
	require.Same(t, status.PASS, summaryOf(t, spans["Basics/not/ttf(font=1)"]))
	require.Equal(t, 2, f.isTTFCalls, "negation shares the cached evaluation")
}

func TestRun_NegationOverrides(t *testing.T) {
	t.Run("exact declared name is used as is", func(t *testing.T) {
		f := newFontFixture(t)
		f.register(t, "Basics", &spec.Check{ID: "c", Args: []string{"font"}, Conditions: []string{"not is_ttf"}, Body: pass("ran")})

		values := fonts("a.ttf")
		values["not is_ttf"] = true
		r, err := New(f.spec, values)
		require.NoError(t, err)
		span := byCheck(collect(t, r.Run(context.Background())))["Basics/c(font=0)"]

		require.Same(t, status.PASS, summaryOf(t, span))
		require.Zero(t, f.isTTFCalls)
		require.Zero(t, f.ttfontCalls)
	})

	t.Run("bare condition value is inverted", func(t *testing.T) {
		f := newFontFixture(t)
		f.register(t, "Basics", &spec.Check{ID: "c", Args: []string{"font"}, Conditions: []string{"not is_ttf"}, Body: pass("ran")})

		values := fonts("a.ttf")
		values["is_ttf"] = false
		_, err := New(f.spec, values)
		var setupErr *spec.SetupError
		require.ErrorAs(t, err, &setupErr, "overriding a condition is shadowing")

		r, err := New(f.spec, values, WithAllowShadowing(true))
		require.NoError(t, err)
		span := byCheck(collect(t, r.Run(context.Background())))["Basics/c(font=0)"]
		require.Same(t, status.PASS, summaryOf(t, span))
		require.Zero(t, f.isTTFCalls)
	})
}

func TestRun_BoolResultNormalized(t *testing.T) {
	f := newFontFixture(t)
	f.register(t, "Basics", &spec.Check{ID: "bool", Body: spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
		return spec.Result{Status: true, Message: "ok"}, nil
	})})
	f.register(t, "Basics", &spec.Check{ID: "bool/false", Body: spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
		return spec.Result{Status: false, Message: "nope"}, nil
	})})

	r, err := New(f.spec, nil)
	require.NoError(t, err)
	spans := byCheck(collect(t, r.Run(context.Background())))

	ok := spans["Basics/bool()"]
	require.Same(t, status.PASS, ok[1].Status)
	require.Equal(t, "ok", ok[1].Message)
	require.Same(t, status.FAIL, summaryOf(t, spans["Basics/bool/false()"]))
}

func TestRun_StreamErrorKeepsPartialResults(t *testing.T) {
	f := newFontFixture(t)
	boom := errors.New("boom")
	f.register(t, "Basics", &spec.Check{ID: "partial", Body: spec.Stream(func(_ context.Context, _ spec.Args, yield func(spec.Result) bool) error {
		if !yield(spec.R(status.INFO, "partial")) {
			return nil
		}
		return boom
	})})

	r, err := New(f.spec, nil)
	require.NoError(t, err)
	span := byCheck(collect(t, r.Run(context.Background())))["Basics/partial()"]

	require.Len(t, span, 4)
	require.Same(t, status.STARTCHECK, span[0].Status)
	require.Same(t, status.INFO, span[1].Status)
	require.Equal(t, "partial", span[1].Message)
	require.Same(t, status.ERROR, span[2].Status)
	var failed *spec.FailedCheckError
	require.ErrorAs(t, span[2].Message.(error), &failed)
	require.ErrorIs(t, failed, boom)
	require.Empty(t, failed.Trace, "returned errors carry no stack")
	require.Same(t, status.ERROR, summaryOf(t, span))
}

func TestRun_PanickingBody(t *testing.T) {
	f := newFontFixture(t)
	f.register(t, "Basics", &spec.Check{ID: "panics", Body: spec.Stream(func(_ context.Context, _ spec.Args, yield func(spec.Result) bool) error {
		yield(spec.R(status.WARN, "first"))
		panic("kaboom")
	})})
	f.register(t, "Basics", &spec.Check{ID: "after", Body: pass("still runs")})

	r, err := New(f.spec, nil)
	require.NoError(t, err)
	spans := byCheck(collect(t, r.Run(context.Background())))

	span := spans["Basics/panics()"]
	require.Len(t, span, 4)
	require.Same(t, status.WARN, span[1].Status)
	var failed *spec.FailedCheckError
	require.ErrorAs(t, span[2].Message.(error), &failed)
	require.Contains(t, failed.Error(), "kaboom")
	require.Contains(t, failed.Trace, "panic")
	require.Equal(t, spec.ReasonFailedCheck, failed.Code())
	require.Same(t, status.PASS, summaryOf(t, spans["Basics/after()"]))
}

func TestRun_ResultValidation(t *testing.T) {
	f := newFontFixture(t)
	f.register(t, "Basics", &spec.Check{ID: "bad/type", Body: spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
		return spec.Result{Status: "PASS", Message: "string status"}, nil
	})})
	f.register(t, "Basics", &spec.Check{ID: "bad/structural", Body: spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
		return spec.R(status.ENDCHECK, "structural"), nil
	})})
	f.register(t, "Basics", &spec.Check{ID: "bad/nil", Body: spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
		return spec.Result{}, nil
	})})

	r, err := New(f.spec, nil)
	require.NoError(t, err)
	spans := byCheck(collect(t, r.Run(context.Background())))

	for _, id := range []string{"Basics/bad/type()", "Basics/bad/structural()", "Basics/bad/nil()"} {
		span := spans[id]
		require.Len(t, span, 3, id)
		require.Same(t, status.FAIL, span[1].Status, id)
		var violation *spec.APIViolationError
		require.ErrorAs(t, span[1].Message.(error), &violation, id)
		require.Same(t, status.FAIL, summaryOf(t, span), id)
	}
}

func TestRun_SummaryPromotion(t *testing.T) {
	f := newFontFixture(t)
	f.register(t, "Basics", &spec.Check{ID: "debug/only", Body: spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
		return spec.R(status.DEBUG, "details"), nil
	})})
	f.register(t, "Basics", &spec.Check{ID: "silent", Body: spec.Stream(func(context.Context, spec.Args, func(spec.Result) bool) error {
		return nil
	})})

	r, err := New(f.spec, nil)
	require.NoError(t, err)
	spans := byCheck(collect(t, r.Run(context.Background())))

	debug := spans["Basics/debug/only()"]
	require.Len(t, debug, 4)
	require.Same(t, status.ERROR, debug[2].Status)
	require.Contains(t, debug[2].Message, "minimum is PASS")
	require.Same(t, status.ERROR, summaryOf(t, debug))

	silent := spans["Basics/silent()"]
	require.Len(t, silent, 3)
	require.Equal(t, "The check silent did not yield any status", silent[1].Message)
	require.Same(t, status.ERROR, summaryOf(t, silent))
}

func TestRun_SummaryIsNeverDebugOrStructural(t *testing.T) {
	f := newFontFixture(t)
	statuses := []*status.Status{status.DEBUG, status.PASS, status.INFO, status.SKIP, status.WARN, status.FAIL, status.ERROR}
	for i, s := range statuses {
		f.register(t, "Basics", &spec.Check{ID: fmt.Sprintf("check-%d", i), Body: spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
			return spec.R(s, s.Name()), nil
		})})
	}
	r, err := New(f.spec, nil)
	require.NoError(t, err)

	for _, span := range byCheck(collect(t, r.Run(context.Background()))) {
		starts, ends := 0, 0
		for _, e := range span {
			switch e.Status {
			case status.STARTCHECK:
				starts++
			case status.ENDCHECK:
				ends++
			}
		}
		require.Equal(t, 1, starts)
		require.Equal(t, 1, ends)
		summary := summaryOf(t, span)
		require.NotSame(t, status.DEBUG, summary)
		require.False(t, summary.IsStructural())
	}
}

func TestRun_CircularConditions(t *testing.T) {
	s := spec.New()
	require.NoError(t, s.RegisterCondition(&spec.Condition{Name: "foo", Args: []string{"bar"}, Fn: func(context.Context, spec.Args) (any, error) { return true, nil }}))
	require.NoError(t, s.RegisterCondition(&spec.Condition{Name: "bar", Args: []string{"foo"}, Fn: func(context.Context, spec.Args) (any, error) { return true, nil }}))
	require.NoError(t, s.RegisterCheck("S", &spec.Check{ID: "needs/foo", Conditions: []string{"foo"}, Body: pass("never")}))
	require.NoError(t, s.RegisterCheck("S", &spec.Check{ID: "independent", Body: pass("fine")}))

	r, err := New(s, nil)
	require.NoError(t, err)
	spans := byCheck(collect(t, r.Run(context.Background())))

	span := spans["S/needs/foo()"]
	require.Len(t, span, 3)
	require.Same(t, status.ERROR, span[1].Status)
	var circular *spec.CircularDependencyError
	require.ErrorAs(t, span[1].Message.(error), &circular)
	require.Equal(t, []string{"foo", "bar", "foo"}, circular.Path)
	require.Same(t, status.PASS, summaryOf(t, spans["S/independent()"]))

	_, err = r.Get(context.Background(), "foo", nil)
	require.ErrorAs(t, err, &circular, "failures are cached too")
}

func TestRun_ConditionFailures(t *testing.T) {
	s := spec.New()
	require.NoError(t, s.RegisterCondition(&spec.Condition{Name: "errs", Fn: func(context.Context, spec.Args) (any, error) {
		return nil, errors.New("cannot compute")
	}}))
	require.NoError(t, s.RegisterCondition(&spec.Condition{Name: "panics", Fn: func(context.Context, spec.Args) (any, error) {
		panic("bad condition")
	}}))
	require.NoError(t, s.RegisterCheck("S", &spec.Check{ID: "missing", Conditions: []string{"nope"}, Body: pass("never")}))
	require.NoError(t, s.RegisterCheck("S", &spec.Check{ID: "errs", Conditions: []string{"errs"}, Body: pass("never")}))
	require.NoError(t, s.RegisterCheck("S", &spec.Check{ID: "panics", Conditions: []string{"!panics"}, Body: pass("never")}))

	r, err := New(s, nil)
	require.NoError(t, err)
	spans := byCheck(collect(t, r.Run(context.Background())))

	var missing *spec.MissingConditionError
	require.ErrorAs(t, spans["S/missing()"][1].Message.(error), &missing)
	require.Equal(t, "nope", missing.Name)

	var failed *spec.FailedConditionError
	require.ErrorAs(t, spans["S/errs()"][1].Message.(error), &failed)
	require.Equal(t, "errs", failed.Condition)
	require.ErrorAs(t, spans["S/panics()"][1].Message.(error), &failed)
	require.Contains(t, failed.Error(), "bad condition")

	for _, span := range spans {
		require.Same(t, status.ERROR, summaryOf(t, span))
	}
}

func TestRun_FailedDependencies(t *testing.T) {
	f := newFontFixture(t)
	called := false
	f.register(t, "Basics", &spec.Check{ID: "needs/missing", Args: []string{"font", "nowhere"}, Body: spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
		called = true
		return spec.R(status.PASS, nil), nil
	})})

	r, err := New(f.spec, fonts("a.ttf"))
	require.NoError(t, err)
	span := byCheck(collect(t, r.Run(context.Background())))["Basics/needs/missing(font=0)"]

	require.Len(t, span, 3)
	var deps *spec.FailedDependenciesError
	require.ErrorAs(t, span[1].Message.(error), &deps)
	require.Equal(t, "needs/missing", deps.CheckID)
	var missing *spec.MissingValueError
	require.ErrorAs(t, deps, &missing)
	require.Equal(t, "nowhere", missing.Name)
	require.False(t, called)
}

func TestRun_OptionalArgsAndAliases(t *testing.T) {
	f := newFontFixture(t)
	require.NoError(t, f.spec.AddAlias("typeface", "font"))
	var got spec.Args
	f.register(t, "Basics", &spec.Check{
		ID:           "optional",
		Args:         []string{"typeface"},
		OptionalArgs: []string{"not_provided", "is_ttf"},
		Body: spec.Single(func(_ context.Context, args spec.Args) (spec.Result, error) {
			got = args
			return spec.R(status.PASS, nil), nil
		}),
	})

	r, err := New(f.spec, fonts("a.ttf"))
	require.NoError(t, err)
	collect(t, r.Run(context.Background()))

	require.Equal(t, spec.Args{"typeface": "a.ttf", "is_ttf": true}, got)
	require.Len(t, r.Order()[0].IterArgs, 1, "aliases pull in the iterargs of their target")
}

func TestNew_AliasCycleFailsSetup(t *testing.T) {
	s := spec.New()
	require.NoError(t, s.AddAlias("A", "B"))
	require.NoError(t, s.AddAlias("B", "A"))
	_, err := New(s, nil)
	var cycle *spec.CircularAliasError
	require.ErrorAs(t, err, &cycle, "frozen specs never hold alias cycles")
}

func TestNew_SetupErrors(t *testing.T) {
	t.Run("shadowing", func(t *testing.T) {
		f := newFontFixture(t)
		_, err := New(f.spec, map[string]any{"ttfont": "x"})
		var setupErr *spec.SetupError
		require.ErrorAs(t, err, &setupErr)
		require.Equal(t, spec.ReasonSetupInvalid, setupErr.Code())
	})

	t.Run("iterarg value is not a sequence", func(t *testing.T) {
		f := newFontFixture(t)
		_, err := New(f.spec, map[string]any{"fonts": 3})
		var setupErr *spec.SetupError
		require.ErrorAs(t, err, &setupErr)
	})

	t.Run("derived iterable without iterargs", func(t *testing.T) {
		s := spec.New()
		require.NoError(t, s.RegisterCondition(&spec.Condition{Name: "constant", Fn: func(context.Context, spec.Args) (any, error) { return 1, nil }}))
		require.NoError(t, s.AddDerivedIterable("constants", "constant", true))
		_, err := New(s, nil)
		var setupErr *spec.SetupError
		require.ErrorAs(t, err, &setupErr)
	})

	t.Run("expected value rejected", func(t *testing.T) {
		s := spec.New()
		require.NoError(t, s.AddExpectedValue(&spec.ExpectedValue{
			Name: "threshold",
			Validate: func(v any) error {
				if n, ok := v.(int); !ok || n < 0 {
					return fmt.Errorf("threshold must be a non-negative int, got %v", v)
				}
				return nil
			},
		}))
		_, err := New(s, map[string]any{"threshold": -1})
		var setupErr *spec.SetupError
		require.ErrorAs(t, err, &setupErr)

		_, err = New(s, map[string]any{"threshold": 4})
		require.NoError(t, err, "expected values never count as shadowing")
	})
}

func TestRun_ExpectedValueDefaults(t *testing.T) {
	s := spec.New()
	require.NoError(t, s.AddExpectedValue(&spec.ExpectedValue{Name: "limit", Default: 10}))
	var limit int
	require.NoError(t, s.RegisterCheck("S", &spec.Check{ID: "uses/limit", Args: []string{"limit"}, Body: spec.Single(func(_ context.Context, args spec.Args) (spec.Result, error) {
		v, err := spec.Arg[int](args, "limit")
		limit = v
		return spec.R(status.PASS, nil), err
	})}))

	r, err := New(s, nil)
	require.NoError(t, err)
	collect(t, r.Run(context.Background()))
	require.Equal(t, 10, limit)
}

func TestRun_SkipFilter(t *testing.T) {
	f := newFontFixture(t)
	f.register(t, "Basics", &spec.Check{ID: "filtered", Args: []string{"font"}, Body: pass("ok")})
	f.spec.SkipFilter = func(checkID string, iterargs map[string]any) (bool, string) {
		if iterargs["font"] == "b.otf" {
			return false, "no otf today"
		}
		return true, ""
	}

	r, err := New(f.spec, fonts("a.ttf", "b.otf"))
	require.NoError(t, err)
	spans := byCheck(collect(t, r.Run(context.Background())))

	require.Same(t, status.PASS, summaryOf(t, spans["Basics/filtered(font=0)"]))
	skipped := spans["Basics/filtered(font=1)"]
	require.Equal(t, "Filtered: no otf today", skipped[1].Message)
	require.Same(t, status.SKIP, summaryOf(t, skipped))
}

func TestRun_DerivedIterables(t *testing.T) {
	f := newFontFixture(t)
	require.NoError(t, f.spec.AddDerivedIterable("ttf_flags", "is_ttf", true))
	require.NoError(t, f.spec.AddDerivedIterable("ttf_items", "is_ttf", false))
	var flags, items any
	f.register(t, "Family", &spec.Check{ID: "family/consistent", Args: []string{"ttf_flags", "ttf_items"}, Body: spec.Single(func(_ context.Context, args spec.Args) (spec.Result, error) {
		flags, items = args["ttf_flags"], args["ttf_items"]
		return spec.R(status.PASS, nil), nil
	})})

	r, err := New(f.spec, fonts("a.ttf", "b.otf"))
	require.NoError(t, err)
	require.Len(t, r.Order(), 1, "derived iterables span all iterarg values")
	collect(t, r.Run(context.Background()))

	require.Equal(t, []any{true, false}, flags)
	require.Equal(t, []any{
		spec.DerivedItem{IterArgs: spec.IterArgs{{Name: "font", Index: 0}}, Value: true},
		spec.DerivedItem{IterArgs: spec.IterArgs{{Name: "font", Index: 1}}, Value: false},
	}, items)
	require.Equal(t, 2, f.isTTFCalls, "both iterables share the condition cache")
}

func TestEvents_PartialOrder(t *testing.T) {
	f := newFontFixture(t)
	require.NoError(t, f.spec.AddIterArg("glyph", "glyphs"))
	f.register(t, "Basics", &spec.Check{ID: "pair", Args: []string{"font", "glyph"}, Body: pass("ok")})

	r, err := New(f.spec, map[string]any{"fonts": []string{"a.ttf", "b.ttf"}, "glyphs": []string{"x", "y"}})
	require.NoError(t, err)
	full := r.Order()
	require.Len(t, full, 4)

	reversed := full[3]
	reversed.IterArgs = slices.Clone(reversed.IterArgs)
	slices.Reverse(reversed.IterArgs)

	events, err := r.Events(context.Background(), []spec.Identity{reversed, full[0], full[0]})
	require.NoError(t, err)
	got := collect(t, events)
	require.Equal(t, []spec.Identity{full[3], full[0]}, got[0].Message, "identities are replaced by the runner's own")

	_, err = r.Events(context.Background(), []spec.Identity{{Section: full[0].Section, Check: full[0].Check, IterArgs: spec.IterArgs{{Name: "font", Index: 9}, {Name: "glyph", Index: 0}}}})
	require.ErrorIs(t, err, ErrOrderNotSubset)
}

func TestRun_ConsumerStopsEarly(t *testing.T) {
	f := newFontFixture(t)
	calls := 0
	f.register(t, "Basics", &spec.Check{ID: "stream", Args: []string{"ttfont"}, Body: spec.Stream(func(_ context.Context, _ spec.Args, yield func(spec.Result) bool) error {
		calls++
		for i := 0; i < 5; i++ {
			if !yield(spec.R(status.INFO, i)) {
				return nil
			}
		}
		return nil
	})})

	r, err := New(f.spec, fonts("a.ttf", "b.ttf"))
	require.NoError(t, err)

	var seen []protocol.Event
	for e := range r.Run(context.Background()) {
		seen = append(seen, e)
		if len(seen) == 4 {
			break
		}
	}
	require.Len(t, seen, 4)
	require.Same(t, status.INFO, seen[3].Status)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, f.ttfontCalls, "nothing is computed ahead of the consumer")
}

func TestRun_SectionsAndTallies(t *testing.T) {
	f := newFontFixture(t)
	f.register(t, "First", &spec.Check{ID: "one", Args: []string{"font"}, Body: pass("ok")})
	f.register(t, "Second", &spec.Check{ID: "two", Body: spec.Single(func(context.Context, spec.Args) (spec.Result, error) {
		return spec.R(status.WARN, "hmm"), nil
	})})

	r, err := New(f.spec, fonts("a.ttf", "b.ttf"), WithExcludeChecks("nothing"), WithCustomOrder("*check"))
	require.NoError(t, err)
	events := collect(t, r.Run(context.Background()))

	var sections []protocol.Event
	for _, e := range events {
		if e.Status == status.ENDSECTION {
			sections = append(sections, e)
		}
	}
	require.Len(t, sections, 2)
	assert.Equal(t, "First", sections[0].Identity.Section.Name)
	assert.Equal(t, protocol.Tally{"PASS": 2}, sections[0].Message)
	assert.Equal(t, protocol.Tally{"WARN": 1}, sections[1].Message)
	assert.Equal(t, protocol.Tally{"PASS": 2, "WARN": 1}, events[len(events)-1].Message)
}

func TestRun_ExplicitChecks(t *testing.T) {
	f := newFontFixture(t)
	f.register(t, "Basics", &spec.Check{ID: "keep/me", Body: pass("ok")})
	f.register(t, "Basics", &spec.Check{ID: "drop/me", Body: pass("ok")})

	r, err := New(f.spec, nil, WithExplicitChecks("keep"))
	require.NoError(t, err)
	require.Len(t, r.Order(), 1)
	require.Equal(t, "keep/me", r.Order()[0].Check.ID)
}

func TestRun_ClockDrivesDurations(t *testing.T) {
	f := newFontFixture(t)
	f.register(t, "Basics", &spec.Check{ID: "timed", Body: pass("ok")})

	ticks := 0
	clock := func() time.Time {
		ticks++
		return time.Unix(int64(ticks), 0)
	}
	r, err := New(f.spec, nil, WithClock(clock))
	require.NoError(t, err)
	collect(t, r.Run(context.Background()))
	require.Equal(t, 2, ticks, "one reading at start and one at the end of each check")
}

func TestGet_ResolutionChain(t *testing.T) {
	f := newFontFixture(t)
	require.NoError(t, f.spec.AddAlias("typeface", "font"))
	f.register(t, "Basics", &spec.Check{ID: "font/ok", Args: []string{"font"}, Body: pass("ok")})

	r, err := New(f.spec, fonts("a.ttf", "b.otf"))
	require.NoError(t, err)
	ctx := context.Background()
	second := spec.IterArgs{{Name: "font", Index: 1}}

	v, err := r.Get(ctx, "typeface", second)
	require.NoError(t, err)
	assert.Equal(t, "b.otf", v)

	v, err = r.Get(ctx, "is_ttf", second)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	_, err = r.Get(ctx, "font", nil)
	var missing *spec.MissingValueError
	require.ErrorAs(t, err, &missing)

	v, err = r.GetOr(ctx, "nothing", second, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	// The fallback only covers the requested name, not what it depends on.
	_, err = r.GetOr(ctx, "is_ttf", nil, "fallback")
	var failed *spec.FailedConditionError
	assert.ErrorAs(t, err, &failed)
}
