package checkrunner

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/Mindburn-Labs/checkengine/pkg/spec"
)

type cacheEntry struct {
	once  sync.Once
	value any
	err   error
}

// conditionCache evaluates each key at most once, failures included.
type conditionCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func newConditionCache() *conditionCache {
	return &conditionCache{entries: make(map[string]*cacheEntry)}
}

func (c *conditionCache) get(key string, compute func() (any, error)) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	c.mu.Unlock()

	e.once.Do(func() { e.value, e.err = compute() })
	return e.value, e.err
}

func (c *conditionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get resolves name in the context of iterargs, the way check arguments
// are resolved.
func (r *CheckRunner) Get(ctx context.Context, name string, iterargs spec.IterArgs) (any, error) {
	return r.resolve(ctx, name, iterargs, nil)
}

// GetOr is Get with a fallback returned when name itself does not resolve.
// Failures further down the chain are still reported.
func (r *CheckRunner) GetOr(ctx context.Context, name string, iterargs spec.IterArgs, fallback any) (any, error) {
	v, err := r.resolve(ctx, name, iterargs, nil)
	var missing *spec.MissingValueError
	if errors.As(err, &missing) && missing.Name == name {
		return fallback, nil
	}
	return v, err
}

// resolve walks the resolution chain: direct value, alias target value,
// iterarg item, condition, derived iterable. path is the chain of
// conditions being evaluated.
func (r *CheckRunner) resolve(ctx context.Context, name string, iterargs spec.IterArgs, path []string) (any, error) {
	if v, ok := r.values[name]; ok {
		return v, nil
	}
	target, err := r.spec.ResolveAlias(name)
	if err != nil {
		return nil, err
	}
	if target != name {
		if v, ok := r.values[target]; ok {
			return v, nil
		}
	}

	kind, _ := r.spec.GetType(target)
	switch kind {
	case spec.KindIterArg:
		index, ok := iterargs.Get(target)
		items := r.collections[target]
		if !ok || index < 0 || index >= len(items) {
			return nil, &spec.MissingValueError{Name: name, Resolved: target}
		}
		return items[index], nil
	case spec.KindCondition:
		return r.evaluate(ctx, target, iterargs, path)
	case spec.KindDerivedIterable:
		return r.derived(ctx, target, path)
	}
	return nil, &spec.MissingValueError{Name: name, Resolved: target}
}

// resolveArgs binds mandatory and optional names. An optional name that
// does not exist is left out; any other failure is returned.
func (r *CheckRunner) resolveArgs(ctx context.Context, mandatory, optional []string, iterargs spec.IterArgs, path []string) (spec.Args, error) {
	args := make(spec.Args, len(mandatory)+len(optional))
	for _, name := range mandatory {
		v, err := r.resolve(ctx, name, iterargs, path)
		if err != nil {
			return nil, err
		}
		args[name] = v
	}
	for _, name := range optional {
		v, err := r.resolve(ctx, name, iterargs, path)
		if err != nil {
			var missing *spec.MissingValueError
			if errors.As(err, &missing) && missing.Name == name {
				continue
			}
			return nil, err
		}
		args[name] = v
	}
	return args, nil
}

// evaluate returns the memoized value of condition name. The cache key
// keeps only the iterargs the condition depends on, so one evaluation serves
// every identity sharing them.
func (r *CheckRunner) evaluate(ctx context.Context, name string, iterargs spec.IterArgs, path []string) (any, error) {
	cond, ok := r.spec.Condition(name)
	if !ok {
		return nil, &spec.MissingConditionError{Name: name}
	}
	if slices.Contains(path, name) {
		return nil, &spec.CircularDependencyError{Condition: name, Path: append(slices.Clone(path), name)}
	}

	scoped := iterargs.Filter(r.spec.GetIterArgs(cond)).Sorted()
	key := name + scoped.String()
	return r.cache.get(key, func() (any, error) {
		inner := append(slices.Clone(path), name)
		args, err := r.resolveArgs(ctx, cond.Args, cond.OptionalArgs, scoped, inner)
		if err != nil {
			return nil, &spec.FailedConditionError{Condition: name, Err: err}
		}
		v, err := callCondition(ctx, cond, args)
		if err != nil {
			r.logger.DebugContext(ctx, "condition failed", "condition", name, "iterargs", scoped.String(), "error", err)
			return nil, &spec.FailedConditionError{Condition: name, Err: err}
		}
		return v, nil
	})
}

func callCondition(ctx context.Context, cond *spec.Condition, args spec.Args) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return cond.Fn(ctx, args)
}

// derived evaluates the condition of a derived iterable across the
// cartesian product of its iterargs, last iterarg varying fastest.
func (r *CheckRunner) derived(ctx context.Context, name string, path []string) (any, error) {
	e, _ := r.spec.Get(name)
	cond, ok := r.spec.Condition(e.Derived.Condition)
	if !ok {
		return nil, &spec.MissingConditionError{Name: e.Derived.Condition}
	}
	axes := r.spec.GetIterArgs(cond)

	out := make([]any, 0)
	var walk func(depth int, bound spec.IterArgs) error
	walk = func(depth int, bound spec.IterArgs) error {
		if depth == len(axes) {
			v, err := r.evaluate(ctx, cond.Name, bound, path)
			if err != nil {
				return err
			}
			if e.Derived.Simple {
				out = append(out, v)
			} else {
				out = append(out, spec.DerivedItem{IterArgs: slices.Clone(bound), Value: v})
			}
			return nil
		}
		for i := range r.collections[axes[depth]] {
			next := append(slices.Clone(bound), spec.IterArgIndex{Name: axes[depth], Index: i})
			if err := walk(depth+1, next); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// truthy reports the boolean sense of a condition value. Nil, false, zero
// numbers and empty strings or collections are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array, reflect.Chan:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface, reflect.Func:
		return !rv.IsNil()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return !rv.IsZero()
	default:
		return true
	}
}
