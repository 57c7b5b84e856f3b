package declarative

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Mindburn-Labs/checkengine/pkg/spec"
	"github.com/Mindburn-Labs/checkengine/pkg/status"
)

var structValueType = reflect.TypeOf(&structpb.Value{})

// program is a compiled expression over a fixed set of argument names.
type program struct {
	source string
	vars   []string
	prg    cel.Program
}

func compile(expr string, vars []string) (*program, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	return &program{source: expr, vars: vars, prg: prg}, nil
}

// eval runs the program. Optional arguments that were not resolved are
// bound to null.
func (p *program) eval(ctx context.Context, args spec.Args) (any, error) {
	activation := make(map[string]any, len(p.vars))
	for _, v := range p.vars {
		activation[v] = args[v]
	}
	out, _, err := p.prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, fmt.Errorf("CEL eval error in %q: %w", p.source, err)
	}
	return native(out)
}

// native converts a CEL value to plain Go values: maps and lists become
// map[string]any and []any, null becomes nil.
func native(val ref.Val) (any, error) {
	switch val.(type) {
	case types.Null:
		return nil, nil
	case traits.Mapper, traits.Lister:
		pb, err := val.ConvertToNative(structValueType)
		if err != nil {
			return nil, err
		}
		return pb.(*structpb.Value).AsInterface(), nil
	}
	return val.Value(), nil
}

// toResults interprets a check expression value: a bool, a map with
// "status" and "message", or a list of either.
func toResults(v any) ([]spec.Result, error) {
	if items, ok := v.([]any); ok {
		out := make([]spec.Result, 0, len(items))
		for i, item := range items {
			r, err := toResult(item)
			if err != nil {
				return nil, fmt.Errorf("result %d: %w", i, err)
			}
			out = append(out, r)
		}
		return out, nil
	}
	r, err := toResult(v)
	if err != nil {
		return nil, err
	}
	return []spec.Result{r}, nil
}

func toResult(v any) (spec.Result, error) {
	switch x := v.(type) {
	case bool:
		return spec.Result{Status: x}, nil
	case map[string]any:
		name, ok := x["status"].(string)
		if !ok {
			return spec.Result{}, fmt.Errorf("result map has no status name")
		}
		s, ok := status.Lookup(strings.ToUpper(name))
		if !ok {
			return spec.Result{}, fmt.Errorf("unknown status %q", name)
		}
		return spec.R(s, x["message"]), nil
	}
	return spec.Result{}, fmt.Errorf("check expression returned %T, want bool, map or list", v)
}
