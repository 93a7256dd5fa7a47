package flowyaml

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/braidflow/braid/pkg/api"
)

// compilePredicate compiles an expr-lang expression into an api.Predicate.
// The expression environment exposes `input` (the run input) and `steps`,
// a map of step id to {status, output}. Compilation happens once, at
// document load; only evaluation runs per condition check.
func compilePredicate(src string) (api.Predicate, error) {
	prg, err := expr.Compile(src,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}

	return func(ctx context.Context, snap *api.RunSnapshot) (bool, error) {
		out, err := vm.Run(prg, exprEnv(snap))
		if err != nil {
			return false, fmt.Errorf("evaluate expression %q: %w", src, err)
		}
		verdict, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("expression %q returned %T, want bool", src, out)
		}
		return verdict, nil
	}, nil
}

func exprEnv(snap *api.RunSnapshot) map[string]any {
	steps := make(map[string]any, len(snap.Steps))
	for id, res := range snap.Steps {
		steps[id] = map[string]any{
			"status": string(res.Status),
			"output": res.Output,
		}
	}
	return map[string]any{
		"input": snap.Input,
		"steps": steps,
	}
}
