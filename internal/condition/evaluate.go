// Package condition evaluates the guard forms carried by workflow
// definitions against a run's partial results.
package condition

import (
	"context"
	"fmt"
	"strings"

	"github.com/braidflow/braid/pkg/api"
)

// Evaluate applies a condition to a run snapshot. It never fails for a
// well-formed condition; a reference to a step that does not exist in the
// snapshot yields a *api.ConditionEvaluationError. The guarded step id is
// only used for error reporting.
func Evaluate(ctx context.Context, stepID string, cond api.Condition, snap *api.RunSnapshot) (bool, error) {
	switch c := cond.(type) {
	case api.Predicate:
		return c(ctx, snap)
	case api.RefQuery:
		return evalRefQuery(stepID, c, snap)
	case api.PathMap:
		return evalPathMap(stepID, c, snap)
	case nil:
		return true, nil
	default:
		return false, &api.ConditionEvaluationError{
			Step:   stepID,
			Detail: fmt.Sprintf("unknown condition form %T", cond),
		}
	}
}

func evalRefQuery(stepID string, q api.RefQuery, snap *api.RunSnapshot) (bool, error) {
	res, ok := snap.Steps[q.Ref.Step]
	if !ok {
		return false, &api.ConditionEvaluationError{
			Step:   stepID,
			Ref:    q.Ref.Step,
			Detail: "referenced step not in run context",
		}
	}
	if len(q.Query) != 1 {
		return false, &api.ConditionEvaluationError{
			Step:   stepID,
			Ref:    q.Ref.Step,
			Detail: fmt.Sprintf("query must contain exactly one operator, got %d", len(q.Query)),
		}
	}

	// A missing path is not an error: it resolves to the absent sentinel,
	// which compares unequal to everything and fails every ordering.
	val, present := resolvePath(res.Output, q.Ref.Path)

	for op, literal := range q.Query {
		return applyOperator(stepID, op, val, present, literal)
	}
	return false, nil // unreachable
}

func applyOperator(stepID, op string, val any, present bool, literal any) (bool, error) {
	switch op {
	case api.OpEq:
		return present && structurallyEqual(val, literal), nil
	case api.OpNe:
		return !present || !structurallyEqual(val, literal), nil
	case api.OpGt, api.OpGte, api.OpLt, api.OpLte:
		if !present {
			return false, nil
		}
		cmp, ok := compareOrdered(val, literal)
		if !ok {
			return false, nil
		}
		switch op {
		case api.OpGt:
			return cmp > 0, nil
		case api.OpGte:
			return cmp >= 0, nil
		case api.OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	default:
		return false, &api.ConditionEvaluationError{
			Step:   stepID,
			Detail: fmt.Sprintf("unsupported operator %q", op),
		}
	}
}

func evalPathMap(stepID string, m api.PathMap, snap *api.RunSnapshot) (bool, error) {
	for dotted, literal := range m {
		ref, rest, _ := strings.Cut(dotted, ".")
		res, ok := snap.Steps[ref]
		if !ok {
			return false, &api.ConditionEvaluationError{
				Step:   stepID,
				Ref:    dotted,
				Detail: "referenced step not in run context",
			}
		}
		val, present := resolvePath(res.Output, rest)
		if !present || !structurallyEqual(val, literal) {
			return false, nil
		}
	}
	return true, nil
}
