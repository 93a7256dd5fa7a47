package condition

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidflow/braid/pkg/api"
)

func snapWith(outputs map[string]any) *api.RunSnapshot {
	steps := make(map[string]api.StepResult, len(outputs))
	for id, out := range outputs {
		steps[id] = api.StepResult{Status: api.StatusCompleted, Output: out}
	}
	return &api.RunSnapshot{RunID: "run-1", Steps: steps}
}

func TestEvaluateRefQueryOperators(t *testing.T) {
	snap := snapWith(map[string]any{
		"score": map[string]any{"value": 7, "label": "beta", "ratio": 2.5},
	})

	cases := []struct {
		name  string
		path  string
		query map[string]any
		want  bool
	}{
		{"eq match", "value", map[string]any{api.OpEq: 7}, true},
		{"eq cross-kind numeric", "value", map[string]any{api.OpEq: 7.0}, true},
		{"eq mismatch", "value", map[string]any{api.OpEq: 8}, false},
		{"ne", "value", map[string]any{api.OpNe: 8}, true},
		{"gt true", "value", map[string]any{api.OpGt: 6}, true},
		{"gt false", "value", map[string]any{api.OpGt: 7}, false},
		{"gte boundary", "value", map[string]any{api.OpGte: 7}, true},
		{"lt float literal", "value", map[string]any{api.OpLt: 7.5}, true},
		{"lte", "ratio", map[string]any{api.OpLte: 2.5}, true},
		{"string ordering", "label", map[string]any{api.OpGt: "alpha"}, true},
		{"string eq", "label", map[string]any{api.OpEq: "beta"}, true},
		{"missing path eq", "nope", map[string]any{api.OpEq: 1}, false},
		{"missing path ne", "nope", map[string]any{api.OpNe: 1}, true},
		{"missing path ordering", "nope", map[string]any{api.OpGt: 0}, false},
		{"incomparable kinds", "label", map[string]any{api.OpGt: 3}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(context.Background(), "guarded", api.RefQuery{
				Ref:   api.Ref{Step: "score", Path: tc.path},
				Query: tc.query,
			}, snap)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateRefQueryEmptyPathUsesOutputItself(t *testing.T) {
	snap := snapWith(map[string]any{"count": 10})

	got, err := Evaluate(context.Background(), "g", api.RefQuery{
		Ref:   api.Ref{Step: "count"},
		Query: map[string]any{api.OpGte: 10},
	}, snap)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluateRefQueryErrors(t *testing.T) {
	snap := snapWith(map[string]any{"a": 1})

	_, err := Evaluate(context.Background(), "g", api.RefQuery{
		Ref:   api.Ref{Step: "ghost"},
		Query: map[string]any{api.OpEq: 1},
	}, snap)
	var condErr *api.ConditionEvaluationError
	require.ErrorAs(t, err, &condErr)
	assert.Equal(t, "g", condErr.Step)
	assert.Equal(t, "ghost", condErr.Ref)

	_, err = Evaluate(context.Background(), "g", api.RefQuery{
		Ref:   api.Ref{Step: "a"},
		Query: map[string]any{api.OpEq: 1, api.OpNe: 2},
	}, snap)
	require.ErrorAs(t, err, &condErr)

	_, err = Evaluate(context.Background(), "g", api.RefQuery{
		Ref:   api.Ref{Step: "a"},
		Query: map[string]any{"$like": 1},
	}, snap)
	require.ErrorAs(t, err, &condErr)
}

func TestEvaluatePathMapImplicitAnd(t *testing.T) {
	snap := snapWith(map[string]any{
		"fetch": map[string]any{"user": map[string]any{"plan": "premium", "active": true}},
		"score": 0.9,
	})

	got, err := Evaluate(context.Background(), "g", api.PathMap{
		"fetch.user.plan":   "premium",
		"fetch.user.active": true,
	}, snap)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Evaluate(context.Background(), "g", api.PathMap{
		"fetch.user.plan":   "premium",
		"fetch.user.active": false,
	}, snap)
	require.NoError(t, err)
	assert.False(t, got)

	// Missing path is absent, not an error.
	got, err = Evaluate(context.Background(), "g", api.PathMap{"fetch.user.ghost": 1}, snap)
	require.NoError(t, err)
	assert.False(t, got)

	// Missing step is an error.
	_, err = Evaluate(context.Background(), "g", api.PathMap{"ghost.x": 1}, snap)
	var condErr *api.ConditionEvaluationError
	require.ErrorAs(t, err, &condErr)
}

func TestEvaluatePredicate(t *testing.T) {
	snap := snapWith(nil)
	snap.Input = 41

	pred := api.Predicate(func(ctx context.Context, s *api.RunSnapshot) (bool, error) {
		return s.Input.(int) > 40, nil
	})
	got, err := Evaluate(context.Background(), "g", pred, snap)
	require.NoError(t, err)
	assert.True(t, got)

	boom := errors.New("boom")
	failing := api.Predicate(func(ctx context.Context, s *api.RunSnapshot) (bool, error) {
		return false, boom
	})
	_, err = Evaluate(context.Background(), "g", failing, snap)
	require.ErrorIs(t, err, boom)
}

func TestEvaluateNilConditionIsTrue(t *testing.T) {
	got, err := Evaluate(context.Background(), "g", nil, snapWith(nil))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestResolvePathContainers(t *testing.T) {
	type wire struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	out := map[string]any{
		"items":  []any{map[string]any{"sku": "a-1"}, map[string]any{"sku": "b-2"}},
		"detail": &wire{Name: "box", Count: 3},
	}

	val, ok := resolvePath(out, "items.1.sku")
	require.True(t, ok)
	assert.Equal(t, "b-2", val)

	val, ok = resolvePath(out, "detail.Name")
	require.True(t, ok)
	assert.Equal(t, "box", val)

	// json tag fallback for wire structs
	val, ok = resolvePath(out, "detail.count")
	require.True(t, ok)
	assert.Equal(t, 3, val)

	_, ok = resolvePath(out, "items.9.sku")
	assert.False(t, ok)
	_, ok = resolvePath(nil, "x")
	assert.False(t, ok)
}
