package api

import "context"

// Condition is the tagged union of the three guard forms a step or loop edge
// can carry. The engine dispatches on the concrete type, never on runtime
// shape inspection.
type Condition interface {
	conditionForm() string
}

// Predicate is an externally supplied callable evaluated against the current
// run snapshot. It may block cooperatively (for example awaiting an external
// event) before returning; it cannot suspend the run with a payload.
type Predicate func(ctx context.Context, snap *RunSnapshot) (bool, error)

func (Predicate) conditionForm() string { return "predicate" }

// Ref names a path inside one step's output. An empty Path refers to the
// output value itself.
type Ref struct {
	Step string `json:"step" yaml:"step"`
	Path string `json:"path" yaml:"path"`
}

// RefQuery resolves Ref and applies exactly one comparison operator from
// {$eq, $ne, $gt, $gte, $lt, $lte} against a literal. Numbers compare
// numerically across int/float kinds, strings lexicographically. A missing
// path resolves to an absent sentinel that is unequal to everything and
// fails every ordering operator.
type RefQuery struct {
	Ref   Ref            `json:"ref" yaml:"ref"`
	Query map[string]any `json:"query" yaml:"query"`
}

func (RefQuery) conditionForm() string { return "ref-query" }

// PathMap maps dotted path strings to literal values. The first path segment
// is a step id, the remainder walks into that step's output. The condition
// is true iff every listed path resolves to a value structurally equal to
// its literal (implicit AND).
type PathMap map[string]any

func (PathMap) conditionForm() string { return "path-map" }

// Comparison operators accepted in RefQuery.Query.
const (
	OpEq  = "$eq"
	OpNe  = "$ne"
	OpGt  = "$gt"
	OpGte = "$gte"
	OpLt  = "$lt"
	OpLte = "$lte"
)
