// Package flowyaml builds workflow definitions from declarative YAML
// documents. Executors stay in Go: a document names registry keys, and
// Parse resolves them against a caller-supplied Registry.
//
// Document shape:
//
//	name: ProcessOrder
//	steps:
//	  - step: validate
//	  - then: reserve
//	  - step: validate            # re-select: fan out from validate
//	  - then: notify
//	    when:
//	      expr: steps.validate.output.ok == true
//	  - after: [reserve, notify]
//	    step: ship
//	  - then: poll
//	    until:
//	      ref: { step: poll, path: done }
//	      query: { $eq: true }
//
// Each list item performs one builder operation: `step` starts (or
// re-selects) a branch root, `then` chains from the cursor, `after` makes
// the item's `step` a join over the listed predecessors. `uses` overrides
// the registry key (default: the step id). Conditions appear as `when`
// guards or `until`/`while` loop clauses, in any of three forms: an
// `expr` string (compiled with expr-lang), a `ref`+`query` comparison, or
// a `match` path map.
package flowyaml

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/braidflow/braid"
	"github.com/braidflow/braid/pkg/api"
)

// Registry maps executor names to step functions. The same function value
// must be registered under one name for fan-out re-selection to work.
type Registry map[string]api.StepFunc

type document struct {
	Name  string     `yaml:"name"`
	Steps []stepSpec `yaml:"steps"`
}

type stepSpec struct {
	Step  string    `yaml:"step"`
	Then  string    `yaml:"then"`
	After []string  `yaml:"after"`
	Uses  string    `yaml:"uses"`
	When  *condSpec `yaml:"when"`
	Until *condSpec `yaml:"until"`
	While *condSpec `yaml:"while"`
}

type condSpec struct {
	Expr  string         `yaml:"expr"`
	Ref   *refSpec       `yaml:"ref"`
	Query map[string]any `yaml:"query"`
	Match map[string]any `yaml:"match"`
}

type refSpec struct {
	Step string `yaml:"step"`
	Path string `yaml:"path"`
}

// Load reads a YAML workflow file and builds it against reg.
func Load(path string, reg Registry) (*braid.Builder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return Parse(data, reg)
}

// Parse builds a workflow from YAML. The returned builder has all
// operations applied; callers finish with Build, Register or Handle.
func Parse(data []byte, reg Registry) (*braid.Builder, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow yaml: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("workflow yaml: missing name")
	}

	b := braid.New(doc.Name)
	for i, spec := range doc.Steps {
		if err := applyStep(b, reg, i, spec); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func applyStep(b *braid.Builder, reg Registry, i int, spec stepSpec) error {
	id := spec.Step
	sequential := false
	switch {
	case spec.Step != "" && spec.Then != "":
		return fmt.Errorf("workflow yaml: steps[%d] sets both step and then", i)
	case spec.Then != "":
		id = spec.Then
		sequential = true
	case spec.Step == "":
		return fmt.Errorf("workflow yaml: steps[%d] needs step or then", i)
	}
	if len(spec.After) > 0 && spec.Step == "" {
		return fmt.Errorf("workflow yaml: steps[%d] after requires step", i)
	}
	if spec.Until != nil && spec.While != nil {
		return fmt.Errorf("workflow yaml: step %q sets both until and while", id)
	}

	key := spec.Uses
	if key == "" {
		key = id
	}
	fn, ok := reg[key]
	if !ok {
		return fmt.Errorf("workflow yaml: step %q uses unregistered executor %q", id, key)
	}

	var when braid.Condition
	if spec.When != nil {
		cond, err := buildCondition(id, "when", spec.When)
		if err != nil {
			return err
		}
		when = cond
	}

	loopSpec := spec.Until
	if loopSpec == nil {
		loopSpec = spec.While
	}
	if loopSpec != nil {
		if when != nil {
			return fmt.Errorf("workflow yaml: step %q combines when with a loop", id)
		}
		// Loops attach where the builder's cursor is; a fresh branch root
		// mid-document would silently chain instead, so reject it.
		if !sequential && len(spec.After) == 0 && i > 0 {
			return fmt.Errorf("workflow yaml: loop step %q must use then or after", id)
		}
		clause := "until"
		if spec.While != nil {
			clause = "while"
		}
		cond, err := buildCondition(id, clause, loopSpec)
		if err != nil {
			return err
		}
		if len(spec.After) > 0 {
			b.After(spec.After...)
		}
		if spec.Until != nil {
			b.Until(cond, id, fn)
		} else {
			b.While(cond, id, fn)
		}
		return nil
	}

	switch {
	case len(spec.After) > 0:
		b.After(spec.After...).StepWhen(id, fn, when)
	case sequential:
		b.ThenWhen(id, fn, when)
	default:
		b.StepWhen(id, fn, when)
	}
	return nil
}

func buildCondition(stepID, clause string, spec *condSpec) (braid.Condition, error) {
	forms := 0
	if spec.Expr != "" {
		forms++
	}
	if spec.Ref != nil {
		forms++
	}
	if spec.Match != nil {
		forms++
	}
	if forms != 1 {
		return nil, fmt.Errorf("workflow yaml: step %q %s needs exactly one of expr, ref, match", stepID, clause)
	}

	switch {
	case spec.Expr != "":
		pred, err := compilePredicate(spec.Expr)
		if err != nil {
			return nil, fmt.Errorf("workflow yaml: step %q %s: %w", stepID, clause, err)
		}
		return pred, nil
	case spec.Ref != nil:
		if len(spec.Query) == 0 {
			return nil, fmt.Errorf("workflow yaml: step %q %s ref needs a query", stepID, clause)
		}
		return braid.RefQuery{
			Ref:   braid.Ref{Step: spec.Ref.Step, Path: spec.Ref.Path},
			Query: spec.Query,
		}, nil
	default:
		return braid.PathMap(spec.Match), nil
	}
}
