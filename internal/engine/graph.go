package engine

import (
	"sort"

	"github.com/braidflow/braid/pkg/api"
)

// graph is the compiled, immutable form of a WorkflowDefinition the
// scheduler works against: adjacency maps plus the loop and join metadata.
type graph struct {
	def   api.WorkflowDefinition
	steps map[string]api.StepNode
	preds map[string][]string // incoming non-loop edges, insertion order
	succs map[string][]string // outgoing non-loop edges, insertion order
	joins map[string]bool     // step has join-kind incoming edges
	loops map[string]api.LoopSpec
	roots []string
}

// Validate compiles def and reports the first definition error, if any.
// The root-package builder uses it so Build and RegisterWorkflow agree on
// what is malformed.
func Validate(def api.WorkflowDefinition) error {
	_, err := compile(def)
	return err
}

// compile validates a definition and builds its adjacency maps. Every
// violation is reported as a *api.DefinitionError: duplicate ids, edges
// referencing unknown steps, loop edges that are not self-referencing or
// lack a condition, and cycles among non-loop edges (Kahn's algorithm).
func compile(def api.WorkflowDefinition) (*graph, error) {
	if def.Name == "" {
		return nil, api.NewDefinitionError("", "workflow name is required")
	}
	if len(def.Steps) == 0 {
		return nil, api.NewDefinitionError(def.Name, "workflow must have at least one step")
	}

	g := &graph{
		def:   def,
		steps: make(map[string]api.StepNode, len(def.Steps)),
		preds: make(map[string][]string, len(def.Steps)),
		succs: make(map[string][]string, len(def.Steps)),
		joins: make(map[string]bool),
		loops: make(map[string]api.LoopSpec),
	}

	for _, s := range def.Steps {
		if s.ID == "" {
			return nil, api.NewDefinitionError(def.Name, "step with empty id")
		}
		if s.Fn == nil {
			return nil, api.NewDefinitionError(def.Name, "step %q has no executor", s.ID)
		}
		if _, dup := g.steps[s.ID]; dup {
			return nil, api.NewDefinitionError(def.Name, "duplicate step id %q", s.ID)
		}
		g.steps[s.ID] = s
	}

	for _, e := range def.Edges {
		if _, ok := g.steps[e.From]; !ok {
			return nil, api.NewDefinitionError(def.Name, "edge references unknown step %q", e.From)
		}
		if _, ok := g.steps[e.To]; !ok {
			return nil, api.NewDefinitionError(def.Name, "edge references unknown step %q", e.To)
		}

		if e.Kind == api.EdgeLoop {
			if e.From != e.To {
				return nil, api.NewDefinitionError(def.Name, "loop edge on %q must target itself, not %q", e.From, e.To)
			}
			if e.Loop == nil || e.Loop.Condition == nil {
				return nil, api.NewDefinitionError(def.Name, "loop edge on %q has no condition", e.From)
			}
			if e.Loop.Mode != api.LoopUntil && e.Loop.Mode != api.LoopWhile {
				return nil, api.NewDefinitionError(def.Name, "loop edge on %q has unknown mode %q", e.From, e.Loop.Mode)
			}
			if _, dup := g.loops[e.From]; dup {
				return nil, api.NewDefinitionError(def.Name, "step %q has more than one loop edge", e.From)
			}
			g.loops[e.From] = *e.Loop
			continue
		}

		g.succs[e.From] = append(g.succs[e.From], e.To)
		g.preds[e.To] = append(g.preds[e.To], e.From)
		if e.Kind == api.EdgeJoin {
			g.joins[e.To] = true
		}
	}

	for id := range g.steps {
		if len(g.preds[id]) == 0 {
			g.roots = append(g.roots, id)
		}
	}
	sort.Strings(g.roots)

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs Kahn's algorithm over the non-loop edges.
func (g *graph) checkAcyclic() error {
	inDegree := make(map[string]int, len(g.steps))
	for id := range g.steps {
		inDegree[id] = len(g.preds[id])
	}

	queue := append([]string(nil), g.roots...)
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range g.succs[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited != len(g.steps) {
		return api.NewDefinitionError(g.def.Name, "workflow contains a cycle among non-loop edges")
	}
	return nil
}
