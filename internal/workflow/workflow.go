// Package workflow implements the Workflow Engine: construction of
// sequential and graph-shaped multi-agent workflows, and priority-ordered
// conditional routing between agent steps.
package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/nexuscore/assistant/internal/capability"
	"github.com/nexuscore/assistant/internal/condition"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

// Shape is the workflow topology.
type Shape string

const (
	ShapeSequential Shape = "sequential"
	ShapeGraph      Shape = "graph"
)

// AgentSpec describes one participant in a workflow.
type AgentSpec struct {
	Name         string
	SystemPrompt string
	Model        string // optional; falls back to the manager's default client
}

// Edge is a graph-shape transition, evaluated in descending Priority order
// for a given From agent. A Condition of "" makes the edge a default
// candidate (always a match once reached in priority order).
type Edge struct {
	From      string
	To        string
	Condition string
	Priority  int
}

// Descriptor fully describes a workflow: its shape, its agents, and (for
// graph shape) its start agent and edges.
type Descriptor struct {
	Name  string
	Shape Shape
	Start string // graph shape only
	Order []string // sequential shape only; declared run order
	Agents []AgentSpec
	Edges  []Edge
}

// Workflow is a validated, ready-to-run workflow.
type Workflow struct {
	descriptor Descriptor
	agentsByName map[string]AgentSpec
	edgesFrom  map[string][]Edge // each slice pre-sorted by descending priority, declaration order breaking ties
	evaluator  *condition.Evaluator
}

// Build validates descriptor and constructs a Workflow. Every agent
// referenced by Start, Order, or an edge endpoint must be declared in
// Agents; sequential workflows need at least one agent in Order.
func Build(descriptor Descriptor, evaluator *condition.Evaluator) (*Workflow, error) {
	agentsByName := make(map[string]AgentSpec, len(descriptor.Agents))
	for _, a := range descriptor.Agents {
		agentsByName[a.Name] = a
	}

	switch descriptor.Shape {
	case ShapeSequential:
		if len(descriptor.Order) == 0 {
			return nil, fmt.Errorf("workflow %q: sequential shape requires a non-empty order", descriptor.Name)
		}
		for _, name := range descriptor.Order {
			if _, ok := agentsByName[name]; !ok {
				return nil, fmt.Errorf("workflow %q: order references unknown agent %q", descriptor.Name, name)
			}
		}
	case ShapeGraph:
		if descriptor.Start == "" {
			return nil, fmt.Errorf("workflow %q: graph shape requires a start agent", descriptor.Name)
		}
		if _, ok := agentsByName[descriptor.Start]; !ok {
			return nil, fmt.Errorf("workflow %q: start references unknown agent %q", descriptor.Name, descriptor.Start)
		}
		for _, e := range descriptor.Edges {
			if _, ok := agentsByName[e.From]; !ok {
				return nil, fmt.Errorf("workflow %q: edge references unknown source agent %q", descriptor.Name, e.From)
			}
			if _, ok := agentsByName[e.To]; !ok {
				return nil, fmt.Errorf("workflow %q: edge references unknown target agent %q", descriptor.Name, e.To)
			}
		}
	default:
		return nil, fmt.Errorf("workflow %q: unknown shape %q", descriptor.Name, descriptor.Shape)
	}

	edgesFrom := make(map[string][]Edge)
	for _, e := range descriptor.Edges {
		edgesFrom[e.From] = append(edgesFrom[e.From], e)
	}
	for from, edges := range edgesFrom {
		sort.SliceStable(edges, func(i, j int) bool {
			return edges[i].Priority > edges[j].Priority
		})
		edgesFrom[from] = edges
	}

	if evaluator == nil {
		evaluator = condition.New(false)
	}

	return &Workflow{
		descriptor:   descriptor,
		agentsByName: agentsByName,
		edgesFrom:    edgesFrom,
		evaluator:    evaluator,
	}, nil
}

// Agent returns the named agent's spec.
func (w *Workflow) Agent(name string) (AgentSpec, bool) {
	a, ok := w.agentsByName[name]
	return a, ok
}

// Shape returns the workflow's topology.
func (w *Workflow) Shape() Shape {
	return w.descriptor.Shape
}

// EvaluateNextAgent selects the next agent to run after current produced
// output, per spec §4.9: edges from current are walked in descending
// priority (ties by declaration order); the first edge with a condition
// that evaluates true wins; if only default (conditionless) edges remain,
// the first default wins; otherwise the workflow is terminal ("", false).
func (w *Workflow) EvaluateNextAgent(current string, output any) (string, bool) {
	edges := w.edgesFrom[current]
	var firstDefault *Edge
	for i := range edges {
		e := &edges[i]
		if e.Condition == "" {
			if firstDefault == nil {
				firstDefault = e
			}
			continue
		}
		if w.evaluator.Evaluate(e.Condition, output) {
			return e.To, true
		}
	}
	if firstDefault != nil {
		return firstDefault.To, true
	}
	return "", false
}

// Step is one agent's contribution to a workflow run, used for
// per-agent-authorship annotation in the response.
type Step struct {
	Agent  string
	Output string
}

// RunSequential runs every agent in Order in turn, seeding step i+1's input
// with step i's output.
func (w *Workflow) RunSequential(ctx context.Context, client capability.ChatClient, thread *assistantapi.Thread, input string) ([]Step, error) {
	if w.descriptor.Shape != ShapeSequential {
		return nil, fmt.Errorf("workflow %q: RunSequential called on a %s-shaped workflow", w.descriptor.Name, w.descriptor.Shape)
	}
	var steps []Step
	current := input
	for _, name := range w.descriptor.Order {
		agent := w.agentsByName[name]
		result, err := client.Run(ctx, agent.SystemPrompt+"\n\n"+current, thread)
		if err != nil {
			return steps, fmt.Errorf("workflow %q: agent %q failed: %w", w.descriptor.Name, name, err)
		}
		steps = append(steps, Step{Agent: name, Output: result.Text})
		current = result.Text
	}
	return steps, nil
}

// RunGraph runs the workflow starting at Start, following
// EvaluateNextAgent after each agent until a terminal edge or maxSteps is
// reached (a safety bound against misconfigured cycles).
func (w *Workflow) RunGraph(ctx context.Context, client capability.ChatClient, thread *assistantapi.Thread, input string, maxSteps int) ([]Step, error) {
	if w.descriptor.Shape != ShapeGraph {
		return nil, fmt.Errorf("workflow %q: RunGraph called on a %s-shaped workflow", w.descriptor.Name, w.descriptor.Shape)
	}
	var steps []Step
	current := w.descriptor.Start
	payload := input
	for i := 0; i < maxSteps; i++ {
		agent := w.agentsByName[current]
		result, err := client.Run(ctx, agent.SystemPrompt+"\n\n"+payload, thread)
		if err != nil {
			return steps, fmt.Errorf("workflow %q: agent %q failed: %w", w.descriptor.Name, current, err)
		}
		steps = append(steps, Step{Agent: current, Output: result.Text})

		next, ok := w.EvaluateNextAgent(current, result.Text)
		if !ok {
			return steps, nil
		}
		current = next
		payload = result.Text
	}
	return steps, fmt.Errorf("workflow %q: exceeded max steps (%d), possible cycle", w.descriptor.Name, maxSteps)
}
