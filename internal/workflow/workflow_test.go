package workflow

import (
	"context"
	"testing"

	"github.com/nexuscore/assistant/internal/capability"
	"github.com/nexuscore/assistant/internal/condition"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

type stubClient struct {
	responses map[string]string
	calls     []string
}

func (s *stubClient) Run(ctx context.Context, input string, thread *assistantapi.Thread) (capability.ChatResult, error) {
	s.calls = append(s.calls, input)
	return capability.ChatResult{Text: s.responses[input], Done: true}, nil
}
func (s *stubClient) RunStream(ctx context.Context, input string, thread *assistantapi.Thread) (<-chan capability.ChatResult, error) {
	ch := make(chan capability.ChatResult)
	close(ch)
	return ch, nil
}
func (s *stubClient) GetNewThread(ctx context.Context) (*assistantapi.Thread, error) { return &assistantapi.Thread{}, nil }
func (s *stubClient) DeserializeThread(blob []byte) (*assistantapi.Thread, error)    { return nil, nil }
func (s *stubClient) Serialize(thread *assistantapi.Thread) ([]byte, error)          { return nil, nil }

func TestBuild_SequentialRequiresOrder(t *testing.T) {
	_, err := Build(Descriptor{Name: "w", Shape: ShapeSequential, Agents: []AgentSpec{{Name: "a"}}}, nil)
	if err == nil {
		t.Fatal("expected error for empty sequential order")
	}
}

func TestBuild_SequentialUnknownAgentInOrderErrors(t *testing.T) {
	_, err := Build(Descriptor{
		Name: "w", Shape: ShapeSequential,
		Agents: []AgentSpec{{Name: "a"}},
		Order:  []string{"a", "ghost"},
	}, nil)
	if err == nil {
		t.Fatal("expected error for unknown agent in order")
	}
}

func TestBuild_GraphRequiresKnownStart(t *testing.T) {
	_, err := Build(Descriptor{Name: "w", Shape: ShapeGraph, Start: "ghost", Agents: []AgentSpec{{Name: "a"}}}, nil)
	if err == nil {
		t.Fatal("expected error for unknown start agent")
	}
}

func TestBuild_GraphUnknownEdgeEndpointErrors(t *testing.T) {
	_, err := Build(Descriptor{
		Name: "w", Shape: ShapeGraph, Start: "a",
		Agents: []AgentSpec{{Name: "a"}},
		Edges:  []Edge{{From: "a", To: "ghost"}},
	}, nil)
	if err == nil {
		t.Fatal("expected error for unknown edge target")
	}
}

func TestBuild_UnknownShapeErrors(t *testing.T) {
	_, err := Build(Descriptor{Name: "w", Shape: "bogus"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown shape")
	}
}

func TestEvaluateNextAgent_ConditionTrueWinsOverLowerPriorityDefault(t *testing.T) {
	w, err := Build(Descriptor{
		Name: "w", Shape: ShapeGraph, Start: "a",
		Agents: []AgentSpec{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Edges: []Edge{
			{From: "a", To: "c", Priority: 1}, // default, lower priority
			{From: "a", To: "b", Condition: `status == "ok"`, Priority: 10},
		},
	}, condition.New(false))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	next, ok := w.EvaluateNextAgent("a", map[string]any{"status": "ok"})
	if !ok || next != "b" {
		t.Errorf("EvaluateNextAgent = (%q, %v), want (b, true)", next, ok)
	}
}

func TestEvaluateNextAgent_FallsThroughToDefaultWhenConditionFalse(t *testing.T) {
	w, err := Build(Descriptor{
		Name: "w", Shape: ShapeGraph, Start: "a",
		Agents: []AgentSpec{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Edges: []Edge{
			{From: "a", To: "b", Condition: `status == "ok"`, Priority: 10},
			{From: "a", To: "c", Priority: 1},
		},
	}, condition.New(false))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	next, ok := w.EvaluateNextAgent("a", map[string]any{"status": "error"})
	if !ok || next != "c" {
		t.Errorf("EvaluateNextAgent = (%q, %v), want (c, true)", next, ok)
	}
}

func TestEvaluateNextAgent_TerminalWhenNoEdgesMatch(t *testing.T) {
	w, _ := Build(Descriptor{
		Name: "w", Shape: ShapeGraph, Start: "a",
		Agents: []AgentSpec{{Name: "a"}, {Name: "b"}},
		Edges:  []Edge{{From: "a", To: "b", Condition: `status == "ok"`}},
	}, condition.New(false))

	_, ok := w.EvaluateNextAgent("a", map[string]any{"status": "error"})
	if ok {
		t.Error("expected terminal (no match) when only a false-conditioned edge exists")
	}
}

func TestEvaluateNextAgent_NoOutgoingEdgesIsTerminal(t *testing.T) {
	w, _ := Build(Descriptor{
		Name: "w", Shape: ShapeGraph, Start: "a",
		Agents: []AgentSpec{{Name: "a"}},
	}, condition.New(false))

	_, ok := w.EvaluateNextAgent("a", nil)
	if ok {
		t.Error("expected terminal when current has no outgoing edges")
	}
}

func TestEvaluateNextAgent_TiesBrokenByDeclarationOrder(t *testing.T) {
	w, _ := Build(Descriptor{
		Name: "w", Shape: ShapeGraph, Start: "a",
		Agents: []AgentSpec{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Edges: []Edge{
			{From: "a", To: "b", Priority: 5},
			{From: "a", To: "c", Priority: 5},
		},
	}, condition.New(false))

	next, ok := w.EvaluateNextAgent("a", nil)
	if !ok || next != "b" {
		t.Errorf("expected first-declared edge (b) to win a priority tie, got (%q, %v)", next, ok)
	}
}

func TestRunSequential_ChainsOutputToInput(t *testing.T) {
	client := &stubClient{responses: map[string]string{
		"first\n\nhello":  "step1-out",
		"second\n\nstep1-out": "step2-out",
	}}
	w, err := Build(Descriptor{
		Name: "w", Shape: ShapeSequential,
		Agents: []AgentSpec{{Name: "a", SystemPrompt: "first"}, {Name: "b", SystemPrompt: "second"}},
		Order:  []string{"a", "b"},
	}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	steps, err := w.RunSequential(context.Background(), client, &assistantapi.Thread{}, "hello")
	if err != nil {
		t.Fatalf("RunSequential: %v", err)
	}
	if len(steps) != 2 || steps[0].Output != "step1-out" || steps[1].Output != "step2-out" {
		t.Errorf("unexpected steps: %+v", steps)
	}
}

func TestRunGraph_StopsAtTerminalEdge(t *testing.T) {
	client := &stubClient{responses: map[string]string{
		"root\n\nhello": "done",
	}}
	w, err := Build(Descriptor{
		Name: "w", Shape: ShapeGraph, Start: "a",
		Agents: []AgentSpec{{Name: "a", SystemPrompt: "root"}},
	}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	steps, err := w.RunGraph(context.Background(), client, &assistantapi.Thread{}, "hello", 10)
	if err != nil {
		t.Fatalf("RunGraph: %v", err)
	}
	if len(steps) != 1 || steps[0].Agent != "a" {
		t.Errorf("unexpected steps: %+v", steps)
	}
}

func TestRunGraph_ExceedsMaxStepsErrors(t *testing.T) {
	client := &stubClient{responses: map[string]string{}}
	w, err := Build(Descriptor{
		Name: "w", Shape: ShapeGraph, Start: "a",
		Agents: []AgentSpec{{Name: "a"}, {Name: "b"}},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	_, err = w.RunGraph(context.Background(), client, &assistantapi.Thread{}, "hello", 4)
	if err == nil {
		t.Fatal("expected an error when a cycle exceeds max steps")
	}
}
