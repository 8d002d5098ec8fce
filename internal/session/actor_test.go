package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sessionkernel/robotd/internal/bus"
	"github.com/sessionkernel/robotd/internal/decision"
	"github.com/sessionkernel/robotd/internal/mcpclient"
	"github.com/sessionkernel/robotd/internal/perception"
	"github.com/sessionkernel/robotd/internal/router"
	"github.com/sessionkernel/robotd/internal/tasks"
	"github.com/sessionkernel/robotd/internal/workflow"
)

type fakeMCPClient struct {
	tools []mcpclient.MCPTool
}

func (f *fakeMCPClient) ListTools(ctx context.Context) ([]mcpclient.MCPTool, error) { return f.tools, nil }
func (f *fakeMCPClient) RequiredFields(tool mcpclient.MCPTool) []string             { return nil }
func (f *fakeMCPClient) ToolSchema(tool mcpclient.MCPTool) json.RawMessage          { return nil }
func (f *fakeMCPClient) CallTool(ctx context.Context, tool mcpclient.MCPTool, args map[string]any) (*mcpclient.ToolCallResult, error) {
	return &mcpclient.ToolCallResult{Content: []mcpclient.ToolResultContent{{Type: "text", Text: "done: " + tool.Name}}}, nil
}

type fixedLLM struct{ response string }

func (f *fixedLLM) CompleteForSession(ctx context.Context, sessionID, systemPrompt, userPrompt string) (string, error) {
	return f.response, nil
}

type fixedIntent struct{ respond bool }

func (f fixedIntent) ShouldRespond(ctx context.Context, sessionID, personaName, personaStyle string, a perception.Assessment, inputText string) (bool, error) {
	return f.respond, nil
}

type passthroughResolver struct{}

func (passthroughResolver) Resolve(ctx context.Context, client workflow.MCPClient, toolName string, args map[string]any, wfCtx *workflow.Context) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

type recordingHandler struct {
	id   string
	out  chan *bus.OutputEvent
}

func newRecordingHandler(id string) *recordingHandler {
	return &recordingHandler{id: id, out: make(chan *bus.OutputEvent, 16)}
}

func (h *recordingHandler) ID() string { return h.id }
func (h *recordingHandler) Emit(event *bus.OutputEvent) { h.out <- event }

func (h *recordingHandler) awaitOne(t *testing.T) *bus.OutputEvent {
	t.Helper()
	select {
	case e := <-h.out:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output event")
		return nil
	}
}

func newTestDeps(llmResponse string, intent perception.IntentModule, registry *router.Registry, client workflow.MCPClient) Dependencies {
	return Dependencies{
		Decision:   decision.New(&fixedLLM{response: llmResponse}),
		Resolver:   passthroughResolver{},
		Perception: perception.Neutral{},
		Intent:     intent,
		Persona:    Persona{Name: "Robot", Style: "terse"},
		Registry:   registry,
		Tasks:      tasks.NewManager(),
		MCPClient:  client,
		Consumed:   bus.NewConsumedSet(),
		Gate:       bus.NewElicitationGate(),
	}
}

func newInputEvent(id, source, text string) *bus.InputEvent {
	return &bus.InputEvent{ID: id, Source: source, Payload: map[string]any{"content": text}}
}

func TestActor_PlansAndDispatchesToolOutput(t *testing.T) {
	registry := router.NewRegistry()
	h := newRecordingHandler("h1")
	registry.Register(h)

	client := &fakeMCPClient{tools: []mcpclient.MCPTool{{Name: "get_weather"}}}
	deps := newTestDeps(`{"reasoning":"fetch weather","steps":[{"tool":"get_weather","dependencies":[]}]}`,
		perception.AlwaysRespond{}, registry, client)

	a := NewActor("s1", deps, discardLogger())
	a.handleInput(newInputEvent("evt1", "tcp", "what's the weather"))

	event := h.awaitOne(t)
	if event.Content["tool"] != "get_weather" {
		t.Fatalf("unexpected output event: %+v", event.Content)
	}
}

func TestActor_IntentGateIgnoreSkipsPlanning(t *testing.T) {
	registry := router.NewRegistry()
	h := newRecordingHandler("h1")
	registry.Register(h)

	client := &fakeMCPClient{tools: []mcpclient.MCPTool{{Name: "get_weather"}}}
	deps := newTestDeps(`{"reasoning":"","steps":[{"tool":"get_weather","dependencies":[]}]}`,
		fixedIntent{respond: false}, registry, client)

	a := NewActor("s1", deps, discardLogger())
	a.handleInput(newInputEvent("evt1", "tcp", "unrelated chatter"))

	select {
	case e := <-h.out:
		t.Fatalf("expected no output when intent gate says ignore, got %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestActor_NoToolsAvailableEmitsMessage(t *testing.T) {
	registry := router.NewRegistry()
	h := newRecordingHandler("h1")
	registry.Register(h)

	client := &fakeMCPClient{}
	deps := newTestDeps("", perception.AlwaysRespond{}, registry, client)

	a := NewActor("s1", deps, discardLogger())
	a.handleInput(newInputEvent("evt1", "tcp", "hi"))

	event := h.awaitOne(t)
	if event.Content["type"] != string(bus.ContentText) {
		t.Fatalf("expected a text notice, got %+v", event.Content)
	}
}

func TestActor_ConsumedEventIsDropped(t *testing.T) {
	registry := router.NewRegistry()
	h := newRecordingHandler("h1")
	registry.Register(h)

	client := &fakeMCPClient{tools: []mcpclient.MCPTool{{Name: "get_weather"}}}
	deps := newTestDeps(`{"reasoning":"","steps":[{"tool":"get_weather","dependencies":[]}]}`,
		perception.AlwaysRespond{}, registry, client)
	deps.Consumed.MarkConsumed("evt1")

	a := NewActor("s1", deps, discardLogger())
	a.handleInput(newInputEvent("evt1", "tcp", "what's the weather"))

	select {
	case e := <-h.out:
		t.Fatalf("expected a consumed event to be dropped, got %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestActor_ElicitationGateDropsInput(t *testing.T) {
	registry := router.NewRegistry()
	h := newRecordingHandler("h1")
	registry.Register(h)

	client := &fakeMCPClient{tools: []mcpclient.MCPTool{{Name: "get_weather"}}}
	deps := newTestDeps(`{"reasoning":"","steps":[{"tool":"get_weather","dependencies":[]}]}`,
		perception.AlwaysRespond{}, registry, client)
	deps.Gate.SetActive("s1", true)

	a := NewActor("s1", deps, discardLogger())
	a.handleInput(newInputEvent("evt1", "tcp", "what's the weather"))

	select {
	case e := <-h.out:
		t.Fatalf("expected input to be dropped while the elicitation gate is active, got %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestActor_WaitUserSuspendsThenResumes(t *testing.T) {
	registry := router.NewRegistry()
	h := newRecordingHandler("h1")
	registry.Register(h)

	client := &fakeMCPClient{tools: []mcpclient.MCPTool{{Name: "get_weather"}}}
	deps := newTestDeps(`{"reasoning":"","steps":[{"tool":"relationship","dependencies":[]},{"tool":"get_weather","dependencies":[]}]}`,
		perception.AlwaysRespond{}, registry, client)

	a := NewActor("s1", deps, discardLogger())

	steps := []workflow.StepSpec{
		{Kind: workflow.StepTool, Tool: workflow.ToolStepSpec{Name: "get_weather"}},
	}
	wfCtx := workflow.NewContext("s1", "what's the weather")
	a.pending = &pendingExecution{steps: steps, resumeIndex: 0, wfCtx: wfCtx, targetIDs: []string{"h1"}, source: "tcp"}

	a.handleInput(newInputEvent("evt2", "tcp", "Boston"))

	event := h.awaitOne(t)
	if event.Content["tool"] != "get_weather" {
		t.Fatalf("unexpected output after resume: %+v", event.Content)
	}
	if a.pending != nil {
		t.Fatal("expected pending execution to be cleared after resume")
	}
}

func TestOriginalPrompt(t *testing.T) {
	if got := originalPrompt("book a flight", nil); got != "book a flight" {
		t.Fatalf("expected bare input text, got %q", got)
	}
	if got := originalPrompt("book a flight", map[string]any{"session_id": "s1"}); got != "book a flight" {
		t.Fatalf("expected session_id-only args to be elided, got %q", got)
	}
	if got := originalPrompt("book a flight", map[string]any{"destination": "NYC"}); got == "book a flight" {
		t.Fatal("expected non-trivial args to be appended")
	}
}
