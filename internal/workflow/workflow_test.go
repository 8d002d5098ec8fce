package workflow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sessionkernel/robotd/internal/mcpclient"
)

type fakeClient struct {
	tools  []mcpclient.MCPTool
	schema json.RawMessage
	result *mcpclient.ToolCallResult
}

func (f *fakeClient) ListTools(ctx context.Context) ([]mcpclient.MCPTool, error) { return f.tools, nil }
func (f *fakeClient) RequiredFields(tool mcpclient.MCPTool) []string             { return nil }
func (f *fakeClient) ToolSchema(tool mcpclient.MCPTool) json.RawMessage          { return f.schema }
func (f *fakeClient) CallTool(ctx context.Context, tool mcpclient.MCPTool, args map[string]any) (*mcpclient.ToolCallResult, error) {
	return f.result, nil
}

type passthroughResolver struct{}

func (passthroughResolver) Resolve(ctx context.Context, client MCPClient, toolName string, args map[string]any, wfCtx *Context) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func TestValidateArgs_NoSchemaSkipsValidation(t *testing.T) {
	tool := mcpclient.MCPTool{Name: "noop"}
	client := &fakeClient{}
	if err := validateArgs(tool, client, map[string]any{"anything": 1}); err != nil {
		t.Fatalf("expected no error without a schema, got %v", err)
	}
}

func TestValidateArgs_RejectsMissingRequiredField(t *testing.T) {
	tool := mcpclient.MCPTool{Name: "get_weather"}
	client := &fakeClient{schema: json.RawMessage(`{
		"type": "object",
		"required": ["city"],
		"properties": {"city": {"type": "string"}}
	}`)}
	if err := validateArgs(tool, client, map[string]any{}); err == nil {
		t.Fatal("expected a missing required field to fail validation")
	}
}

func TestValidateArgs_AcceptsConformingArgs(t *testing.T) {
	tool := mcpclient.MCPTool{Name: "get_weather"}
	client := &fakeClient{schema: json.RawMessage(`{
		"type": "object",
		"required": ["city"],
		"properties": {"city": {"type": "string"}}
	}`)}
	if err := validateArgs(tool, client, map[string]any{"city": "Boston"}); err != nil {
		t.Fatalf("expected conforming args to pass, got %v", err)
	}
}

func TestMcpToolStep_Run_AnnotatesInvalidArgsWithoutBlockingCall(t *testing.T) {
	client := &fakeClient{
		tools: []mcpclient.MCPTool{{Name: "get_weather"}},
		schema: json.RawMessage(`{
			"type": "object",
			"required": ["city"],
			"properties": {"city": {"type": "string"}}
		}`),
		result: &mcpclient.ToolCallResult{Content: []mcpclient.ToolResultContent{{Type: "text", Text: "ok"}}},
	}
	step := mcpToolStep{spec: ToolStepSpec{Name: "get_weather"}, resolver: passthroughResolver{}}
	wfCtx := NewContext("s1", "what's the weather")

	result, err := step.Run(context.Background(), wfCtx, client)
	if err != nil {
		t.Fatalf("expected schema-invalid args to still reach the MCP server, got error: %v", err)
	}
	if result.Status != Continue {
		t.Fatalf("expected Continue, got %v", result.Status)
	}
	if wfCtx.Memory.History[0].ValidationWarning == "" {
		t.Fatal("expected the schema mismatch to be recorded as a validation warning")
	}
}

func TestMcpToolStep_Run_RecordsHistoryAndResult(t *testing.T) {
	client := &fakeClient{
		tools:  []mcpclient.MCPTool{{Name: "get_weather"}},
		result: &mcpclient.ToolCallResult{Content: []mcpclient.ToolResultContent{{Type: "text", Text: "sunny"}}},
	}
	step := mcpToolStep{spec: ToolStepSpec{Name: "get_weather", Args: map[string]any{"city": "Boston"}}, resolver: passthroughResolver{}}
	wfCtx := NewContext("s1", "what's the weather")

	result, err := step.Run(context.Background(), wfCtx, client)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != Continue {
		t.Fatalf("expected Continue, got %v", result.Status)
	}
	if len(wfCtx.Memory.History) != 1 || wfCtx.Memory.History[0].Tool != "get_weather" {
		t.Fatalf("expected history entry recorded, got %+v", wfCtx.Memory.History)
	}
	if wfCtx.Memory.History[0].Args["session_id"] != "s1" {
		t.Fatal("expected session_id to be injected into recorded args")
	}
}

func TestContext_Clone_IsIndependent(t *testing.T) {
	wfCtx := NewContext("s1", "hi")
	wfCtx.Memory.History = append(wfCtx.Memory.History, HistoryEntry{Tool: "a"})
	wfCtx.Profile = map[string]any{"k": "v"}

	clone := wfCtx.Clone()
	clone.Memory.History[0].Tool = "b"
	clone.Profile["k"] = "changed"

	if wfCtx.Memory.History[0].Tool != "a" {
		t.Fatal("expected original history to be unaffected by clone mutation")
	}
	if wfCtx.Profile["k"] != "v" {
		t.Fatal("expected original profile map to be unaffected by clone mutation")
	}
}
