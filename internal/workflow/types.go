package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sessionkernel/robotd/internal/bus"
	"github.com/sessionkernel/robotd/internal/mcpclient"
)

// StepKind tags which built-in behavior a StepSpec carries.
type StepKind string

const (
	StepMemory       StepKind = "memory"
	StepProfile      StepKind = "profile"
	StepRelationship StepKind = "relationship"
	StepTool         StepKind = "tool"
)

// ToolStepSpec is the payload of a StepTool StepSpec.
type ToolStepSpec struct {
	Name         string
	Args         map[string]any
	IsBackground bool
	Dependencies []int
}

// StepSpec is the tagged-variant plan element the decision engine produces
// and the step engine executes.
type StepSpec struct {
	Kind StepKind
	Tool ToolStepSpec
}

// StepStatus is the control-flow signal a Step.Run returns to
// execute_workflow.
type StepStatus int

const (
	// Continue means proceed to the next step.
	Continue StepStatus = iota
	// Stop terminates this plan's execution.
	Stop
	// WaitUser suspends execution pending the next input event, which will
	// resume from this step.
	WaitUser
)

// StepResult is what Step.Run returns: a control-flow status plus an
// optional OutputEvent to dispatch before honoring it.
type StepResult struct {
	Status StepStatus
	Output *bus.OutputEvent
	Prompt string // set when Status == WaitUser
}

// MCPClient is the subset of the MCP client (and its task-aware wrapper)
// the step engine and parameter resolver need.
type MCPClient interface {
	ListTools(ctx context.Context) ([]mcpclient.MCPTool, error)
	RequiredFields(tool mcpclient.MCPTool) []string
	ToolSchema(tool mcpclient.MCPTool) json.RawMessage
	CallTool(ctx context.Context, tool mcpclient.MCPTool, args map[string]any) (*mcpclient.ToolCallResult, error)
}

// Resolver fills in a tool call's arguments from the workflow context,
// given a possibly partial or nil args value. See internal/resolver for
// the concrete implementation.
type Resolver interface {
	Resolve(ctx context.Context, client MCPClient, toolName string, args map[string]any, wfCtx *Context) (map[string]any, error)
}

// Step is a runnable plan element.
type Step interface {
	Run(ctx context.Context, wfCtx *Context, client MCPClient) (StepResult, error)
}

// BuildStep turns a StepSpec into a runnable Step.
func BuildStep(spec StepSpec, resolver Resolver) Step {
	switch spec.Kind {
	case StepMemory:
		return memoryStep{}
	case StepProfile:
		return profileStep{}
	case StepRelationship:
		return relationshipStep{}
	case StepTool:
		return &mcpToolStep{spec: spec.Tool, resolver: resolver}
	default:
		return memoryStep{}
	}
}

type memoryStep struct{}

func (memoryStep) Run(ctx context.Context, wfCtx *Context, client MCPClient) (StepResult, error) {
	wfCtx.Memory.InputText = wfCtx.InputText
	wfCtx.Memory.Touched = true
	return StepResult{Status: Continue}, nil
}

type profileStep struct{}

func (profileStep) Run(ctx context.Context, wfCtx *Context, client MCPClient) (StepResult, error) {
	if wfCtx.Profile == nil {
		wfCtx.Profile = map[string]any{}
	}
	wfCtx.Profile["touched"] = true
	return StepResult{Status: Continue}, nil
}

type relationshipStep struct{}

func (relationshipStep) Run(ctx context.Context, wfCtx *Context, client MCPClient) (StepResult, error) {
	if wfCtx.Relationships == nil {
		wfCtx.Relationships = map[string]any{}
	}
	wfCtx.Relationships["touched"] = true
	summary := bus.NewTextOutput(wfCtx.SessionID, "system", fmt.Sprintf(
		"relationship context noted for session %s", wfCtx.SessionID,
	))
	return StepResult{Status: Stop, Output: summary}, nil
}

// mcpToolStep resolves its arguments, injects session_id, records the call
// in history, calls the MCP client, and stores the result.
type mcpToolStep struct {
	spec     ToolStepSpec
	resolver Resolver
}

func (s *mcpToolStep) Run(ctx context.Context, wfCtx *Context, client MCPClient) (StepResult, error) {
	args, err := s.resolver.Resolve(ctx, client, s.spec.Name, s.spec.Args, wfCtx)
	if err != nil {
		return StepResult{}, fmt.Errorf("resolve args for %s: %w", s.spec.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	if wfCtx.SessionID != "" {
		if _, ok := args["session_id"]; !ok {
			args["session_id"] = wfCtx.SessionID
		}
	}

	stepIndex := wfCtx.Memory.CurrentStepIndex
	entry := HistoryEntry{StepIndex: stepIndex, Tool: s.spec.Name, Args: args}
	wfCtx.Memory.History = append(wfCtx.Memory.History, entry)

	tool, err := findTool(ctx, client, s.spec.Name)
	if err != nil {
		return StepResult{}, err
	}
	if err := validateArgs(tool, client, args); err != nil {
		wfCtx.Memory.History[len(wfCtx.Memory.History)-1].ValidationWarning = err.Error()
	}

	result, err := client.CallTool(ctx, tool, args)
	if err != nil {
		return StepResult{}, fmt.Errorf("call tool %s: %w", s.spec.Name, err)
	}

	wfCtx.Memory.LastToolResult = result
	last := &wfCtx.Memory.History[len(wfCtx.Memory.History)-1]
	last.Result = result

	output := &bus.OutputEvent{
		Target:    "default",
		Source:    "mcp",
		SessionID: wfCtx.SessionID,
		Content: map[string]any{
			"type":   string(bus.ContentText),
			"tool":   s.spec.Name,
			"result": resultText(result),
		},
		CreatedAt: time.Now(),
	}
	return StepResult{Status: Continue, Output: output}, nil
}

func findTool(ctx context.Context, client MCPClient, name string) (mcpclient.MCPTool, error) {
	tools, err := client.ListTools(ctx)
	if err != nil {
		return mcpclient.MCPTool{}, fmt.Errorf("list tools: %w", err)
	}
	for _, t := range tools {
		if t.Name == name {
			return t, nil
		}
	}
	return mcpclient.MCPTool{Name: name}, nil
}

func resultText(result *mcpclient.ToolCallResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	return result.Content[0].Text
}
