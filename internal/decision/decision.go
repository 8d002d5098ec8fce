// Package decision implements the planner: one LLM call that turns a
// user's message and the session's tool catalog into a WorkflowPlan.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sessionkernel/robotd/internal/mcpclient"
	"github.com/sessionkernel/robotd/internal/workflow"
)

// ErrNoToolsAvailable is returned when the session's tool catalog is
// empty; the session actor surfaces this as a single "no capability"
// message rather than attempting to plan.
var ErrNoToolsAvailable = errors.New("NO_TOOLS_AVAILABLE")

// Completer is the LLM call the planner needs.
type Completer interface {
	CompleteForSession(ctx context.Context, sessionID, systemPrompt, userPrompt string) (string, error)
}

// Engine is the Decision Engine (C8).
type Engine struct {
	llm Completer
}

// New builds a planner backed by llm.
func New(llm Completer) *Engine {
	return &Engine{llm: llm}
}

type rawStep struct {
	Tool         string `json:"tool"`
	Dependencies []int  `json:"dependencies"`
}

type rawPlan struct {
	Reasoning string    `json:"reasoning"`
	Steps     []rawStep `json:"steps"`
}

// Plan builds a WorkflowPlan for inputText against the session's current
// tool catalog, fetched fresh from client.
func (e *Engine) Plan(ctx context.Context, sessionID, personaName, personaStyle, inputText string, client workflow.MCPClient) (*workflow.Plan, error) {
	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if len(tools) == 0 {
		return nil, ErrNoToolsAvailable
	}

	system := plannerPrompt(personaName, personaStyle, tools)
	raw, err := e.llm.CompleteForSession(ctx, sessionID, system, inputText)
	if err != nil {
		return nil, fmt.Errorf("planner completion: %w", err)
	}

	steps, reasoning, err := parsePlan(raw)
	if err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	toolsByName := make(map[string]mcpclient.MCPTool, len(tools))
	for _, t := range tools {
		toolsByName[strings.ToLower(t.Name)] = t
	}

	specs := make([]workflow.StepSpec, 0, len(steps))
	for _, s := range steps {
		specs = append(specs, toStepSpec(s, toolsByName))
	}

	return &workflow.Plan{Reasoning: reasoning, Steps: specs}, nil
}

func toStepSpec(s rawStep, toolsByName map[string]mcpclient.MCPTool) workflow.StepSpec {
	switch strings.ToLower(strings.TrimSpace(s.Tool)) {
	case "memory":
		return workflow.StepSpec{Kind: workflow.StepMemory}
	case "profile":
		return workflow.StepSpec{Kind: workflow.StepProfile}
	case "relationship":
		return workflow.StepSpec{Kind: workflow.StepRelationship}
	default:
		isBackground := false
		if tool, ok := toolsByName[strings.ToLower(s.Tool)]; ok {
			isBackground = tool.IsLongRunning
		}
		return workflow.StepSpec{
			Kind: workflow.StepTool,
			Tool: workflow.ToolStepSpec{
				Name:         s.Tool,
				IsBackground: isBackground,
				Dependencies: s.Dependencies,
			},
		}
	}
}

// parsePlan scans raw for the outermost JSON object first; if that fails
// to parse, it falls back to the outermost JSON array as the raw step
// list with no reasoning.
func parsePlan(raw string) ([]rawStep, string, error) {
	if obj := extractBraces(raw, '{', '}'); obj != "" {
		var plan rawPlan
		if err := json.Unmarshal([]byte(obj), &plan); err == nil {
			return plan.Steps, plan.Reasoning, nil
		}
	}
	if arr := extractBraces(raw, '[', ']'); arr != "" {
		var steps []rawStep
		if err := json.Unmarshal([]byte(arr), &steps); err == nil {
			return steps, "", nil
		}
	}
	return nil, "", fmt.Errorf("no parseable JSON object or array in planner output")
}

func extractBraces(raw string, open, close byte) string {
	start := strings.IndexByte(raw, open)
	end := strings.LastIndexByte(raw, close)
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return raw[start : end+1]
}

func plannerPrompt(personaName, personaStyle string, tools []mcpclient.MCPTool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s's smart workflow planner. Style: %s.\n\n", personaName, personaStyle)
	b.WriteString("Available built-in steps: memory, profile, relationship.\n\n")
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", categorize(t), t.Name, t.Description)
	}
	b.WriteString("\nOrdering rules: call list_running_tasks before cancel_task. Run computation tools after " +
		"retrieval tools when a plan needs both. Only include steps genuinely needed for the user's request.\n\n")
	b.WriteString("Reply with only a JSON object: {\"reasoning\": \"...\", \"steps\": [{\"tool\": \"...\", " +
		"\"dependencies\": [0]}]}. dependencies lists the zero-based indices of earlier steps this step needs.")
	return b.String()
}

func categorize(tool mcpclient.MCPTool) string {
	name := strings.ToLower(tool.Name)
	switch {
	case name == "list_running_tasks" || name == "cancel_task":
		return "System"
	case strings.Contains(name, "memory") || strings.Contains(name, "remember") || strings.Contains(name, "recall"):
		return "Memory"
	case strings.Contains(name, "profile"):
		return "Profile"
	case strings.Contains(name, "chat") || strings.Contains(name, "talk") || strings.Contains(name, "converse"):
		return "Conversational"
	default:
		return "Utility"
	}
}
