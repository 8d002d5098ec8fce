// Package resolver implements the two-stage (extract + audit) LLM-driven
// parameter resolver: given a tool name and a possibly partial or absent
// argument object, it produces a complete object with every required key
// present (set to null when unknown, which is what triggers server-side
// elicitation in the MCP client).
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sessionkernel/robotd/internal/mcpclient"
	"github.com/sessionkernel/robotd/internal/workflow"
)

// Completer is the LLM call the resolver needs: a single system+user
// prompt round trip returning text.
type Completer interface {
	CompleteForSession(ctx context.Context, sessionID, systemPrompt, userPrompt string) (string, error)
}

// Resolver implements workflow.Resolver.
type Resolver struct {
	llm Completer
}

// New builds a Resolver backed by llm.
func New(llm Completer) *Resolver {
	return &Resolver{llm: llm}
}

var _ workflow.Resolver = (*Resolver)(nil)

// Resolve fills in args for toolName, consulting wfCtx's workflow history
// for dependency results.
//
// When args is already a complete object — non-nil, with every required
// key present and non-null — it is trusted as-is and returned unchanged;
// this is the planner's fast path. Otherwise the full extract-then-audit
// pipeline runs, and the planner's own non-null keys still win over
// whatever the LLM fills in.
func (r *Resolver) Resolve(ctx context.Context, client workflow.MCPClient, toolName string, args map[string]any, wfCtx *workflow.Context) (map[string]any, error) {
	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	var tool mcpclient.MCPTool
	for _, t := range tools {
		if t.Name == toolName {
			tool = t
			break
		}
	}

	required := client.RequiredFields(tool)

	if args != nil && complete(required, args) {
		return args, nil
	}

	block := buildWorkflowContextBlock(wfCtx)

	extracted, err := r.extractPass(ctx, wfCtx.SessionID, tool, required, block, wfCtx.InputText)
	if err != nil {
		return nil, err
	}

	audited := r.auditPass(ctx, wfCtx.SessionID, tool, required, block, wfCtx.InputText, extracted)

	normalized := normalizeNulls(audited)

	merged := mergeArgs(normalized, args)
	return ensureRequired(merged, required), nil
}

func complete(required []string, args map[string]any) bool {
	for _, field := range required {
		v, ok := args[field]
		if !ok || v == nil {
			return false
		}
		if s, ok := v.(string); ok && (s == "" || strings.EqualFold(s, "null")) {
			return false
		}
	}
	return true
}

func (r *Resolver) extractPass(ctx context.Context, sessionID string, tool mcpclient.MCPTool, required []string, workflowBlock, inputText string) (map[string]any, error) {
	system := extractorPrompt(tool, required, workflowBlock)
	raw, err := r.llm.CompleteForSession(ctx, sessionID, system, inputText)
	if err != nil {
		return nil, fmt.Errorf("parameter extraction: %w", err)
	}
	obj := extractJSONObject(raw)
	if obj == nil {
		return map[string]any{}, nil
	}
	return obj, nil
}

func (r *Resolver) auditPass(ctx context.Context, sessionID string, tool mcpclient.MCPTool, required []string, workflowBlock, inputText string, firstPass map[string]any) map[string]any {
	firstJSON, err := json.Marshal(firstPass)
	if err != nil {
		return firstPass
	}
	system := auditorPrompt(tool, required, workflowBlock, inputText, string(firstJSON))
	raw, err := r.llm.CompleteForSession(ctx, sessionID, system, inputText)
	if err != nil {
		return firstPass
	}
	obj := extractJSONObject(raw)
	if obj == nil {
		return firstPass
	}
	return obj
}

func extractorPrompt(tool mcpclient.MCPTool, required []string, workflowBlock string) string {
	var b strings.Builder
	b.WriteString("You are a parameter extractor. Produce a single JSON object holding the arguments for this tool call.\n\n")
	fmt.Fprintf(&b, "Tool: %s\n", tool.Name)
	fmt.Fprintf(&b, "Description: %s\n", tool.Description)
	fmt.Fprintf(&b, "Schema: %s\n", string(tool.InputSchema))
	fmt.Fprintf(&b, "Required fields: %s\n\n", strings.Join(required, ", "))
	b.WriteString("Workflow so far:\n")
	b.WriteString(workflowBlock)
	b.WriteString("\n\nPrefer JSON null over a hallucinated value when a field's value is not present in the " +
		"user's message or an earlier step's result. Use dependency results for steps that depend on earlier " +
		"steps. Never reuse a completed step's parameters for a different step unless the user explicitly asked " +
		"for that. Reply with only the JSON object.")
	return b.String()
}

func auditorPrompt(tool mcpclient.MCPTool, required []string, workflowBlock, userInput, firstPassJSON string) string {
	var b strings.Builder
	b.WriteString("You are a parameter auditor. Review the candidate JSON arguments below and correct any " +
		"mistakes — wrong field names, hallucinated values that should be null, or values that should have " +
		"come from an earlier step's result. Reply with only the corrected JSON object.\n\n")
	fmt.Fprintf(&b, "Tool: %s\n", tool.Name)
	fmt.Fprintf(&b, "Schema: %s\n", string(tool.InputSchema))
	fmt.Fprintf(&b, "Required fields: %s\n\n", strings.Join(required, ", "))
	fmt.Fprintf(&b, "User input: %s\n\n", userInput)
	b.WriteString("Workflow so far:\n")
	b.WriteString(workflowBlock)
	fmt.Fprintf(&b, "\n\nCandidate JSON:\n%s\n", firstPassJSON)
	return b.String()
}

// extractJSONObject parses the first JSON object found between the
// outermost '{'/'}' in raw.
func extractJSONObject(raw string) map[string]any {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < 0 || end < start {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return nil
	}
	return obj
}

// normalizeNulls recursively converts string values equal (case
// insensitive, trimmed) to "null" into actual JSON null.
func normalizeNulls(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = normalizeValue(val)
	}
	return out
}

func normalizeValue(val any) any {
	switch t := val.(type) {
	case string:
		if strings.EqualFold(strings.TrimSpace(t), "null") {
			return nil
		}
		return t
	case map[string]any:
		return normalizeNulls(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return val
	}
}

// mergeArgs merges resolved on top of original: original's non-null keys
// win, since the planner's explicit values take precedence over whatever
// the resolver filled in.
func mergeArgs(resolved, original map[string]any) map[string]any {
	merged := make(map[string]any, len(resolved)+len(original))
	for k, v := range resolved {
		merged[k] = v
	}
	for k, v := range original {
		if v != nil {
			merged[k] = v
		}
	}
	return merged
}

// ensureRequired inserts a JSON-null entry for every required key absent
// or already null, so the MCP client can detect the gap and trigger
// server-side elicitation.
func ensureRequired(args map[string]any, required []string) map[string]any {
	if args == nil {
		args = map[string]any{}
	}
	for _, field := range required {
		if _, ok := args[field]; !ok {
			args[field] = nil
		}
	}
	return args
}

// buildWorkflowContextBlock renders the plan in wfCtx.Memory as the
// "(i+1). <name> <status>" block the extractor/auditor prompts embed.
func buildWorkflowContextBlock(wfCtx *workflow.Context) string {
	if wfCtx.Memory.Plan == nil {
		return "(no plan)"
	}
	var b strings.Builder
	if wfCtx.Memory.Plan.Reasoning != "" {
		b.WriteString("Planner reasoning: ")
		b.WriteString(wfCtx.Memory.Plan.Reasoning)
		b.WriteString("\n\n")
	}

	current := wfCtx.Memory.CurrentStepIndex
	historyByIndex := map[int]workflow.HistoryEntry{}
	for _, h := range wfCtx.Memory.History {
		historyByIndex[h.StepIndex] = h
	}

	for i, step := range wfCtx.Memory.Plan.Steps {
		name := stepName(step)
		fmt.Fprintf(&b, "%d. %s ", i+1, name)
		switch {
		case i < current:
			if h, ok := historyByIndex[i]; ok {
				argsJSON, _ := json.Marshal(h.Args)
				fmt.Fprintf(&b, "(Completed) - Executed with args: %s -> Result: %v\n", string(argsJSON), h.Result)
			} else {
				b.WriteString("(Completed)\n")
			}
		case i == current:
			deps := depsStrings(step)
			fmt.Fprintf(&b, "(CURRENT - FOCUS HERE) [Depends on Steps: %s]\n", strings.Join(deps, ", "))
			for _, depIdx := range step.Tool.Dependencies {
				if h, ok := historyByIndex[depIdx]; ok {
					fmt.Fprintf(&b, "    - Step %d Result: %v\n", depIdx+1, h.Result)
				}
			}
		default:
			b.WriteString("(Pending)\n")
		}
	}
	return b.String()
}

func stepName(step workflow.StepSpec) string {
	if step.Kind == workflow.StepTool {
		return step.Tool.Name
	}
	return string(step.Kind)
}

func depsStrings(step workflow.StepSpec) []string {
	out := make([]string, 0, len(step.Tool.Dependencies))
	for _, d := range step.Tool.Dependencies {
		out = append(out, strconv.Itoa(d+1))
	}
	return out
}
