package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sessionkernel/robotd/internal/tasks"
)

const (
	toolListRunningTasks = "list_running_tasks"
	toolCancelTask       = "cancel_task"
)

var (
	listRunningTasksSchema = json.RawMessage(`{"type":"object","properties":{}}`)
	cancelTaskSchema       = json.RawMessage(`{"type":"object","properties":{"task_id":{"type":"string"}},"required":["task_id"]}`)
)

// TaskAwareClient wraps an inner MCP client with two synthetic tools backed
// by a session's background task registry, so the decision engine can plan
// around long-running work the same way it plans around any other tool.
type TaskAwareClient struct {
	inner   *Client
	manager *tasks.Manager
}

// NewTaskAwareClient composes inner with manager. One inner client and one
// task manager per session.
func NewTaskAwareClient(inner *Client, manager *tasks.Manager) *TaskAwareClient {
	return &TaskAwareClient{inner: inner, manager: manager}
}

// Connect delegates to the inner client.
func (w *TaskAwareClient) Connect(ctx context.Context) error { return w.inner.Connect(ctx) }

// Close delegates to the inner client.
func (w *TaskAwareClient) Close() error { return w.inner.Close() }

// ListTools returns the inner catalogue plus the two synthetic task-control
// tools. Their descriptions are written to steer the planner toward
// inspecting running work before trying to cancel it.
func (w *TaskAwareClient) ListTools(ctx context.Context) ([]MCPTool, error) {
	inner, err := w.inner.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return append(inner,
		MCPTool{
			Name: toolListRunningTasks,
			Description: "Lists background tasks currently running for this session: id, name, ordinal, " +
				"start time, and the prompt that started them. Call this before cancel_task so you know " +
				"which task id to pass.",
			InputSchema: listRunningTasksSchema,
		},
		MCPTool{
			Name:        toolCancelTask,
			Description: "Cancels a running background task by id. Call list_running_tasks first to find the id.",
			InputSchema: cancelTaskSchema,
		},
	), nil
}

// CallTool delegates to the inner client, except for the two synthetic
// tools, which are served directly from the task manager.
func (w *TaskAwareClient) CallTool(ctx context.Context, tool MCPTool, args map[string]any) (*ToolCallResult, error) {
	switch tool.Name {
	case toolListRunningTasks:
		return w.callListRunningTasks()
	case toolCancelTask:
		return w.callCancelTask(args)
	default:
		return w.inner.CallTool(ctx, tool, args)
	}
}

func (w *TaskAwareClient) callListRunningTasks() (*ToolCallResult, error) {
	snapshot := w.manager.List()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal task snapshot: %w", err)
	}
	return &ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: string(data)}}}, nil
}

func (w *TaskAwareClient) callCancelTask(args map[string]any) (*ToolCallResult, error) {
	taskID, _ := args["task_id"].(string)
	if taskID == "" {
		return &ToolCallResult{
			Content: []ToolResultContent{{Type: "text", Text: "task_id is required"}},
			IsError: true,
		}, nil
	}
	if w.manager.Cancel(taskID) {
		return &ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: fmt.Sprintf("task %s cancelled", taskID)}}}, nil
	}
	return &ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: fmt.Sprintf("task %s not found", taskID)}}}, nil
}

// RequiredFields overrides the two synthetic tools; otherwise delegates to
// the package-level helper used by the inner client.
func (w *TaskAwareClient) RequiredFields(tool MCPTool) []string {
	switch tool.Name {
	case toolListRunningTasks:
		return nil
	case toolCancelTask:
		return []string{"task_id"}
	default:
		return RequiredFields(tool)
	}
}

// ToolSchema overrides the two synthetic tools; otherwise delegates.
func (w *TaskAwareClient) ToolSchema(tool MCPTool) json.RawMessage {
	switch tool.Name {
	case toolListRunningTasks:
		return listRunningTasksSchema
	case toolCancelTask:
		return cancelTaskSchema
	default:
		return ToolSchema(tool)
	}
}
