package mcpclient

import (
	"time"

	"github.com/sessionkernel/robotd/internal/bus"
)

// toolLifecycleStage is the stage of a tool invocation reported to
// front-ends as it progresses, so a console can show "running fetch_url..."
// before the final result arrives rather than going silent for the whole
// call duration.
type toolLifecycleStage string

const (
	toolStageStarted   toolLifecycleStage = "tool_started"
	toolStageCompleted toolLifecycleStage = "tool_completed"
	toolStageFailed    toolLifecycleStage = "tool_failed"
)

// publishToolLifecycle emits a system OutputEvent describing one stage of a
// tool call. Front-ends that only care about final text can ignore these
// (ContentType "tool_lifecycle"); a richer console can render them as
// progress indicators.
func (c *Client) publishToolLifecycle(stage toolLifecycleStage, toolName string, err error) {
	if c.outputBus == nil {
		return
	}
	content := map[string]any{
		"type":      "tool_lifecycle",
		"stage":     string(stage),
		"tool_name": toolName,
	}
	if err != nil {
		content["error"] = err.Error()
	}
	c.outputBus.Publish(&bus.OutputEvent{
		Target:    "default",
		Source:    "mcp",
		SessionID: c.sessionID,
		Content:   content,
		CreatedAt: time.Now(),
	})
}
