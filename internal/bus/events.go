// Package bus provides the process-wide input/output broadcast channels and
// the de-dup bookkeeping that lets a server-initiated elicitation round-trip
// "steal" the next user message for a session without the session actor
// re-processing it.
package bus

import "time"

// OutputContentType tags the kind of payload an OutputEvent carries.
type OutputContentType string

const (
	ContentText        OutputContentType = "text"
	ContentUserMessage OutputContentType = "user_message"
	ContentProgress    OutputContentType = "progress"
	ContentElicitation OutputContentType = "elicitation"
	ContentThink       OutputContentType = "think"
	ContentToolCancel  OutputContentType = "tool_cancel"
)

// SourceMeta carries front-end-supplied hints about how to pull the user's
// text out of an InputEvent's payload.
type SourceMeta struct {
	Name         string `json:"name,omitempty"`
	Format       string `json:"format,omitempty"`
	ContentField string `json:"content_field,omitempty"`
	Description  string `json:"description,omitempty"`
}

// InputEvent is one user message, as delivered by a front-end. It is
// consumed at most once: either by a session actor's normal dispatch, or by
// an MCP client's elicitation handler waiting on the input bus.
type InputEvent struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	SessionID  string         `json:"session_id,omitempty"`
	SourceMeta *SourceMeta    `json:"source_meta,omitempty"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ResolvedSessionID returns event.SessionID if set, else event.Source —
// the session-id derivation rule from the data model.
func (e *InputEvent) ResolvedSessionID() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	return e.Source
}

// Text extracts the user's text from the payload, preferring
// SourceMeta.ContentField, then "line", then "content" — "line" is checked
// before "content" to match the teacher's observed precedence (see
// spec.md §9 Open Question (c)).
func (e *InputEvent) Text() string {
	if e.Payload == nil {
		return ""
	}
	if e.SourceMeta != nil && e.SourceMeta.ContentField != "" {
		if v, ok := stringField(e.Payload, e.SourceMeta.ContentField); ok {
			return v
		}
	}
	if v, ok := stringField(e.Payload, "line"); ok {
		return v
	}
	if v, ok := stringField(e.Payload, "content"); ok {
		return v
	}
	return ""
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// OutputEvent is one outbound notification destined for one or more
// front-end output handlers.
type OutputEvent struct {
	Target    string            `json:"target"` // "default" | "all" | handler id
	Source    string            `json:"source"` // echoed InputEvent.Source, or "system"/"mcp"
	SessionID string            `json:"session_id,omitempty"`
	Content   map[string]any    `json:"content"`
	Style     string            `json:"style,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewTextOutput builds a plain text OutputEvent.
func NewTextOutput(sessionID, source, text string) *OutputEvent {
	return &OutputEvent{
		Target:    "default",
		Source:    source,
		SessionID: sessionID,
		Content: map[string]any{
			"type": string(ContentText),
			"text": text,
		},
	}
}

// WithTarget overrides the target handler id.
func (e *OutputEvent) WithTarget(target string) *OutputEvent {
	e.Target = target
	return e
}

// WithStyle attaches a style label.
func (e *OutputEvent) WithStyle(style string) *OutputEvent {
	e.Style = style
	return e
}
