package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sessionkernel/robotd/internal/bus"
)

// foregroundRateLimit caps how many foreground tool calls a session's
// persistent connection accepts per second. A planner that chains many
// dependent tool steps in one workflow would otherwise be able to saturate
// the single connection; long-running calls are exempt since each opens
// its own dedicated connection (callOnDedicatedConnection).
const foregroundRateLimit = 5

// transportErrorSubstrings are matched, case-insensitively, against a failed
// call's error text to decide whether the base connection should be dropped
// and the call retried once on a fresh one.
var transportErrorSubstrings = []string{
	"broken pipe",
	"closed",
	"eof",
	"reset by peer",
	"transport",
	"connection",
	"os error",
}

// cancelPhrases stop an elicitation round-trip in progress. Mixed English
// and Chinese, matching the front-ends this kernel has actually shipped
// behind.
var cancelPhrases = []string{
	"cancel", "stop", "quit", "exit", "never mind",
	"算了", "不用了", "取消", "停止", "不需要了",
}

// Completer is the subset of the LLM client the elicitation handler needs:
// one-shot completion with a system prompt, used to coerce a free-text
// elicitation answer into the schema the server asked for.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client is one session's MCP connection: tool introspection, cancellable
// calls, and the elicitation/roots handlers for server-initiated requests.
type Client struct {
	cfg       *ServerConfig
	sessionID string
	logger    *slog.Logger

	inputBus  *bus.InputBus
	outputBus *bus.OutputBus
	consumed  *bus.ConsumedSet
	gate      *bus.ElicitationGate
	llm       Completer

	mu        sync.Mutex
	transport Transport
	limiter   *rate.Limiter

	stopRequests chan struct{}
	wg           sync.WaitGroup
}

// NewClient builds an MCP client for one session. Connect must be called
// before use.
func NewClient(cfg *ServerConfig, sessionID string, inputBus *bus.InputBus, outputBus *bus.OutputBus, consumed *bus.ConsumedSet, gate *bus.ElicitationGate, llm Completer) *Client {
	return &Client{
		cfg:          cfg,
		sessionID:    sessionID,
		logger:       slog.Default().With("component", "mcpclient", "session_id", sessionID),
		inputBus:     inputBus,
		outputBus:    outputBus,
		consumed:     consumed,
		gate:         gate,
		llm:          llm,
		limiter:      rate.NewLimiter(rate.Limit(foregroundRateLimit), foregroundRateLimit),
		stopRequests: make(chan struct{}),
	}
}

// Connect dials the base transport and starts the server-request handler
// loop (elicitation/create, roots/list).
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	t := NewTransport(c.cfg)
	c.mu.Unlock()

	if err := t.Connect(ctx); err != nil {
		return err
	}

	if _, err := t.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      ClientInfo{Name: "robotd", Version: "1.0.0"},
		"capabilities":    Capabilities{Elicitation: &ElicitationCapability{}, Roots: &RootsCapability{}},
	}); err != nil {
		_ = t.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()

	c.wg.Add(1)
	go c.serveRequests(t)

	return nil
}

// Close tears down the base connection and the request handler loop.
func (c *Client) Close() error {
	close(c.stopRequests)
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	var err error
	if t != nil {
		err = t.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Client) currentTransport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// ListTools fetches and decodes the server's tool catalogue.
func (c *Client) ListTools(ctx context.Context) ([]MCPTool, error) {
	raw, err := c.currentTransport().Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list: %w", err)
	}
	tools := make([]MCPTool, 0, len(result.Tools))
	for _, rt := range result.Tools {
		tools = append(tools, MCPTool{
			Name:          rt.Name,
			Description:   rt.Description,
			InputSchema:   rt.InputSchema,
			IsLongRunning: rt.Meta.IsLongRunning,
		})
	}
	return tools, nil
}

// RequiredFields extracts the "required" array from a tool's JSON schema.
func RequiredFields(tool MCPTool) []string {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	var schema struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		return nil
	}
	return schema.Required
}

// ToolSchema returns the tool's raw input schema, or nil if it has none.
func ToolSchema(tool MCPTool) json.RawMessage {
	return tool.InputSchema
}

// RequiredFields is a method form of the package-level helper, so Client
// satisfies the same interface as TaskAwareClient.
func (c *Client) RequiredFields(tool MCPTool) []string { return RequiredFields(tool) }

// ToolSchema is a method form of the package-level helper, so Client
// satisfies the same interface as TaskAwareClient.
func (c *Client) ToolSchema(tool MCPTool) json.RawMessage { return ToolSchema(tool) }

// missingRequired reports whether any of required is absent, null, empty
// string, the literal string "null", or an empty array in args.
func missingRequired(required []string, args map[string]any) bool {
	for _, field := range required {
		v, ok := args[field]
		if !ok || v == nil {
			return true
		}
		switch t := v.(type) {
		case string:
			if t == "" || t == "null" {
				return true
			}
		case []any:
			if len(t) == 0 {
				return true
			}
		}
	}
	return false
}

// CallTool invokes an MCP tool per spec: missing required fields trigger
// server-side elicitation by calling with no arguments; long-running tools
// get a dedicated connection; cancellation never surfaces as an error.
func (c *Client) CallTool(ctx context.Context, tool MCPTool, args map[string]any) (*ToolCallResult, error) {
	callArgs := args
	if missingRequired(RequiredFields(tool), args) {
		callArgs = nil
	}

	c.publishToolLifecycle(toolStageStarted, tool.Name, nil)

	var result *ToolCallResult
	var err error
	if tool.IsLongRunning {
		result, err = c.callOnDedicatedConnection(ctx, tool.Name, callArgs)
	} else {
		result, err = c.callWithReconnect(ctx, tool.Name, callArgs)
	}

	if err != nil {
		c.publishToolLifecycle(toolStageFailed, tool.Name, err)
	} else {
		c.publishToolLifecycle(toolStageCompleted, tool.Name, nil)
	}
	return result, err
}

func (c *Client) callOnDedicatedConnection(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	t := NewTransport(c.cfg)
	if err := t.Connect(ctx); err != nil {
		return nil, fmt.Errorf("dedicated connection: %w", err)
	}
	defer t.Close()

	if _, err := t.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      ClientInfo{Name: "robotd", Version: "1.0.0"},
	}); err != nil {
		return nil, fmt.Errorf("dedicated initialize: %w", err)
	}

	return c.doCall(ctx, t, name, args)
}

func (c *Client) callWithReconnect(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	t := c.currentTransport()
	result, err := c.doCall(ctx, t, name, args)
	if err == nil || !isTransportError(err) {
		return result, err
	}

	c.logger.Warn("mcp transport error, reconnecting once", "error", err)
	_ = t.Close()

	fresh := NewTransport(c.cfg)
	if connErr := fresh.Connect(ctx); connErr != nil {
		return nil, fmt.Errorf("reconnect: %w", connErr)
	}
	if _, initErr := fresh.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      ClientInfo{Name: "robotd", Version: "1.0.0"},
	}); initErr != nil {
		return nil, fmt.Errorf("reconnect initialize: %w", initErr)
	}

	c.mu.Lock()
	c.transport = fresh
	c.mu.Unlock()

	return c.doCall(ctx, fresh, name, args)
}

func isTransportError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sub := range transportErrorSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

func (c *Client) doCall(ctx context.Context, t Transport, name string, args map[string]any) (*ToolCallResult, error) {
	var argsJSON json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal args: %w", err)
		}
		argsJSON = data
	}

	params := CallToolParams{Name: name, Arguments: argsJSON}

	raw, err := t.Call(ctx, "tools/call", params)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "cancelled") {
			return &ToolCallResult{
				Content: []ToolResultContent{{Type: "tool_cancel", Text: "call cancelled"}},
			}, nil
		}
		return nil, err
	}

	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return &result, nil
}

// serveRequests answers server-initiated requests: elicitation/create and
// roots/list.
func (c *Client) serveRequests(t Transport) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopRequests:
			return
		case req, ok := <-t.Requests():
			if !ok {
				return
			}
			c.handleServerRequest(t, req)
		}
	}
}

func (c *Client) handleServerRequest(t Transport, req *JSONRPCRequest) {
	ctx := context.Background()
	switch req.Method {
	case "elicitation/create":
		c.handleElicitation(ctx, t, req)
	case "roots/list":
		cwd, _ := os.Getwd()
		_ = t.Respond(ctx, req.ID, ListRootsResult{
			Roots: []Root{{URI: "file://" + cwd, Name: "workspace"}},
		}, nil)
	default:
		_ = t.Respond(ctx, req.ID, nil, &JSONRPCError{
			Code:    ErrCodeMethodNotFound,
			Message: "method not supported: " + req.Method,
		})
	}
}

func (c *Client) handleElicitation(ctx context.Context, t Transport, req *JSONRPCRequest) {
	var params ElicitationCreateParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		_ = t.Respond(ctx, req.ID, nil, &JSONRPCError{Code: ErrCodeInvalidParams, Message: "bad elicitation params"})
		return
	}

	c.gate.SetActive(c.sessionID, true)
	defer c.gate.SetActive(c.sessionID, false)

	if c.outputBus != nil {
		c.outputBus.Publish(&bus.OutputEvent{
			Target:    "default",
			Source:    "mcp",
			SessionID: c.sessionID,
			Content: map[string]any{
				"type":    string(bus.ContentElicitation),
				"message": params.Message,
				"schema":  json.RawMessage(params.RequestedSchema),
			},
			CreatedAt: time.Now(),
		})
	}

	sub, unsubscribe := c.inputBus.Subscribe()
	defer unsubscribe()

	var answer string
	var eventID string
	for {
		select {
		case <-ctx.Done():
			_ = t.Respond(ctx, req.ID, nil, &JSONRPCError{Code: ErrCodeInternalError, Message: "elicitation context cancelled"})
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.ResolvedSessionID() != c.sessionID {
				continue
			}
			answer = evt.Text()
			eventID = evt.ID
		}
		break
	}

	if isCancelPhrase(answer) {
		c.consumed.MarkConsumed(eventID)
		c.publishToolCancel()
		c.cancelInflight(t)
		_ = t.Respond(ctx, req.ID, ElicitationResult{Action: ElicitationCancel}, nil)
		return
	}

	content, err := c.parseElicitationAnswer(ctx, answer, params)
	if err != nil {
		_ = t.Respond(ctx, req.ID, nil, &JSONRPCError{Code: ErrCodeInternalError, Message: "could not interpret answer: " + err.Error()})
		return
	}

	c.consumed.MarkConsumed(eventID)
	_ = t.Respond(ctx, req.ID, ElicitationResult{Action: ElicitationAccept, Content: content}, nil)
}

func (c *Client) parseElicitationAnswer(ctx context.Context, answer string, params ElicitationCreateParams) (json.RawMessage, error) {
	if json.Valid([]byte(strings.TrimSpace(answer))) {
		return json.RawMessage(strings.TrimSpace(answer)), nil
	}

	if c.llm == nil {
		return nil, fmt.Errorf("answer is not JSON and no LLM is configured to coerce it")
	}

	systemPrompt := fmt.Sprintf(
		"You convert a user's free-text answer into a single JSON object matching this schema. "+
			"Reply with only the JSON object, nothing else.\n\nSchema:\n%s\n\nPrompt shown to the user:\n%s",
		string(params.RequestedSchema), params.Message,
	)
	raw, err := c.llm.Complete(ctx, systemPrompt, answer)
	if err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}

	candidate := extractJSONObject(raw)
	if candidate == "" || !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("llm did not return parseable JSON")
	}
	return json.RawMessage(candidate), nil
}

// extractJSONObject strips code-fence wrappers by scanning for the
// outermost '{' and '}'.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func isCancelPhrase(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range cancelPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func (c *Client) publishToolCancel() {
	if c.outputBus == nil {
		return
	}
	c.outputBus.Publish(&bus.OutputEvent{
		Target:    "default",
		Source:    "mcp",
		SessionID: c.sessionID,
		Content: map[string]any{
			"type": string(bus.ContentToolCancel),
			"text": "cancelled",
		},
		CreatedAt: time.Now(),
	})
}

// cancelInflight notifies the server to abandon the call it most recently
// assigned a request id to on this transport — reliable because an
// elicitation/create arrives only while that call's Call() is still
// blocked waiting for a response on the same connection.
func (c *Client) cancelInflight(t Transport) {
	id := t.LastCallID()
	if id == nil {
		return
	}
	_ = t.Notify(context.Background(), "notifications/cancelled", CancelledParams{RequestID: id, Reason: "user cancelled"})
}
