// Package llm wraps the LM Studio-compatible chat-completions backend used
// for planning, parameter resolution, intent gating, and elicitation
// answer coercion. It speaks the OpenAI chat-completions wire format
// non-streaming, via the same client library the teacher's own OpenAI
// provider uses, pointed at a custom BaseURL.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sessionkernel/robotd/internal/bus"
	"github.com/sessionkernel/robotd/internal/observability"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBaseURL = "http://localhost:1234"
	thinkOpen      = "<think>"
	thinkClose     = "</think>"
)

// Config holds the backend connection settings, loaded from
// LMSTUDIO_URL / LMSTUDIO_API_KEY / LMSTUDIO_MODEL.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ConfigFromEnv builds a Config from the LMSTUDIO_* environment variables,
// matching the backend described for this kernel.
func ConfigFromEnv() Config {
	cfg := Config{
		BaseURL: os.Getenv("LMSTUDIO_URL"),
		APIKey:  os.Getenv("LMSTUDIO_API_KEY"),
		Model:   os.Getenv("LMSTUDIO_MODEL"),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return cfg
}

// Client is a non-streaming chat-completions client with think-tag
// extraction, shared by every component in this kernel that needs an LLM
// call (planner, resolver, perception/intent gate, elicitation coercion).
type Client struct {
	client *openai.Client
	model  string
	logger *slog.Logger
	output *bus.OutputBus

	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// WithObservability attaches metrics and tracing to every completion this
// client makes from this point on. Either argument may be nil.
func (c *Client) WithObservability(metrics *observability.Metrics, tracer *observability.Tracer) *Client {
	c.metrics = metrics
	c.tracer = tracer
	return c
}

// New builds a Client from cfg. output may be nil; when set, any
// extracted <think> content is published as a think OutputEvent for
// requests that carry a session id.
func New(cfg Config, output *bus.OutputBus) *Client {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	oaiCfg.BaseURL = cfg.BaseURL
	return &Client{
		client: openai.NewClientWithConfig(oaiCfg),
		model:  cfg.Model,
		logger: slog.Default().With("component", "llm"),
		output: output,
	}
}

// Complete sends a single-shot chat completion and returns the visible
// text, with any <think>...</think> content stripped out and, for
// non-empty sessionID, emitted separately on the output bus.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.CompleteForSession(ctx, "", systemPrompt, userPrompt)
}

// CompleteForSession is Complete with an explicit session id attached, so
// the think channel can be routed to the right front-end.
func (c *Client) CompleteForSession(ctx context.Context, sessionID, systemPrompt, userPrompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0,
	}

	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.TraceLLMRequest(ctx, c.model)
		defer span.End()
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordLLMRequest(c.model, "error", duration.Seconds(), 0, 0)
		}
		return "", fmt.Errorf("lmstudio completion: %w", err)
	}
	c.logger.Debug("completion finished", "duration", duration, "session_id", sessionID)
	if c.metrics != nil {
		c.metrics.RecordLLMRequest(c.model, "ok", duration.Seconds(),
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("lmstudio returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	visible, thought := splitThink(raw)

	if thought != "" && sessionID != "" && c.output != nil {
		c.output.Publish(&bus.OutputEvent{
			Target:    "default",
			Source:    "llm",
			SessionID: sessionID,
			Content: map[string]any{
				"type": string(bus.ContentThink),
				"text": thought,
			},
			CreatedAt: time.Now(),
		})
	}

	return visible, nil
}

// splitThink extracts the first <think>...</think> block from raw,
// returning the visible text with it removed and the thought content on
// its own.
func splitThink(raw string) (visible, thought string) {
	start := strings.Index(raw, thinkOpen)
	if start < 0 {
		return raw, ""
	}
	end := strings.Index(raw[start:], thinkClose)
	if end < 0 {
		return raw, ""
	}
	end += start

	thought = raw[start+len(thinkOpen) : end]
	visible = raw[:start] + raw[end+len(thinkClose):]
	return strings.TrimSpace(visible), strings.TrimSpace(thought)
}
