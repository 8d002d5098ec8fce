// Package perception implements the pluggable Perception module and the
// Intent RESPOND/IGNORE gate built on top of it.
package perception

import (
	"context"
	"fmt"
	"strings"
)

// Assessment is what a Perception module returns for one input.
type Assessment struct {
	Sentiment      string
	Urgency        string
	ContextSummary string
}

// Module is the pluggable Perception capability.
type Module interface {
	Perceive(ctx context.Context, inputText string) (Assessment, error)
}

// Neutral is the basic Perception implementation: it does no analysis and
// always reports a neutral, normal-urgency assessment.
type Neutral struct{}

// Perceive returns a fixed neutral assessment.
func (Neutral) Perceive(ctx context.Context, inputText string) (Assessment, error) {
	return Assessment{Sentiment: "neutral", Urgency: "normal", ContextSummary: "no deep analysis"}, nil
}

// Completer is the LLM call the intent gate needs.
type Completer interface {
	CompleteForSession(ctx context.Context, sessionID, systemPrompt, userPrompt string) (string, error)
}

// IntentModule decides whether a session should respond to an input at
// all. IntentGate is the LLM-backed implementation; AlwaysRespond is the
// trivial one.
type IntentModule interface {
	ShouldRespond(ctx context.Context, sessionID, personaName, personaStyle string, assessment Assessment, inputText string) (bool, error)
}

var (
	_ IntentModule = (*IntentGate)(nil)
	_ IntentModule = AlwaysRespond{}
)

// IntentGate decides whether a session actor should respond to an input
// at all, given the persona and a Perception assessment.
type IntentGate struct {
	llm Completer
}

// NewIntentGate builds a gate backed by llm.
func NewIntentGate(llm Completer) *IntentGate {
	return &IntentGate{llm: llm}
}

// ShouldRespond evaluates RESPOND vs IGNORE for inputText.
func (g *IntentGate) ShouldRespond(ctx context.Context, sessionID, personaName, personaStyle string, assessment Assessment, inputText string) (bool, error) {
	system := fmt.Sprintf(
		"You are %s, with a %s style. The perceived sentiment is %s and urgency is %s (%s). "+
			"Decide whether %s should respond to this message or ignore it. "+
			"Reply in exactly this form:\nReason: <one short sentence>\nDecision: RESPOND|IGNORE",
		personaName, personaStyle, assessment.Sentiment, assessment.Urgency, assessment.ContextSummary, personaName,
	)
	raw, err := g.llm.CompleteForSession(ctx, sessionID, system, inputText)
	if err != nil {
		return false, fmt.Errorf("intent completion: %w", err)
	}
	return strings.Contains(strings.ToUpper(raw), "DECISION: RESPOND"), nil
}

// AlwaysRespond is a trivial IntentGate that never ignores anything.
type AlwaysRespond struct{}

// ShouldRespond always returns true.
func (AlwaysRespond) ShouldRespond(ctx context.Context, sessionID, personaName, personaStyle string, assessment Assessment, inputText string) (bool, error) {
	return true, nil
}
