package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sessionkernel/robotd/internal/bus"
	"github.com/sessionkernel/robotd/internal/decision"
	"github.com/sessionkernel/robotd/internal/mcpclient"
	"github.com/sessionkernel/robotd/internal/perception"
	"github.com/sessionkernel/robotd/internal/resolver"
	"github.com/sessionkernel/robotd/internal/router"
	"github.com/sessionkernel/robotd/internal/tasks"
	"github.com/sessionkernel/robotd/internal/workflow"
)

// ClientFactory builds the MCP client a new session's actor will use, wired
// to that session's own input/output bus plumbing so elicitation round-trips
// stay scoped to this session. Callers typically wrap the returned client in
// mcpclient.NewTaskAwareClient with the session's own tasks.Manager.
type ClientFactory func(sessionID string) (workflow.MCPClient, error)

// Shared bundles the collaborators that are process-wide and the same for
// every session an actor for.
type Shared struct {
	Decision      *decision.Engine
	ResolverLLM   resolver.Completer
	Perception    perception.Module
	Intent        perception.IntentModule
	Persona       Persona
	Registry      *router.Registry
	Consumed      *bus.ConsumedSet
	Gate          *bus.ElicitationGate
	ClientFactory ClientFactory
	Logger        *slog.Logger
}

type entry struct {
	actor *Actor
	tasks *tasks.Manager
}

// Manager dispatches InputEvents to the session they belong to, lazily
// spawning a new Actor (and that session's MCP client) the first time a
// session is seen.
type Manager struct {
	shared Shared

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewManager creates an empty Manager.
func NewManager(shared Shared) *Manager {
	return &Manager{shared: shared, sessions: make(map[string]*entry)}
}

// Dispatch routes event to its session's actor, spawning the actor on first
// use. The fast path takes only a read lock when the session already
// exists and its inbox accepts the send; the slow path takes the write
// lock to create the actor (and its MCP client) exactly once.
func (m *Manager) Dispatch(event *bus.InputEvent) error {
	sessionID := event.ResolvedSessionID()

	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok && e.actor.Send(event) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok = m.sessions[sessionID]
	if ok {
		if e.actor.Send(event) {
			return nil
		}
		return fmt.Errorf("session %s: actor inbox full", sessionID)
	}

	e, err := m.spawn(sessionID)
	if err != nil {
		return fmt.Errorf("spawn session %s: %w", sessionID, err)
	}
	m.sessions[sessionID] = e
	if !e.actor.Send(event) {
		return fmt.Errorf("session %s: actor inbox full immediately after spawn", sessionID)
	}
	return nil
}

func (m *Manager) spawn(sessionID string) (*entry, error) {
	client, err := m.shared.ClientFactory(sessionID)
	if err != nil {
		return nil, err
	}

	taskMgr := tasks.NewManager()
	wrapped := client
	if inner, ok := client.(*mcpclient.Client); ok {
		wrapped = mcpclient.NewTaskAwareClient(inner, taskMgr)
	}

	deps := Dependencies{
		Decision:   m.shared.Decision,
		Resolver:   resolver.New(m.shared.ResolverLLM),
		Perception: m.shared.Perception,
		Intent:     m.shared.Intent,
		Persona:    m.shared.Persona,
		Registry:   m.shared.Registry,
		Tasks:      taskMgr,
		MCPClient:  wrapped,
		Consumed:   m.shared.Consumed,
		Gate:       m.shared.Gate,
	}

	logger := m.shared.Logger
	if logger == nil {
		logger = slog.Default()
	}
	actor := NewActor(sessionID, deps, logger)
	go actor.Run()
	return &entry{actor: actor, tasks: taskMgr}, nil
}

// Shutdown stops every session's actor and waits for each to drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.actor.Shutdown()
	}
}
