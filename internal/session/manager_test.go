package session

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sessionkernel/robotd/internal/bus"
	"github.com/sessionkernel/robotd/internal/decision"
	"github.com/sessionkernel/robotd/internal/mcpclient"
	"github.com/sessionkernel/robotd/internal/perception"
	"github.com/sessionkernel/robotd/internal/router"
	"github.com/sessionkernel/robotd/internal/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_DispatchSpawnsActorLazily(t *testing.T) {
	registry := router.NewRegistry()
	h := newRecordingHandler("h1")
	registry.Register(h)

	client := &fakeMCPClient{tools: []mcpclient.MCPTool{{Name: "get_weather"}}}
	shared := Shared{
		Decision:      decision.New(&fixedLLM{response: `{"reasoning":"","steps":[{"tool":"get_weather","dependencies":[]}]}`}),
		ResolverLLM:   &fixedLLM{},
		Perception:    perception.Neutral{},
		Intent:        perception.AlwaysRespond{},
		Persona:       Persona{Name: "Robot", Style: "terse"},
		Registry:      registry,
		Consumed:      bus.NewConsumedSet(),
		Gate:          bus.NewElicitationGate(),
		ClientFactory: func(sessionID string) (workflow.MCPClient, error) { return client, nil },
		Logger:        discardLogger(),
	}
	m := NewManager(shared)

	if err := m.Dispatch(newInputEvent("evt1", "tcp", "what's the weather")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case e := <-h.out:
		if e.Content["tool"] != "get_weather" {
			t.Fatalf("unexpected output: %+v", e.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched session's output")
	}

	m.mu.RLock()
	count := len(m.sessions)
	m.mu.RUnlock()
	if count != 1 {
		t.Fatalf("expected exactly one session spawned, got %d", count)
	}

	m.Shutdown()
}

func TestManager_DispatchReusesExistingActor(t *testing.T) {
	registry := router.NewRegistry()
	h := newRecordingHandler("h1")
	registry.Register(h)

	spawnCount := 0
	client := &fakeMCPClient{tools: []mcpclient.MCPTool{{Name: "get_weather"}}}
	shared := Shared{
		Decision:      decision.New(&fixedLLM{response: `{"reasoning":"","steps":[{"tool":"get_weather","dependencies":[]}]}`}),
		ResolverLLM:   &fixedLLM{},
		Perception:    perception.Neutral{},
		Intent:        perception.AlwaysRespond{},
		Persona:       Persona{Name: "Robot", Style: "terse"},
		Registry:      registry,
		Consumed:      bus.NewConsumedSet(),
		Gate:          bus.NewElicitationGate(),
		ClientFactory: func(sessionID string) (workflow.MCPClient, error) { spawnCount++; return client, nil },
		Logger:        discardLogger(),
	}
	m := NewManager(shared)

	for i := 0; i < 3; i++ {
		if err := m.Dispatch(newInputEvent("evt", "tcp", "what's the weather")); err != nil {
			t.Fatalf("Dispatch #%d: %v", i, err)
		}
		<-h.out
	}

	if spawnCount != 1 {
		t.Fatalf("expected the MCP client factory to run once, got %d", spawnCount)
	}

	m.Shutdown()
}
