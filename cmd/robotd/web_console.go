package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sessionkernel/robotd/internal/bus"
	"github.com/sessionkernel/robotd/internal/session"
)

// webMessage is the JSON body POSTed to /message.
type webMessage struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// webResponse acknowledges a POSTed message; the reply itself arrives on
// the session's SSE stream, since planning and tool calls are async.
type webResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

// webConsole is the reference HTTP/SSE front-end: POST /message submits
// one InputEvent, GET /stream/{session_id} opens a server-sent-events
// subscription for that session's OutputEvents — the same per-session
// subscriber-map shape as the reference TCP console's peer map, adapted
// for a fan-out-to-possibly-many-tabs model.
type webConsole struct {
	manager  *session.Manager
	inputBus *bus.InputBus
	server   *http.Server

	mu          sync.Mutex
	subscribers map[string]map[string]chan *bus.OutputEvent
}

func newWebConsole(manager *session.Manager, inputBus *bus.InputBus) *webConsole {
	return &webConsole{
		manager:     manager,
		inputBus:    inputBus,
		subscribers: make(map[string]map[string]chan *bus.OutputEvent),
	}
}

// ID implements router.OutputHandler.
func (w *webConsole) ID() string { return "web" }

// Emit implements router.OutputHandler: it fans event out to every open
// SSE stream for event.SessionID (or every open stream of every session,
// for a broadcast-style system event with no SessionID).
func (w *webConsole) Emit(event *bus.OutputEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if event.SessionID != "" {
		for _, ch := range w.subscribers[event.SessionID] {
			trySend(ch, event)
		}
		return
	}
	for _, bySub := range w.subscribers {
		for _, ch := range bySub {
			trySend(ch, event)
		}
	}
}

func trySend(ch chan *bus.OutputEvent, event *bus.OutputEvent) {
	select {
	case ch <- event:
	default:
	}
}

func (w *webConsole) Serve(addr string) error {
	r := chi.NewRouter()
	r.Post("/message", w.handleMessage)
	r.Get("/stream/{session_id}", w.handleStream)

	w.server = &http.Server{Addr: addr, Handler: r}
	if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *webConsole) Shutdown(ctx context.Context) error {
	if w.server == nil {
		return nil
	}
	return w.server.Shutdown(ctx)
}

func (w *webConsole) handleMessage(rw http.ResponseWriter, r *http.Request) {
	var msg webMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(rw, "invalid json body", http.StatusBadRequest)
		return
	}
	if msg.SessionID == "" {
		msg.SessionID = uuid.NewString()
	}

	event := &bus.InputEvent{
		ID:        uuid.NewString(),
		Source:    "web",
		SessionID: msg.SessionID,
		SourceMeta: &bus.SourceMeta{
			Name:         "web",
			Format:       "structured",
			ContentField: "content",
			Description:  "User input from web chat interface.",
		},
		Payload:   map[string]any{"content": msg.Content},
		CreatedAt: time.Now(),
	}

	w.inputBus.Publish(event)
	if err := w.manager.Dispatch(event); err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(webResponse{Success: true, SessionID: msg.SessionID})
}

func (w *webConsole) handleStream(rw http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		http.Error(rw, "session_id is required", http.StatusBadRequest)
		return
	}

	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	ch := make(chan *bus.OutputEvent, 32)
	subID := uuid.NewString()

	w.mu.Lock()
	if w.subscribers[sessionID] == nil {
		w.subscribers[sessionID] = make(map[string]chan *bus.OutputEvent)
	}
	w.subscribers[sessionID][subID] = ch
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.subscribers[sessionID], subID)
		if len(w.subscribers[sessionID]) == 0 {
			delete(w.subscribers, sessionID)
		}
		w.mu.Unlock()
	}()

	logger := slog.Default().With("component", "web_console", "session_id", sessionID)
	logger.Info("sse stream opened")
	defer logger.Info("sse stream closed")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			eventType := event.Content["type"]
			fmt.Fprintf(rw, "event: %v\ndata: %s\n\n", eventType, data)
			flusher.Flush()
		}
	}
}
