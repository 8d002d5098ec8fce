// Package tasks implements the per-session registry of background tool
// invocations: tasks started by a workflow step marked is_background, so
// they can be listed and cancelled by a later step in the same or a
// subsequent plan.
package tasks

import (
	"sync"
	"time"
)

// CancelFunc fires a background task's cancellation. Cancellation is
// best-effort and non-graceful — the underlying goroutine is expected to
// observe context cancellation, not be force-killed.
type CancelFunc func()

// BackgroundTask is one in-flight background tool invocation owned by a
// single session's Manager.
type BackgroundTask struct {
	ID             string
	Name           string
	Ordinal        int
	StartTime      time.Time
	OriginalPrompt string
	cancel         CancelFunc
}

// Summary is the read-only snapshot returned by List.
type Summary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Ordinal        int       `json:"ordinal"`
	StartTime      time.Time `json:"start_time"`
	OriginalPrompt string    `json:"original_prompt"`
	Status         string    `json:"status"`
}

// Manager is a per-session registry of background tasks. Ordinals are
// strictly increasing within one Manager and an id appears at most once.
type Manager struct {
	mu      sync.RWMutex
	tasks   map[string]*BackgroundTask
	ordinal int
}

// NewManager creates an empty task registry for one session.
func NewManager() *Manager {
	return &Manager{tasks: make(map[string]*BackgroundTask)}
}

// Add registers a new background task and assigns it the next ordinal.
func (m *Manager) Add(id, name, originalPrompt string, cancel CancelFunc) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ordinal++
	m.tasks[id] = &BackgroundTask{
		ID:             id,
		Name:           name,
		Ordinal:        m.ordinal,
		StartTime:      time.Now(),
		OriginalPrompt: originalPrompt,
		cancel:         cancel,
	}
	return m.ordinal
}

// Remove deletes a task from the registry if present. A running background
// step is expected to call this on its own completion.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
}

// List returns a point-in-time snapshot of every running task, ordered by
// ordinal.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, Summary{
			ID:             t.ID,
			Name:           t.Name,
			Ordinal:        t.Ordinal,
			StartTime:      t.StartTime,
			OriginalPrompt: t.OriginalPrompt,
			Status:         "Running",
		})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Ordinal > out[j].Ordinal; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Cancel fires the task's cancel handle and removes it from the registry.
// It returns whether the task was present — a second Cancel for the same id
// always returns false, giving cancellation its idempotence guarantee.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok {
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if t.cancel != nil {
		t.cancel()
	}
	return true
}

// Len reports the number of tasks currently registered.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}
