// Package session implements the per-session actor: a single goroutine
// with its own inbox that owns one session's Context and pending-execution
// state, so two InputEvents for the same session are never processed
// concurrently.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sessionkernel/robotd/internal/bus"
	"github.com/sessionkernel/robotd/internal/decision"
	"github.com/sessionkernel/robotd/internal/perception"
	"github.com/sessionkernel/robotd/internal/router"
	"github.com/sessionkernel/robotd/internal/tasks"
	"github.com/sessionkernel/robotd/internal/workflow"
)

// Persona is the name/style pair the decision engine and intent gate prompt
// against.
type Persona struct {
	Name  string
	Style string
}

// Dependencies are the collaborators one Actor needs; everything here is
// either process-wide and shared (Decision, Perception, Intent, Registry)
// or scoped to this one session (MCPClient, Tasks).
type Dependencies struct {
	Decision   *decision.Engine
	Resolver   workflow.Resolver
	Perception perception.Module
	Intent     perception.IntentModule
	Persona    Persona
	Registry   *router.Registry
	Tasks      *tasks.Manager
	MCPClient  workflow.MCPClient
	Consumed   *bus.ConsumedSet
	Gate       *bus.ElicitationGate
}

// pendingExecution is the suspended state of a WaitUser step: the next
// InputEvent for this session resumes the plan at resumeIndex instead of
// going through Perception/Intent/Decision again.
type pendingExecution struct {
	steps       []workflow.StepSpec
	resumeIndex int
	wfCtx       *workflow.Context
	targetIDs   []string
	source      string
}

type inputMsg struct{ event *bus.InputEvent }
type shutdownMsg struct{ done chan struct{} }

// Actor owns one session's serial inbox.
type Actor struct {
	sessionID string
	deps      Dependencies
	logger    *slog.Logger
	inbox     chan any

	pending *pendingExecution
}

// NewActor creates an Actor for sessionID. The caller must call Run in its
// own goroutine.
func NewActor(sessionID string, deps Dependencies, logger *slog.Logger) *Actor {
	return &Actor{
		sessionID: sessionID,
		deps:      deps,
		logger:    logger.With("session_id", sessionID),
		inbox:     make(chan any, 64),
	}
}

// Send enqueues event for this actor. It never blocks the caller for long:
// the inbox is generously buffered, and a full inbox means this session is
// badly backed up, which the caller should treat as an error rather than
// stall on.
func (a *Actor) Send(event *bus.InputEvent) bool {
	select {
	case a.inbox <- inputMsg{event: event}:
		return true
	default:
		return false
	}
}

// Shutdown asks the actor's Run loop to exit once it drains its current
// work, and blocks until it has.
func (a *Actor) Shutdown() {
	done := make(chan struct{})
	a.inbox <- shutdownMsg{done: done}
	<-done
}

// Run is the actor's loop. It must run in its own goroutine and is the only
// goroutine that ever reads or mutates a.pending.
func (a *Actor) Run() {
	for msg := range a.inbox {
		switch m := msg.(type) {
		case inputMsg:
			a.handleInput(m.event)
		case shutdownMsg:
			close(m.done)
			return
		}
	}
}

func (a *Actor) handleInput(event *bus.InputEvent) {
	if a.deps.Consumed != nil && a.deps.Consumed.CheckAndRemove(event.ID) {
		return
	}
	if a.deps.Gate != nil && a.deps.Gate.Active(a.sessionID) {
		return
	}

	targetIDs := a.deps.Registry.TargetsFor(event.Source)
	inputText := event.Text()

	if a.pending != nil {
		resume := a.pending
		a.pending = nil
		resume.wfCtx.InputText = inputText
		resume.wfCtx.Memory.InputText = inputText
		a.executeWorkflow(resume.steps, resume.resumeIndex, resume.wfCtx, resume.targetIDs, resume.source)
		return
	}

	ctx := context.Background()

	assessment, err := a.deps.Perception.Perceive(ctx, inputText)
	if err != nil {
		a.logger.Error("perception failed", "error", err)
		return
	}

	should, err := a.deps.Intent.ShouldRespond(ctx, a.sessionID, a.deps.Persona.Name, a.deps.Persona.Style, assessment, inputText)
	if err != nil {
		a.logger.Error("intent gate failed", "error", err)
		return
	}
	if !should {
		return
	}

	plan, err := a.deps.Decision.Plan(ctx, a.sessionID, a.deps.Persona.Name, a.deps.Persona.Style, inputText, a.deps.MCPClient)
	if err != nil {
		if err == decision.ErrNoToolsAvailable {
			a.deps.Registry.Dispatch(targetIDs, bus.NewTextOutput(a.sessionID, event.Source,
				fmt.Sprintf("%s has no tools available right now.", a.deps.Persona.Name)))
			return
		}
		a.logger.Error("planning failed", "error", err)
		return
	}

	wfCtx := workflow.NewContext(a.sessionID, inputText)
	wfCtx.Memory.Plan = plan
	a.executeWorkflow(plan.Steps, 0, wfCtx, targetIDs, event.Source)
}

// executeWorkflow runs steps[startIndex:] in order against wfCtx. Tool
// steps marked IsBackground are spawned as a fire-and-forget goroutine
// registered with the session's Tasks manager; everything else runs
// synchronously on this actor's goroutine, which is what makes the actor
// the linearization point for a session's foreground state.
func (a *Actor) executeWorkflow(steps []workflow.StepSpec, startIndex int, wfCtx *workflow.Context, targetIDs []string, source string) {
	for i := startIndex; i < len(steps); i++ {
		wfCtx.Memory.CurrentStepIndex = i
		spec := steps[i]

		if spec.Kind == workflow.StepTool && spec.Tool.IsBackground {
			a.spawnBackground(spec, wfCtx, targetIDs, source)
			continue
		}

		step := workflow.BuildStep(spec, a.deps.Resolver)
		result, err := step.Run(context.Background(), wfCtx, a.deps.MCPClient)
		if err != nil {
			a.logger.Error("step failed", "step_index", i, "error", err)
			return
		}
		if result.Output != nil {
			a.deps.Registry.Dispatch(targetIDs, result.Output)
		}

		switch result.Status {
		case workflow.Continue:
			continue
		case workflow.Stop:
			return
		case workflow.WaitUser:
			if result.Prompt != "" {
				a.deps.Registry.Dispatch(targetIDs, bus.NewTextOutput(a.sessionID, source, result.Prompt))
			}
			a.pending = &pendingExecution{
				steps:       steps,
				resumeIndex: i,
				wfCtx:       wfCtx,
				targetIDs:   targetIDs,
				source:      source,
			}
			return
		}
	}
}

func (a *Actor) spawnBackground(spec workflow.StepSpec, wfCtx *workflow.Context, targetIDs []string, source string) {
	taskID := uuid.NewString()
	prompt := originalPrompt(wfCtx.InputText, spec.Tool.Args)
	bgCtx, cancel := context.WithCancel(context.Background())

	a.deps.Tasks.Add(taskID, spec.Tool.Name, prompt, cancel)
	a.deps.Registry.Dispatch(targetIDs, bus.NewTextOutput(a.sessionID, source,
		fmt.Sprintf("Started background task %q (id: %s).", spec.Tool.Name, taskID)))

	cloned := wfCtx.Clone()
	step := workflow.BuildStep(spec, a.deps.Resolver)

	go func() {
		defer a.deps.Tasks.Remove(taskID)
		result, err := step.Run(bgCtx, cloned, a.deps.MCPClient)
		if err != nil {
			a.logger.Error("background task failed", "task_id", taskID, "tool", spec.Tool.Name, "error", err)
			return
		}
		if result.Output != nil {
			a.deps.Registry.Dispatch(targetIDs, result.Output)
		}
	}()
}

// originalPrompt is what the task manager records as the human-readable
// reason a background task exists: the triggering input text, with the
// tool's resolved args appended when they carry more than just the
// implicit session_id.
func originalPrompt(inputText string, args map[string]any) string {
	if len(args) == 0 {
		return inputText
	}
	if _, ok := args["session_id"]; ok && len(args) == 1 {
		return inputText
	}
	return fmt.Sprintf("%s %v", inputText, args)
}
