// Package engine drives the reasoning/action cycle: model call, tool
// dispatch, observation append, compaction check, repeat until the model
// answers without requesting tools.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pilotdev/pilot/internal/compact"
	"github.com/pilotdev/pilot/internal/events"
	"github.com/pilotdev/pilot/internal/interrupt"
	"github.com/pilotdev/pilot/internal/model"
	"github.com/pilotdev/pilot/internal/scheduler"
	"github.com/pilotdev/pilot/internal/session"
	"github.com/pilotdev/pilot/internal/tools"
)

// DefaultMaxCycles bounds how many reasoning/action cycles one Run may
// consume before the loop gives up.
const DefaultMaxCycles = 50

// ErrCycleBudget means the loop hit its cycle bound without a final
// answer.
var ErrCycleBudget = errors.New("cycle budget exhausted without a final answer")

// Config wires the loop's collaborators.
type Config struct {
	Model      model.Client
	Scheduler  *scheduler.Scheduler
	Compactor  *compact.Compactor
	Interrupts *interrupt.Controller
	Tools      *tools.Registry
	Events     events.Sink
	System     string
	MaxTokens  int
	MaxCycles  int
}

// Loop is the agent execution engine for one session at a time.
type Loop struct {
	model      model.Client
	sched      *scheduler.Scheduler
	compactor  *compact.Compactor
	interrupts *interrupt.Controller
	tools      *tools.Registry
	events     events.Sink
	system     string
	maxTokens  int
	maxCycles  int
}

// New creates a loop. Model, scheduler, interrupts, and tools are
// required; a nil compactor disables compaction.
func New(cfg Config) (*Loop, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("new engine: model client is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("new engine: scheduler is required")
	}
	if cfg.Interrupts == nil {
		return nil, fmt.Errorf("new engine: interruption controller is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("new engine: tool registry is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.NopSink{}
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}
	return &Loop{
		model:      cfg.Model,
		sched:      cfg.Scheduler,
		compactor:  cfg.Compactor,
		interrupts: cfg.Interrupts,
		tools:      cfg.Tools,
		events:     cfg.Events,
		system:     cfg.System,
		maxTokens:  cfg.MaxTokens,
		maxCycles:  cfg.MaxCycles,
	}, nil
}

// Run executes one user request to completion and returns the final
// answer text. On any exit path the session lands in a terminal state and
// no tool request is left suspended.
func (l *Loop) Run(ctx context.Context, sess *session.Session, input string) (string, error) {
	if sess.State().IsTerminal() {
		return "", fmt.Errorf("session %s is already %s", sess.ID, sess.State())
	}
	sess.Append(session.UserTurn(input))

	system := l.system
	if system == "" {
		system = SystemPrompt(sess.Root)
	}

	for cycle := 1; cycle <= l.maxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return "", l.cancelled(ctx, sess, cycle)
		}

		// Steering input that arrived mid-cycle joins the conversation
		// before the model sees anything else.
		for _, queued := range sess.DrainInputs() {
			sess.Append(session.UserTurn(queued))
		}

		sess.SetState(session.StateReasoning)
		l.publish(ctx, events.Event{Type: events.CycleStarted, SessionID: sess.ID, Cycle: cycle})

		resp, err := l.model.Complete(ctx, model.Request{
			System:    system,
			Turns:     sess.Live(),
			Tools:     l.tools.Schemas(),
			MaxTokens: l.maxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", l.cancelled(ctx, sess, cycle)
			}
			return "", l.failed(ctx, sess, cycle, fmt.Errorf("model call: %w", err))
		}

		sess.Append(session.AssistantTurn(resp.Text, resp.Requests))
		if resp.Text != "" {
			l.publish(ctx, events.Event{
				Type:      events.AssistantMessage,
				SessionID: sess.ID,
				Cycle:     cycle,
				Content:   resp.Text,
			})
		}

		if len(resp.Requests) == 0 {
			sess.SetState(session.StateAnswered)
			l.publish(ctx, events.Event{
				Type:      events.SessionFinished,
				SessionID: sess.ID,
				Cycle:     cycle,
				Content:   string(session.StateAnswered),
			})
			return resp.Text, nil
		}

		sess.SetState(session.StateDispatching)
		results := l.sched.Dispatch(ctx, sess, cycle, resp.Requests)

		sess.SetState(session.StateObserving)
		for _, result := range results {
			sess.Append(session.ObservationTurn(result))
		}
		if ctx.Err() != nil {
			return "", l.cancelled(ctx, sess, cycle)
		}

		l.maybeCompact(ctx, sess, cycle)
		l.publish(ctx, events.Event{Type: events.CycleFinished, SessionID: sess.ID, Cycle: cycle})
	}

	return "", l.failed(ctx, sess, l.maxCycles, ErrCycleBudget)
}

// maybeCompact folds old turns when the transcript crosses the threshold.
// Never runs with a suspended request outstanding: the conversation under
// a pending decision must stay put.
func (l *Loop) maybeCompact(ctx context.Context, sess *session.Session, cycle int) {
	if l.compactor == nil || l.interrupts.Outstanding() > 0 {
		return
	}
	if !l.compactor.ShouldCompact(sess) {
		return
	}
	sess.SetState(session.StateCompacting)
	if err := l.compactor.Compact(ctx, sess); err != nil {
		l.publish(ctx, events.Event{
			Type:      events.CompactionDone,
			SessionID: sess.ID,
			Cycle:     cycle,
			Content:   err.Error(),
			IsError:   true,
		})
		return
	}
	l.publish(ctx, events.Event{
		Type:      events.CompactionDone,
		SessionID: sess.ID,
		Cycle:     cycle,
		Content:   fmt.Sprintf("marker advanced to %d", sess.Marker()),
	})
}

// cancelled settles the session after context cancellation: every
// suspended request resolves to denied-by-cancellation first.
func (l *Loop) cancelled(ctx context.Context, sess *session.Session, cycle int) error {
	l.interrupts.CancelAll()
	sess.SetState(session.StateCancelled)
	l.publish(context.WithoutCancel(ctx), events.Event{
		Type:      events.SessionFinished,
		SessionID: sess.ID,
		Cycle:     cycle,
		Content:   string(session.StateCancelled),
	})
	return context.Cause(ctx)
}

func (l *Loop) failed(ctx context.Context, sess *session.Session, cycle int, err error) error {
	l.interrupts.CancelAll()
	sess.SetState(session.StateFailed)
	l.publish(ctx, events.Event{
		Type:      events.SessionFinished,
		SessionID: sess.ID,
		Cycle:     cycle,
		Content:   err.Error(),
		IsError:   true,
	})
	return err
}

func (l *Loop) publish(ctx context.Context, e events.Event) {
	_ = l.events.Publish(ctx, e)
}

// SystemPrompt builds the default instructions for a session rooted at
// dir.
func SystemPrompt(dir string) string {
	var sb strings.Builder
	sb.WriteString("You are a coding agent working in " + dir + ".\n\n")
	sb.WriteString("Work by calling tools; return a plain text answer only when the task is complete.\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Read a file before you modify it.\n")
	sb.WriteString("- Paths may be given relative to the working directory; never touch anything outside it.\n")
	sb.WriteString("- Prefer edit over write for existing files.\n")
	sb.WriteString("- Use the todo tool to track multi-step work.\n")
	sb.WriteString("- If a tool result reports a failure, adjust and retry rather than repeating the same call.\n")
	return sb.String()
}
