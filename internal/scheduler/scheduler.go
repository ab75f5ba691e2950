// Package scheduler resolves one cycle's tool requests into a
// dependency-respecting execution plan and runs it with bounded
// parallelism under permission, containment, and freshness policy.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pilotdev/pilot/internal/events"
	"github.com/pilotdev/pilot/internal/freshness"
	"github.com/pilotdev/pilot/internal/interrupt"
	"github.com/pilotdev/pilot/internal/permission"
	"github.com/pilotdev/pilot/internal/session"
	"github.com/pilotdev/pilot/internal/tools"
)

const (
	// DefaultWorkers bounds concurrent tool executions per batch.
	DefaultWorkers = 4
	// DefaultToolAttempts bounds execution retries for transient tool
	// failures.
	DefaultToolAttempts = 2
)

// Config wires the scheduler's collaborators.
type Config struct {
	Registry     *tools.Registry
	Permissions  *permission.Manager
	Freshness    *freshness.Tracker
	Interrupts   *interrupt.Controller
	Events       events.Sink
	Workers      int
	ToolAttempts int
}

// Scheduler executes tool request batches for one session.
type Scheduler struct {
	registry     *tools.Registry
	perms        *permission.Manager
	fresh        *freshness.Tracker
	interrupts   *interrupt.Controller
	events       events.Sink
	workers      int
	toolAttempts int
}

// New creates a scheduler. Registry, permissions, freshness, and
// interrupts are required; the event sink defaults to a no-op.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("new scheduler: registry is required")
	}
	if cfg.Permissions == nil {
		return nil, fmt.Errorf("new scheduler: permission manager is required")
	}
	if cfg.Freshness == nil {
		return nil, fmt.Errorf("new scheduler: freshness tracker is required")
	}
	if cfg.Interrupts == nil {
		return nil, fmt.Errorf("new scheduler: interruption controller is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.NopSink{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ToolAttempts <= 0 {
		cfg.ToolAttempts = DefaultToolAttempts
	}
	return &Scheduler{
		registry:     cfg.Registry,
		perms:        cfg.Permissions,
		fresh:        cfg.Freshness,
		interrupts:   cfg.Interrupts,
		events:       cfg.Events,
		workers:      cfg.Workers,
		toolAttempts: cfg.ToolAttempts,
	}, nil
}

// plannedRequest is one batch entry with its conflict classification.
type plannedRequest struct {
	index    int
	request  session.ToolRequest
	tool     tools.Tool
	target   string // resolved path for file tools
	key      string // conflict key, "" means no conflicts possible
	mutating bool
	// deps are earlier batch indices that must fully resolve (including
	// freshness updates) before this request may start.
	deps []int
	// planErr short-circuits execution with a failure result.
	planErr *session.Failure
}

// Dispatch runs a batch and returns results in input request order
// regardless of completion order. The batch only returns once every
// request is resolved, including any interruption round-trips.
func (s *Scheduler) Dispatch(ctx context.Context, sess *session.Session, cycle int, requests []session.ToolRequest) []session.ToolResult {
	if len(requests) == 0 {
		return nil
	}

	plan := s.buildPlan(requests)
	results := make([]session.ToolResult, len(requests))
	done := make([]chan struct{}, len(requests))
	for i := range done {
		done[i] = make(chan struct{})
	}
	slots := make(chan struct{}, s.workers)

	var wg sync.WaitGroup
	for i := range plan {
		wg.Add(1)
		go func(p *plannedRequest) {
			defer wg.Done()
			defer close(done[p.index])
			results[p.index] = s.run(ctx, sess, cycle, p, done, slots)
		}(&plan[i])
	}
	wg.Wait()

	return results
}

// buildPlan classifies each request and wires same-key serialization:
// request i depends on the nearest earlier request with the same conflict
// key when at least one of the two mutates.
func (s *Scheduler) buildPlan(requests []session.ToolRequest) []plannedRequest {
	plan := make([]plannedRequest, len(requests))
	for i, req := range requests {
		p := plannedRequest{index: i, request: req}

		tool, ok := s.registry.Get(req.Tool)
		if !ok {
			p.planErr = &session.Failure{
				Kind:    session.FailureExecution,
				Message: fmt.Sprintf("tool %q is not registered", req.Tool),
			}
			plan[i] = p
			continue
		}
		p.tool = tool
		p.mutating = tool.Risk() != permission.RiskReadOnly

		switch tt := tool.(type) {
		case tools.FileTool:
			target, err := tt.TargetPath(req.Args)
			if err != nil {
				p.planErr = &session.Failure{
					Kind:    session.FailureExecution,
					Message: err.Error(),
				}
				plan[i] = p
				continue
			}
			p.target = target
			p.key = "path:" + target
		case tools.SharedStateTool:
			p.key = "state:" + tt.StateKey()
			p.mutating = true
		}

		if p.key != "" {
			for j := i - 1; j >= 0; j-- {
				if plan[j].key == p.key && (p.mutating || plan[j].mutating) {
					p.deps = append(p.deps, j)
					break
				}
			}
		}
		plan[i] = p
	}
	return plan
}

// run executes one planned request to a result. The worker slot is
// released while the request is suspended awaiting a user decision so
// independent requests keep flowing.
func (s *Scheduler) run(ctx context.Context, sess *session.Session, cycle int, p *plannedRequest, done []chan struct{}, slots chan struct{}) session.ToolResult {
	req := p.request
	s.publish(ctx, events.Event{
		Type:      events.ToolRequested,
		SessionID: sess.ID,
		Cycle:     cycle,
		Tool:      req.Tool,
		RequestID: req.ID,
	})

	if ctx.Err() != nil {
		return s.completed(ctx, sess, cycle, session.FailedResult(req, session.FailureCancelled, "session cancelled"))
	}

	if p.planErr != nil {
		return s.completed(ctx, sess, cycle, session.ToolResult{
			RequestID: req.ID,
			Tool:      req.Tool,
			Failure:   p.planErr,
		})
	}

	// Serialize behind conflicting earlier requests.
	for _, dep := range p.deps {
		select {
		case <-done[dep]:
		case <-ctx.Done():
			return s.completed(ctx, sess, cycle, session.FailedResult(req, session.FailureCancelled, "session cancelled"))
		}
	}

	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return s.completed(ctx, sess, cycle, session.FailedResult(req, session.FailureCancelled, "session cancelled"))
	}
	defer func() { <-slots }()

	decision := s.perms.Decide(s.query(p))

	switch decision.Decision {
	case permission.DecisionDenied:
		kind := session.FailureDenied
		if decision.Containment {
			kind = session.FailureContainment
		}
		return s.completed(ctx, sess, cycle, session.FailedResult(req, kind, decision.Reason))
	case permission.DecisionPending:
		outcome, err := s.suspend(ctx, sess, cycle, p, decision, slots)
		if err != nil {
			return s.completed(ctx, sess, cycle, session.FailedResult(req, session.FailureExecution, err.Error()))
		}
		if outcome.Cancelled {
			return s.completed(ctx, sess, cycle, session.FailedResult(req, session.FailureCancelled, "cancelled while awaiting permission"))
		}
		if outcome.Remember {
			s.perms.Remember(decision.Key, outcome.Approved)
		}
		if !outcome.Approved {
			return s.completed(ctx, sess, cycle, session.DeniedResult(req, "denied by user"))
		}
	}

	// Mutating file requests must not overwrite blind.
	if p.mutating && p.target != "" {
		status, err := s.fresh.Check(p.target)
		if err != nil {
			return s.completed(ctx, sess, cycle, session.FailedResult(req, session.FailureExecution, err.Error()))
		}
		if status == freshness.Stale {
			return s.completed(ctx, sess, cycle, session.FailedResult(req, session.FailureStale,
				fmt.Sprintf("%s changed outside this session since it was last read; read it again before modifying", p.target)))
		}
	}

	result := s.execute(ctx, p)

	// The freshness update lands before the result (and this request's
	// done channel) is visible, so no later same-path request can run
	// against a pre-update record.
	if result.OK() && p.target != "" {
		if p.mutating {
			if err := s.fresh.ObserveWrite(p.target); err != nil {
				result = session.FailedResult(req, session.FailureExecution, fmt.Sprintf("record write observation: %v", err))
			}
		} else if _, isFile := p.tool.(tools.FileTool); isFile {
			_ = s.fresh.ObserveRead(p.target)
		}
	}

	return s.completed(ctx, sess, cycle, result)
}

// suspend parks the request in the interruption controller, giving up its
// worker slot for the duration.
func (s *Scheduler) suspend(ctx context.Context, sess *session.Session, cycle int, p *plannedRequest, decision permission.Result, slots chan struct{}) (interrupt.Outcome, error) {
	s.publish(ctx, events.Event{
		Type:      events.PermissionPending,
		SessionID: sess.ID,
		Cycle:     cycle,
		Tool:      p.request.Tool,
		RequestID: p.request.ID,
		GrantKey:  decision.Key,
		Content:   decision.Reason,
	})

	point := &interrupt.Point{
		Request:    p.request,
		GrantKey:   decision.Key,
		Reason:     decision.Reason,
		PlanIndex:  p.index,
		TurnsSoFar: sess.Len(),
	}

	<-slots
	outcome, err := s.interrupts.AwaitDecision(ctx, point)
	slots <- struct{}{}
	if err == nil && ctx.Err() != nil {
		outcome.Cancelled = true
	}
	return outcome, err
}

// execute invokes the tool with bounded retries for transient failures.
func (s *Scheduler) execute(ctx context.Context, p *plannedRequest) session.ToolResult {
	req := p.request
	start := time.Now()

	var content string
	var err error
	attempts := s.toolAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		content, err = p.tool.Invoke(ctx, req.Args)
		if err == nil || ctx.Err() != nil {
			break
		}
		if attempt < attempts && p.tool.Risk() == permission.RiskReadOnly {
			continue
		}
		break
	}
	duration := time.Since(start)

	if ctx.Err() != nil && err != nil {
		result := session.FailedResult(req, session.FailureCancelled, "cancelled during execution")
		result.Duration = duration
		return result
	}
	if err != nil {
		result := session.FailedResult(req, session.FailureExecution, err.Error())
		result.Duration = duration
		return result
	}
	return session.ToolResult{
		RequestID: req.ID,
		Tool:      req.Tool,
		Content:   content,
		Duration:  duration,
	}
}

func (s *Scheduler) query(p *plannedRequest) permission.Query {
	q := permission.Query{
		Tool: p.request.Tool,
		Risk: p.tool.Risk(),
	}
	switch {
	case p.target != "":
		q.Target = p.target
		q.PathScoped = true
	case p.tool.Risk() == permission.RiskExecute:
		if cmd, ok := p.request.Args["command"].(string); ok {
			q.Target = cmd
		}
	}
	return q
}

func (s *Scheduler) completed(ctx context.Context, sess *session.Session, cycle int, result session.ToolResult) session.ToolResult {
	e := events.Event{
		Type:      events.ToolCompleted,
		SessionID: sess.ID,
		Cycle:     cycle,
		Tool:      result.Tool,
		RequestID: result.RequestID,
	}
	if result.Failure != nil {
		e.IsError = true
		e.Content = result.Failure.Error()
	}
	s.publish(ctx, e)
	return result
}

func (s *Scheduler) publish(ctx context.Context, e events.Event) {
	_ = s.events.Publish(ctx, e)
}
