// Package interrupt suspends individual tool requests awaiting a user
// permission decision and resumes them when the decision arrives.
// Suspension is a registered data structure plus a channel, not a
// control-flow jump: AwaitDecision parks the calling goroutine and
// SubmitDecision feeds it from the supervising side.
package interrupt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pilotdev/pilot/internal/session"
)

// ErrUnknownPoint means a decision was submitted for a request that is not
// suspended. This is an invariant violation, not a user error.
var ErrUnknownPoint = errors.New("no suspended request with that id")

// ErrDuplicatePoint means a request id was suspended twice.
var ErrDuplicatePoint = errors.New("request already suspended")

// Point captures the suspended state needed to resume one tool request:
// the pending request itself, where it sits in the batch execution plan,
// and how much of the conversation was already committed when it was
// raised. A point exists only between the ask being raised and resolved.
type Point struct {
	Request    session.ToolRequest
	GrantKey   string
	Reason     string
	PlanIndex  int // position within the dispatched batch
	TurnsSoFar int // committed conversation prefix length
	RaisedAt   time.Time

	decision chan Outcome
}

// Outcome is the resolution of a suspended request.
type Outcome struct {
	Approved  bool
	Remember  bool
	Cancelled bool // resolved by session cancellation, not a user choice
}

// Controller tracks every currently suspended request. Points are
// independent: resolving one never unblocks another.
type Controller struct {
	mu     sync.Mutex
	points map[string]*Point
	closed bool
}

// NewController creates a controller with no suspended requests.
func NewController() *Controller {
	return &Controller{points: make(map[string]*Point)}
}

// AwaitDecision suspends the calling request until SubmitDecision resolves
// it, the context is cancelled, or the controller is shut down. Only the
// calling goroutine blocks; the rest of the scheduler keeps running.
func (c *Controller) AwaitDecision(ctx context.Context, p *Point) (Outcome, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Outcome{Cancelled: true}, nil
	}
	id := p.Request.ID
	if _, exists := c.points[id]; exists {
		c.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: %s", ErrDuplicatePoint, id)
	}
	if p.RaisedAt.IsZero() {
		p.RaisedAt = time.Now().UTC()
	}
	p.decision = make(chan Outcome, 1)
	c.points[id] = p
	c.mu.Unlock()

	select {
	case out := <-p.decision:
		return out, nil
	case <-ctx.Done():
		c.remove(id)
		return Outcome{Cancelled: true}, nil
	}
}

// SubmitDecision resolves one suspended request. Remember promotes the
// decision into a session grant at the call site.
func (c *Controller) SubmitDecision(id string, approved, remember bool) error {
	c.mu.Lock()
	p, ok := c.points[id]
	if ok {
		delete(c.points, id)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPoint, id)
	}
	p.decision <- Outcome{Approved: approved, Remember: remember}
	return nil
}

// CancelAll resolves every suspended request to denied-by-cancellation and
// refuses new suspensions. Used on session termination so nothing is left
// pending.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	c.closed = true
	points := c.points
	c.points = make(map[string]*Point)
	c.mu.Unlock()

	for _, p := range points {
		p.decision <- Outcome{Cancelled: true}
	}
}

// Outstanding returns the number of currently suspended requests.
func (c *Controller) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

// Suspended returns a snapshot of the suspended points, oldest first.
func (c *Controller) Suspended() []Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Point, 0, len(c.points))
	for _, p := range c.points {
		out = append(out, *p)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].RaisedAt.Before(out[j-1].RaisedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (c *Controller) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.points, id)
}
