package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilotdev/pilot/internal/compact"
	"github.com/pilotdev/pilot/internal/events"
	"github.com/pilotdev/pilot/internal/freshness"
	"github.com/pilotdev/pilot/internal/interrupt"
	"github.com/pilotdev/pilot/internal/model"
	"github.com/pilotdev/pilot/internal/permission"
	"github.com/pilotdev/pilot/internal/scheduler"
	"github.com/pilotdev/pilot/internal/session"
	"github.com/pilotdev/pilot/internal/tools"
)

// step is one scripted model response.
type step struct {
	resp model.Response
	err  error
}

// scriptedModel replays a fixed response sequence and records every
// conversation snapshot it was shown.
type scriptedModel struct {
	mu    sync.Mutex
	steps []step
	seen  [][]session.Turn
}

func (m *scriptedModel) Complete(_ context.Context, req model.Request) (model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, req.Turns)
	if len(m.steps) == 0 {
		return model.Response{Text: "done"}, nil
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	return s.resp, s.err
}

func (m *scriptedModel) snapshots() [][]session.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen
}

type harness struct {
	root       string
	sess       *session.Session
	loop       *Loop
	interrupts *interrupt.Controller
	sink       *events.MemorySink
}

func newHarness(t *testing.T, client model.Client, compactor *compact.Compactor) *harness {
	t.Helper()
	root := t.TempDir()

	sess, err := session.New(root)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(registry, root))

	interrupts := interrupt.NewController()
	sink := events.NewMemorySink()

	cfg := permission.DefaultConfig()
	cfg.Allow = append(cfg.Allow, "write", "edit")

	sched, err := scheduler.New(scheduler.Config{
		Registry:    registry,
		Permissions: permission.NewManager(root, cfg),
		Freshness:   freshness.NewTracker(),
		Interrupts:  interrupts,
		Events:      sink,
	})
	require.NoError(t, err)

	loop, err := New(Config{
		Model:      client,
		Scheduler:  sched,
		Compactor:  compactor,
		Interrupts: interrupts,
		Tools:      registry,
		Events:     sink,
		MaxCycles:  10,
	})
	require.NoError(t, err)

	return &harness{root: root, sess: sess, loop: loop, interrupts: interrupts, sink: sink}
}

func TestRun_ImmediateAnswer(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: model.Response{Text: "the answer is 42"}},
	}}
	h := newHarness(t, client, nil)

	answer, err := h.loop.Run(context.Background(), h.sess, "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "the answer is 42", answer)
	assert.Equal(t, session.StateAnswered, h.sess.State())

	finished := h.sink.ByType(events.SessionFinished)
	require.Len(t, finished, 1)
	assert.False(t, finished[0].IsError)
}

func TestRun_ToolCycleThenAnswer(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: model.Response{
			Text: "writing the file",
			Requests: []session.ToolRequest{
				{ID: "t1", Tool: "write", Args: map[string]any{"file_path": "hello.txt", "content": "hello\n"}},
			},
		}},
		{resp: model.Response{Text: "file written"}},
	}}
	h := newHarness(t, client, nil)

	answer, err := h.loop.Run(context.Background(), h.sess, "create hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "file written", answer)
	assert.FileExists(t, h.root+"/hello.txt")

	// Second model call sees the observation for t1.
	snapshots := client.snapshots()
	require.Len(t, snapshots, 2)
	var observed bool
	for _, turn := range snapshots[1] {
		if turn.Kind == session.TurnObservation && turn.Result.RequestID == "t1" {
			observed = true
			require.True(t, turn.Result.OK())
		}
	}
	assert.True(t, observed, "observation turn missing from second snapshot")
}

func TestRun_FailedToolSurfacesAsObservation(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: model.Response{Requests: []session.ToolRequest{
			{ID: "t1", Tool: "read", Args: map[string]any{"file_path": "missing.txt"}},
		}}},
		{resp: model.Response{Text: "the file does not exist"}},
	}}
	h := newHarness(t, client, nil)

	answer, err := h.loop.Run(context.Background(), h.sess, "read missing.txt")
	require.NoError(t, err)
	assert.Equal(t, "the file does not exist", answer)

	snapshots := client.snapshots()
	var failure *session.Failure
	for _, turn := range snapshots[1] {
		if turn.Kind == session.TurnObservation {
			failure = turn.Result.Failure
		}
	}
	require.NotNil(t, failure, "failed read must reach the model as a failure observation")
	assert.Equal(t, session.FailureExecution, failure.Kind)
}

func TestRun_QueuedInputDrainedBeforeModelCall(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: model.Response{Text: "acknowledged"}},
	}}
	h := newHarness(t, client, nil)

	h.sess.QueueInput("also update the changelog")

	_, err := h.loop.Run(context.Background(), h.sess, "fix the bug")
	require.NoError(t, err)

	snapshots := client.snapshots()
	require.Len(t, snapshots, 1)
	var contents []string
	for _, turn := range snapshots[0] {
		if turn.Kind == session.TurnUser {
			contents = append(contents, turn.Content)
		}
	}
	assert.Equal(t, []string{"fix the bug", "also update the changelog"}, contents)
}

func TestRun_ModelFailureTerminatesSession(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{err: errors.New("api unreachable")},
	}}
	h := newHarness(t, client, nil)

	_, err := h.loop.Run(context.Background(), h.sess, "do something")
	require.Error(t, err)
	assert.Equal(t, session.StateFailed, h.sess.State())

	finished := h.sink.ByType(events.SessionFinished)
	require.Len(t, finished, 1)
	assert.True(t, finished[0].IsError)
}

func TestRun_MalformedResponseTerminatesSession(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{err: fmt.Errorf("parse: %w", model.ErrMalformed)},
	}}
	h := newHarness(t, client, nil)

	_, err := h.loop.Run(context.Background(), h.sess, "do something")
	require.ErrorIs(t, err, model.ErrMalformed)
	assert.Equal(t, session.StateFailed, h.sess.State())
}

func TestRun_CycleBudgetExhausted(t *testing.T) {
	// Every cycle requests another tool call, never answering.
	var steps []step
	for i := 0; i < 20; i++ {
		steps = append(steps, step{resp: model.Response{Requests: []session.ToolRequest{
			{ID: fmt.Sprintf("t%d", i), Tool: "ls", Args: map[string]any{"path": "."}},
		}}})
	}
	client := &scriptedModel{steps: steps}
	h := newHarness(t, client, nil)

	_, err := h.loop.Run(context.Background(), h.sess, "loop forever")
	require.ErrorIs(t, err, ErrCycleBudget)
	assert.Equal(t, session.StateFailed, h.sess.State())
}

func TestRun_CancellationResolvesSuspendedRequests(t *testing.T) {
	// The bash tool has no policy rule, so the request suspends awaiting a
	// decision that never comes.
	client := &scriptedModel{steps: []step{
		{resp: model.Response{Requests: []session.ToolRequest{
			{ID: "t1", Tool: "bash", Args: map[string]any{"command": "echo hi"}},
		}}},
	}}
	h := newHarness(t, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.loop.Run(ctx, h.sess, "run a command")
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return h.interrupts.Outstanding() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	assert.Equal(t, session.StateCancelled, h.sess.State())
	assert.Zero(t, h.interrupts.Outstanding())
}

func TestRun_CompactsBetweenCycles(t *testing.T) {
	long := strings.Repeat("filler words to inflate the transcript ", 40)
	var steps []step
	for i := 0; i < 5; i++ {
		steps = append(steps, step{resp: model.Response{
			Text: fmt.Sprintf("step %d: %s", i, long),
			Requests: []session.ToolRequest{
				{ID: fmt.Sprintf("t%d", i), Tool: "write", Args: map[string]any{
					"file_path": fmt.Sprintf("f%d.txt", i),
					"content":   long,
				}},
			},
		}})
	}
	steps = append(steps, step{resp: model.Response{Text: "all done"}})
	client := &scriptedModel{steps: steps}

	compactor := compact.New(nil, compact.Config{ContextBudget: 200, Threshold: 0.5})
	h := newHarness(t, client, compactor)

	answer, err := h.loop.Run(context.Background(), h.sess, "do a lot of work")
	require.NoError(t, err)
	assert.Equal(t, "all done", answer)

	assert.Greater(t, h.sess.Marker(), 0, "compaction should have advanced the marker")
	assert.NotEmpty(t, h.sink.ByType(events.CompactionDone))

	// Full transcript retained despite compaction.
	assert.Equal(t, session.StateAnswered, h.sess.State())
	assert.GreaterOrEqual(t, h.sess.Len(), 11)
}

func TestRun_TerminalSessionRejected(t *testing.T) {
	client := &scriptedModel{steps: []step{{resp: model.Response{Text: "ok"}}}}
	h := newHarness(t, client, nil)

	_, err := h.loop.Run(context.Background(), h.sess, "first")
	require.NoError(t, err)

	_, err = h.loop.Run(context.Background(), h.sess, "second")
	require.Error(t, err)
}
