package compact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilotdev/pilot/internal/session"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.summary, s.err
}

func newSession(t *testing.T, turns int) *session.Session {
	t.Helper()
	sess, err := session.New(t.TempDir())
	require.NoError(t, err)
	for i := 0; i < turns; i++ {
		if i%2 == 0 {
			sess.Append(session.UserTurn(fmt.Sprintf("user message %d %s", i, strings.Repeat("words ", 50))))
		} else {
			sess.Append(session.AssistantTurn(fmt.Sprintf("assistant reply %d %s", i, strings.Repeat("words ", 50)), nil))
		}
	}
	return sess
}

func TestCountTokens_Nonzero(t *testing.T) {
	assert.Greater(t, CountTokens("the quick brown fox jumps over the lazy dog"), 0)
	assert.Zero(t, CountTokens(""))
}

func TestShouldCompact_ShortSession(t *testing.T) {
	c := New(nil, Config{ContextBudget: 10, Threshold: 0.5})
	sess := newSession(t, 4)
	assert.False(t, c.ShouldCompact(sess), "too few turns to fold regardless of size")
}

func TestShouldCompact_ThresholdCrossed(t *testing.T) {
	c := New(nil, Config{ContextBudget: 100, Threshold: 0.5})
	sess := newSession(t, 20)
	assert.True(t, c.ShouldCompact(sess))
}

func TestShouldCompact_UnderThreshold(t *testing.T) {
	c := New(nil, Config{ContextBudget: 10000000, Threshold: 0.9})
	sess := newSession(t, 20)
	assert.False(t, c.ShouldCompact(sess))
}

func TestCompact_FoldsAndRetainsSuffix(t *testing.T) {
	summarizer := &stubSummarizer{summary: "goal: refactor parser; progress: done with lexer"}
	c := New(summarizer, Config{ContextBudget: 100, Threshold: 0.5})
	sess := newSession(t, 20)

	require.NoError(t, c.Compact(context.Background(), sess))

	assert.Equal(t, 20-minRetainedTurns, sess.Marker())
	assert.Equal(t, 1, summarizer.calls)

	live := sess.Live()
	require.Len(t, live, minRetainedTurns+1)
	assert.Equal(t, session.TurnNotice, live[0].Kind)
	assert.Contains(t, live[0].Content, "goal: refactor parser")

	// The full transcript is untouched.
	assert.Equal(t, 20, sess.Len())
}

func TestCompact_IdempotentWithoutGrowth(t *testing.T) {
	summarizer := &stubSummarizer{summary: "summary"}
	c := New(summarizer, Config{ContextBudget: 100, Threshold: 0.5})
	sess := newSession(t, 20)

	require.NoError(t, c.Compact(context.Background(), sess))
	marker := sess.Marker()

	require.NoError(t, c.Compact(context.Background(), sess))
	assert.Equal(t, marker, sess.Marker())
	assert.Equal(t, 1, summarizer.calls, "no-op compaction must not call the summarizer")
}

func TestCompact_MarkerAdvancesAcrossRounds(t *testing.T) {
	summarizer := &stubSummarizer{summary: "summary"}
	c := New(summarizer, Config{ContextBudget: 100, Threshold: 0.5})
	sess := newSession(t, 20)

	require.NoError(t, c.Compact(context.Background(), sess))
	first := sess.Marker()

	for i := 0; i < 10; i++ {
		sess.Append(session.UserTurn(fmt.Sprintf("later message %d", i)))
	}
	require.NoError(t, c.Compact(context.Background(), sess))
	assert.Greater(t, sess.Marker(), first)
}

func TestCompact_SummarizerFailureDegradesToDigest(t *testing.T) {
	summarizer := &stubSummarizer{err: errors.New("model unavailable")}
	c := New(summarizer, Config{ContextBudget: 100, Threshold: 0.5})
	sess := newSession(t, 20)

	require.NoError(t, c.Compact(context.Background(), sess))

	live := sess.Live()
	assert.Contains(t, live[0].Content, "Condensed record")
}

func TestCompact_NilSummarizerUsesDigest(t *testing.T) {
	c := New(nil, Config{})
	sess := newSession(t, 20)
	sess.Append(session.AssistantTurn("", []session.ToolRequest{{ID: "t1", Tool: "read"}}))

	require.NoError(t, c.Compact(context.Background(), sess))
	assert.Contains(t, sess.Live()[0].Content, "Condensed record")
}

func TestCompact_PriorSummaryIncludedInTranscript(t *testing.T) {
	var seen string
	summarizer := &captureSummarizer{capture: &seen}
	c := New(summarizer, Config{ContextBudget: 100, Threshold: 0.5})
	sess := newSession(t, 20)

	require.NoError(t, c.Compact(context.Background(), sess))
	for i := 0; i < 10; i++ {
		sess.Append(session.UserTurn(fmt.Sprintf("round two %d", i)))
	}
	require.NoError(t, c.Compact(context.Background(), sess))

	assert.Contains(t, seen, "[prior summary]")
}

type captureSummarizer struct {
	capture *string
}

func (s *captureSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	*s.capture = transcript
	return "round summary", nil
}
