package output

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilotdev/pilot/internal/events"
	"github.com/pilotdev/pilot/internal/interrupt"
	"github.com/pilotdev/pilot/internal/session"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestColorHelpers(t *testing.T) {
	// Color helpers should return non-empty strings
	assert.NotEmpty(t, Cyan("test"))
	assert.NotEmpty(t, Green("test"))
	assert.NotEmpty(t, Yellow("test"))
	assert.NotEmpty(t, Red("test"))
}

func TestStateColor(t *testing.T) {
	assert.NotEmpty(t, StateColor("answered"))
	assert.NotEmpty(t, StateColor("reasoning"))
	assert.NotEmpty(t, StateColor("cancelled"))
	assert.NotEmpty(t, StateColor("failed"))
	assert.Equal(t, "unknown", StateColor("unknown"))
}

func TestDecisionColor(t *testing.T) {
	assert.NotEmpty(t, DecisionColor("auto-approved"))
	assert.NotEmpty(t, DecisionColor("user-denied"))
	assert.NotEmpty(t, DecisionColor("pending"))
	assert.Equal(t, "other", DecisionColor("other"))
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Session", "State"})
	require.NotNil(t, table)

	table.Append([]string{"01ABC", "answered"})
	table.Append([]string{"01DEF", "failed"})
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.Contains(t, result, "01ABC")
	assert.Contains(t, result, "01DEF")
}

func TestAskPermission(t *testing.T) {
	cases := []struct {
		input    string
		approved bool
		remember bool
	}{
		{"y\n", true, false},
		{"yes\n", true, false},
		{"a\n", true, true},
		{"n\n", false, false},
		{"v\n", false, true},
		{"garbage\n", false, false},
		{"", false, false},
	}

	for _, tc := range cases {
		u, _, _ := newTestUI()
		u.In = strings.NewReader(tc.input)
		point := interrupt.Point{
			Request:  session.ToolRequest{ID: "t1", Tool: "bash"},
			GrantKey: "bash(rm:*)",
		}
		approved, remember := u.AskPermission(point)
		assert.Equal(t, tc.approved, approved, "input %q", tc.input)
		assert.Equal(t, tc.remember, remember, "input %q", tc.input)
	}
}

func TestRenderer_AssistantMessage(t *testing.T) {
	u, out, _ := newTestUI()
	r := NewRenderer(u)

	require.NoError(t, r.Publish(context.Background(), events.Event{
		Type:    events.AssistantMessage,
		Content: "working on it",
	}))
	assert.Contains(t, out.String(), "working on it")
}

func TestRenderer_ToolFailure(t *testing.T) {
	u, _, errOut := newTestUI()
	r := NewRenderer(u)

	require.NoError(t, r.Publish(context.Background(), events.Event{
		Type:    events.ToolCompleted,
		Tool:    "edit",
		Content: "stale: file changed",
		IsError: true,
	}))
	assert.Contains(t, errOut.String(), "stale: file changed")
}

func TestRenderer_QuietUnlessVerbose(t *testing.T) {
	u, out, _ := newTestUI()
	r := NewRenderer(u)

	require.NoError(t, r.Publish(context.Background(), events.Event{
		Type: events.ToolRequested, Tool: "read", RequestID: "t1",
	}))
	assert.Empty(t, out.String(), "tool chatter is verbose-only")
}
