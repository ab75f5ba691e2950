// Package output renders session activity and prompts on the terminal.
package output

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/pilotdev/pilot/internal/events"
	"github.com/pilotdev/pilot/internal/interrupt"
)

// UI provides colored output and respects verbose mode.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
	In      io.Reader
}

// New creates a UI with default stdin/stdout/stderr.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
		In:     os.Stdin,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// StateColor returns the string colored by session loop state.
func StateColor(state string) string {
	switch strings.ToLower(state) {
	case "answered":
		return green(state)
	case "reasoning", "dispatching", "observing", "compacting":
		return yellow(state)
	case "cancelled":
		return cyan(state)
	case "failed":
		return red(state)
	default:
		return state
	}
}

// DecisionColor returns the string colored by permission decision.
func DecisionColor(decision string) string {
	switch strings.ToLower(decision) {
	case "auto-approved", "user-approved":
		return green(decision)
	case "user-denied":
		return red(decision)
	case "pending":
		return yellow(decision)
	default:
		return decision
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// AskPermission prompts for a decision on one suspended request and
// returns (approved, remember).
func (u *UI) AskPermission(p interrupt.Point) (bool, bool) {
	u.Warning("%s wants to run: %s", p.Request.Tool, Cyan(p.GrantKey))
	if p.Reason != "" {
		u.VerboseLog("%s", p.Reason)
	}
	fmt.Fprintf(u.Out, "  [y]es once / [a]lways this session / [n]o once / ne[v]er this session: ")

	scanner := bufio.NewScanner(u.In)
	if !scanner.Scan() {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true, false
	case "a", "always":
		return true, true
	case "v", "never":
		return false, true
	default:
		return false, false
	}
}

// Renderer is the events.Sink that narrates a live session on the
// terminal.
type Renderer struct {
	ui *UI
}

// NewRenderer creates a renderer over the UI.
func NewRenderer(ui *UI) *Renderer {
	return &Renderer{ui: ui}
}

func (r *Renderer) Publish(_ context.Context, e events.Event) error {
	switch e.Type {
	case events.CycleStarted:
		r.ui.VerboseLog("cycle %d", e.Cycle)
	case events.AssistantMessage:
		fmt.Fprintln(r.ui.Out, e.Content)
	case events.ToolRequested:
		r.ui.VerboseLog("%s %s", Cyan(e.Tool), e.RequestID)
	case events.PermissionPending:
		r.ui.Warning("awaiting permission: %s", e.GrantKey)
	case events.ToolCompleted:
		if e.IsError {
			r.ui.Error("%s: %s", e.Tool, e.Content)
		} else {
			r.ui.VerboseLog("%s done", e.Tool)
		}
	case events.CompactionDone:
		if e.IsError {
			r.ui.Warning("compaction failed: %s", e.Content)
		} else {
			r.ui.VerboseLog("context compacted (%s)", e.Content)
		}
	case events.SessionFinished:
		if e.IsError {
			r.ui.Error("session ended: %s", e.Content)
		} else {
			r.ui.VerboseLog("session %s", e.Content)
		}
	}
	return nil
}
