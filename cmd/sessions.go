package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pilotdev/pilot/internal/output"
	"github.com/pilotdev/pilot/internal/session"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun(cmd.Context())
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a saved session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsShowRun(cmd.Context(), args[0])
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	records, err := s.ListSessions(ctx, sessionsLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		ui.Info("No saved sessions yet. Run 'pilot run <prompt>' to start one.")
		return nil
	}

	table := ui.Table([]string{"Session", "State", "Turns", "Started", "Directory"})
	for _, rec := range records {
		table.Append([]string{
			output.Cyan(rec.ID),
			output.StateColor(rec.State),
			fmt.Sprintf("%d", rec.TurnCount),
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Root,
		})
	}
	return table.Render()
}

func sessionsShowRun(ctx context.Context, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	rec, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	turns, err := s.ListTurns(ctx, id)
	if err != nil {
		return err
	}

	ui.Info("session %s (%s) in %s", output.Cyan(rec.ID), output.StateColor(rec.State), rec.Root)
	fmt.Fprintln(ui.Out)

	for _, turn := range turns {
		switch session.TurnKind(turn.Kind) {
		case session.TurnUser:
			fmt.Fprintf(ui.Out, "%s %s\n", output.Green("user:"), turn.Content)
		case session.TurnAssistant:
			if turn.Content != "" {
				fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan("assistant:"), turn.Content)
			}
			printRequests(turn.Requests)
		case session.TurnObservation:
			printResult(turn.Result)
		case session.TurnNotice:
			fmt.Fprintf(ui.Out, "%s %s\n", output.Yellow("notice:"), turn.Content)
		}
	}
	return nil
}

func printRequests(encoded string) {
	if encoded == "" {
		return
	}
	var requests []session.ToolRequest
	if err := json.Unmarshal([]byte(encoded), &requests); err != nil {
		return
	}
	for _, req := range requests {
		fmt.Fprintf(ui.Out, "  %s %s %s\n", output.Cyan("->"), req.Tool, req.ID)
	}
}

func printResult(encoded string) {
	if encoded == "" {
		return
	}
	var result session.ToolResult
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		return
	}
	if result.Failure != nil {
		fmt.Fprintf(ui.Out, "  %s %s: %s\n", output.Red("<-"), result.Tool, result.Failure.Error())
		return
	}
	fmt.Fprintf(ui.Out, "  %s %s (%d bytes)\n", output.Green("<-"), result.Tool, len(result.Content))
}
