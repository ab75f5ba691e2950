package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pilotdev/pilot/internal/compact"
	"github.com/pilotdev/pilot/internal/engine"
	"github.com/pilotdev/pilot/internal/events"
	"github.com/pilotdev/pilot/internal/freshness"
	"github.com/pilotdev/pilot/internal/interrupt"
	"github.com/pilotdev/pilot/internal/mcp"
	"github.com/pilotdev/pilot/internal/model"
	"github.com/pilotdev/pilot/internal/output"
	"github.com/pilotdev/pilot/internal/permission"
	"github.com/pilotdev/pilot/internal/scheduler"
	"github.com/pilotdev/pilot/internal/session"
	"github.com/pilotdev/pilot/internal/store"
	"github.com/pilotdev/pilot/internal/tools"
)

var (
	runDir   string
	runAllow []string
	runDeny  []string
	runYes   bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run the agent against the working directory",
	Long: `Run one agent session: the prompt goes to the model, tool requests are
executed under the permission policy, and the final answer is printed.

Risky tool calls suspend until you approve them. Ctrl-C cancels the
session; suspended requests resolve as denied and the transcript is
saved.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	runCmd.Flags().StringVarP(&runDir, "dir", "d", "", "Working directory (default: current directory)")
	runCmd.Flags().StringSliceVar(&runAllow, "allow", nil, `Extra allow rules, e.g. "write(docs/**)" or "bash(git:*)"`)
	runCmd.Flags().StringSliceVar(&runDeny, "deny", nil, "Extra deny rules (deny always wins)")
	runCmd.Flags().BoolVar(&runYes, "yes", false, "Approve every permission ask without prompting")
	rootCmd.AddCommand(runCmd)
}

func runRun(parent context.Context, prompt string) error {
	dir := runDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		dir = cwd
	}

	sess, err := session.New(dir)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, sess.Root); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// External MCP servers are best-effort: a broken config is a warning,
	// not a failed session.
	mcpManager := mcp.NewManager()
	defer mcpManager.Close()
	if configs, err := mcp.LoadConfigs(sess.Root); err != nil {
		ui.Warning("mcp config: %v", err)
	} else {
		for _, cfg := range configs {
			if err := mcpManager.Connect(ctx, cfg); err != nil {
				ui.Warning("%v", err)
			}
		}
	}
	if err := mcpManager.Register(registry); err != nil {
		return err
	}

	permCfg := permission.Config{
		Allow:               append(viper.GetStringSlice("permissions.allow"), runAllow...),
		Deny:                append(viper.GetStringSlice("permissions.deny"), runDeny...),
		AutoApproveReadOnly: viper.GetBool("permissions.auto_approve_read_only"),
	}
	perms := permission.NewManager(sess.Root, permCfg)
	interrupts := interrupt.NewController()

	s, err := getStore()
	if err != nil {
		ui.Warning("session will not be persisted: %v", err)
		s = nil
	}

	sink := events.MultiSink{
		output.NewRenderer(ui),
		newDecider(ui, interrupts, s, sess.ID, runYes),
	}

	sched, err := scheduler.New(scheduler.Config{
		Registry:    registry,
		Permissions: perms,
		Freshness:   freshness.NewTracker(),
		Interrupts:  interrupts,
		Events:      sink,
		Workers:     viper.GetInt("engine.workers"),
	})
	if err != nil {
		return err
	}

	anthro := model.NewAnthropic(viper.GetString("anthropic.api_key"), viper.GetString("anthropic.model"))
	client := model.WithRetry(anthro, model.RetryConfig{
		MaxAttempts: viper.GetInt("anthropic.retry_attempts"),
	})
	compactor := compact.New(anthro, compact.Config{
		ContextBudget: viper.GetInt("compaction.context_budget"),
		Threshold:     viper.GetFloat64("compaction.threshold"),
	})

	loop, err := engine.New(engine.Config{
		Model:      client,
		Scheduler:  sched,
		Compactor:  compactor,
		Interrupts: interrupts,
		Tools:      registry,
		Events:     sink,
		MaxTokens:  viper.GetInt("anthropic.max_tokens"),
		MaxCycles:  viper.GetInt("engine.max_cycles"),
	})
	if err != nil {
		return err
	}

	ui.Info("session %s in %s", output.Cyan(sess.ID), sess.Root)
	answer, runErr := loop.Run(ctx, sess, prompt)

	saveSession(s, sess)

	switch {
	case runErr == nil:
		if answer != "" {
			fmt.Fprintln(ui.Out)
			fmt.Fprintln(ui.Out, answer)
		}
		return nil
	case errors.Is(runErr, context.Canceled):
		ui.Warning("session cancelled")
		return nil
	default:
		return runErr
	}
}

// saveSession persists the transcript; persistence failures are warnings.
func saveSession(s store.Store, sess *session.Session) {
	if s == nil {
		return
	}
	rec, turns, err := store.SnapshotSession(sess)
	if err != nil {
		ui.Warning("snapshot session: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.SaveSession(ctx, rec, turns); err != nil {
		ui.Warning("save session: %v", err)
	}
}

// decider resolves suspended permission asks: interactively through the
// UI, or automatically with --yes. One ask at a time.
type decider struct {
	ui         *output.UI
	interrupts *interrupt.Controller
	store      store.Store
	sessionID  string
	autoYes    bool
	mu         sync.Mutex
}

func newDecider(ui *output.UI, interrupts *interrupt.Controller, s store.Store, sessionID string, autoYes bool) *decider {
	return &decider{
		ui:         ui,
		interrupts: interrupts,
		store:      s,
		sessionID:  sessionID,
		autoYes:    autoYes,
	}
}

// Publish reacts to permission_pending events. The suspension registers
// just after the event fires on the same goroutine, so resolution runs
// on its own goroutine.
func (d *decider) Publish(_ context.Context, e events.Event) error {
	if e.Type != events.PermissionPending {
		return nil
	}
	go d.resolve(e)
	return nil
}

func (d *decider) resolve(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	point, ok := d.waitForPoint(e.RequestID)
	if !ok {
		return
	}

	approved, remember := true, false
	if !d.autoYes {
		approved, remember = d.ui.AskPermission(point)
	}

	if err := d.interrupts.SubmitDecision(e.RequestID, approved, remember); err != nil {
		// Already resolved by cancellation.
		return
	}
	d.audit(e, approved)
}

// waitForPoint polls until the suspension is registered. The gap between
// the event and registration is a few statements of scheduler code.
func (d *decider) waitForPoint(id string) (interrupt.Point, bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range d.interrupts.Suspended() {
			if p.Request.ID == id {
				return p, true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return interrupt.Point{}, false
}

func (d *decider) audit(e events.Event, approved bool) {
	if d.store == nil {
		return
	}
	decision := string(permission.DecisionGranted)
	if !approved {
		decision = string(permission.DecisionDenied)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.store.RecordPermission(ctx, &store.PermissionEntry{
		SessionID: d.sessionID,
		Tool:      e.Tool,
		GrantKey:  e.GrantKey,
		Decision:  decision,
	})
}
