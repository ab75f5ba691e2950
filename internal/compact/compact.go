// Package compact watches transcript growth against the model context
// budget and folds the oldest turns into a synthesized summary turn when
// the threshold is crossed.
package compact

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/pilotdev/pilot/internal/session"
)

const (
	// DefaultContextBudget approximates the model context window in tokens.
	DefaultContextBudget = 200000
	// DefaultThreshold is the fraction of the budget that triggers
	// compaction.
	DefaultThreshold = 0.8
	// minRetainedTurns keeps a recent suffix of the conversation verbatim
	// so the model retains exact wording of the latest exchanges.
	minRetainedTurns = 6
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// CountTokens estimates the token length of text. Falls back to a
// bytes/4 heuristic when the encoding is unavailable (first use fetches
// the BPE ranks).
func CountTokens(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return len(text) / 4
	}
	return len(encoder.Encode(text, nil, nil))
}

// Summarizer condenses a transcript rendering into a summary. The model
// client satisfies this.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Config tunes the compaction trigger.
type Config struct {
	ContextBudget int
	Threshold     float64
}

// Compactor owns the compaction policy for one session.
type Compactor struct {
	summarizer Summarizer
	budget     int
	threshold  float64
}

// New creates a compactor. A nil summarizer is allowed; compaction then
// always uses the deterministic digest.
func New(summarizer Summarizer, cfg Config) *Compactor {
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = DefaultContextBudget
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = DefaultThreshold
	}
	return &Compactor{
		summarizer: summarizer,
		budget:     cfg.ContextBudget,
		threshold:  cfg.Threshold,
	}
}

// LiveTokens estimates the token footprint of the prompt-visible turns.
func (c *Compactor) LiveTokens(sess *session.Session) int {
	total := 0
	for _, turn := range sess.Live() {
		total += CountTokens(renderTurn(turn))
	}
	return total
}

// ShouldCompact reports whether the live transcript has crossed the
// threshold and enough turns exist to fold. Callers must additionally
// hold off while any tool request is suspended, since compaction would
// move the conversation out from under the pending decision.
func (c *Compactor) ShouldCompact(sess *session.Session) bool {
	if sess.Len()-sess.Marker() <= minRetainedTurns {
		return false
	}
	return c.LiveTokens(sess) >= int(float64(c.budget)*c.threshold)
}

// Compact folds every turn below the retained suffix into a summary turn
// and advances the session marker. Running it twice without new growth is
// a no-op because the boundary would not advance. A summarizer failure
// degrades to a deterministic digest of the folded turns rather than
// failing the session.
func (c *Compactor) Compact(ctx context.Context, sess *session.Session) error {
	boundary := sess.Len() - minRetainedTurns
	if boundary <= sess.Marker() {
		return nil
	}

	folded := sess.Turns()[:boundary]
	transcript := renderTranscript(sess.Summary(), folded)

	summary, err := c.summarize(ctx, transcript)
	if err != nil {
		summary = digest(folded)
	}

	turn := session.NoticeTurn("Earlier conversation summarized to free context:\n\n" + summary)
	if err := sess.Compact(boundary, turn); err != nil {
		return fmt.Errorf("install summary: %w", err)
	}
	return nil
}

func (c *Compactor) summarize(ctx context.Context, transcript string) (string, error) {
	if c.summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	return c.summarizer.Summarize(ctx, transcript)
}

// renderTranscript flattens prior summary plus turns into the text given
// to the summarizer.
func renderTranscript(prior *session.Turn, turns []session.Turn) string {
	var sb strings.Builder
	if prior != nil {
		sb.WriteString("[prior summary]\n")
		sb.WriteString(prior.Content)
		sb.WriteString("\n\n")
	}
	for _, turn := range turns {
		sb.WriteString(renderTurn(turn))
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderTurn(turn session.Turn) string {
	var sb strings.Builder
	sb.WriteString(string(turn.Kind))
	sb.WriteString(": ")
	sb.WriteString(turn.Content)
	for _, req := range turn.Requests {
		sb.WriteString(fmt.Sprintf("\n  -> %s %v", req.Tool, req.Args))
	}
	if turn.Result != nil {
		if turn.Result.Failure != nil {
			sb.WriteString(fmt.Sprintf("\n  <- %s failed: %s", turn.Result.Tool, turn.Result.Failure.Error()))
		} else {
			sb.WriteString(fmt.Sprintf("\n  <- %s: %s", turn.Result.Tool, turn.Result.Content))
		}
	}
	return sb.String()
}

// digest is the summarizer-free fallback: a structural outline of the
// folded turns so resumed context is degraded, not empty.
func digest(turns []session.Turn) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Condensed record of %d earlier turns:\n", len(turns)))
	for _, turn := range turns {
		switch turn.Kind {
		case session.TurnUser:
			sb.WriteString("- user: " + firstLine(turn.Content) + "\n")
		case session.TurnAssistant:
			if len(turn.Requests) > 0 {
				names := make([]string, 0, len(turn.Requests))
				for _, req := range turn.Requests {
					names = append(names, req.Tool)
				}
				sb.WriteString("- assistant called: " + strings.Join(names, ", ") + "\n")
			} else if turn.Content != "" {
				sb.WriteString("- assistant: " + firstLine(turn.Content) + "\n")
			}
		case session.TurnObservation:
			if turn.Result != nil && turn.Result.Failure != nil {
				sb.WriteString(fmt.Sprintf("- %s failed (%s)\n", turn.Result.Tool, turn.Result.Failure.Kind))
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 120
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
