// Package permission decides whether a tool invocation may proceed:
// automatically, after asking the user, or not at all.
package permission

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// RiskClass categorizes what a tool can do to the world.
type RiskClass string

const (
	RiskReadOnly RiskClass = "read-only"
	RiskMutating RiskClass = "mutating"
	RiskExecute  RiskClass = "execute"
)

// Decision is the outcome of a permission check.
type Decision string

const (
	// DecisionAuto means policy approved the call without asking.
	DecisionAuto Decision = "auto-approved"
	// DecisionGranted means a prior user approval covers the call.
	DecisionGranted Decision = "user-approved"
	// DecisionDenied means policy or the user refused the call.
	DecisionDenied Decision = "user-denied"
	// DecisionPending means a user decision is required before the call
	// can proceed. Always resolves to approved or denied before the owning
	// request completes.
	DecisionPending Decision = "pending"
)

// Query describes one requested capability use.
type Query struct {
	Tool       string
	Risk       RiskClass
	Target     string // resolved path for file tools, command for exec tools
	PathScoped bool   // Target is a filesystem path subject to containment
}

// Result carries the decision plus the grant key used for session caching
// and a human-readable reason.
type Result struct {
	Decision    Decision
	Key         string
	Reason      string
	Containment bool // structural violation, logged distinctly, never cached
}

// Config is the policy configuration for one session.
type Config struct {
	// Allow and Deny hold rule strings: "read", "write(docs/**)",
	// "bash(git:*)". Deny always wins for the session.
	Allow []string
	Deny  []string
	// AutoApproveReadOnly approves read-only capabilities without rules.
	AutoApproveReadOnly bool
}

// DefaultConfig mirrors the shipped policy: read-only tools and the todo
// tool run without prompting, everything else asks.
func DefaultConfig() Config {
	return Config{
		Allow:               []string{"todo"},
		AutoApproveReadOnly: true,
	}
}

// Manager is the per-session decision policy plus grant cache. Grants are
// owned exclusively by one session and are never persisted.
type Manager struct {
	root  string
	cfg   Config
	allow []rule
	deny  []rule

	mu     sync.RWMutex
	grants map[string]Decision
}

// NewManager builds a manager rooted at the session working directory.
// Malformed rule strings are skipped rather than failing the session.
func NewManager(root string, cfg Config) *Manager {
	return &Manager{
		root:   root,
		cfg:    cfg,
		allow:  parseRules(cfg.Allow),
		deny:   parseRules(cfg.Deny),
		grants: make(map[string]Decision),
	}
}

// Decide evaluates policy precedence for a query: containment, explicit
// deny rules, cached session grants, auto-approval, then pending.
func (m *Manager) Decide(q Query) Result {
	key := GrantKey(m.root, q)

	// Containment is structural, checked before any rule or grant so a
	// grant for a similarly named path inside the root can never cover a
	// path outside it.
	if q.PathScoped {
		if err := m.contain(q.Target); err != nil {
			return Result{
				Decision:    DecisionDenied,
				Key:         key,
				Reason:      err.Error(),
				Containment: true,
			}
		}
	}

	if matchAny(m.deny, m.root, q) {
		return Result{Decision: DecisionDenied, Key: key, Reason: fmt.Sprintf("%s is denied by policy", q.Tool)}
	}

	m.mu.RLock()
	cached, ok := m.grants[key]
	m.mu.RUnlock()
	if ok {
		return Result{Decision: cached, Key: key, Reason: "session grant"}
	}

	if m.cfg.AutoApproveReadOnly && q.Risk == RiskReadOnly {
		return Result{Decision: DecisionAuto, Key: key, Reason: "read-only capability"}
	}
	if matchAny(m.allow, m.root, q) {
		return Result{Decision: DecisionAuto, Key: key, Reason: "allowed by policy"}
	}

	return Result{Decision: DecisionPending, Key: key, Reason: "user decision required"}
}

// Remember caches a user decision under its grant key so the same
// (capability, target) is not asked again this session.
func (m *Manager) Remember(key string, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if approved {
		m.grants[key] = DecisionGranted
	} else {
		m.grants[key] = DecisionDenied
	}
}

// Grants returns a copy of the session grant cache.
func (m *Manager) Grants() map[string]Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Decision, len(m.grants))
	for k, v := range m.grants {
		out[k] = v
	}
	return out
}

// contain verifies that an absolute target path lies within the session
// root.
func (m *Manager) contain(target string) error {
	abs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", target, err)
	}
	rel, err := filepath.Rel(m.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s is outside working directory %s", target, m.root)
	}
	return nil
}

// GrantKey derives the session cache key for a query. File targets use the
// root-relative path; exec targets use the command's leading word.
func GrantKey(root string, q Query) string {
	switch {
	case q.PathScoped && q.Target != "":
		target := q.Target
		if rel, err := filepath.Rel(root, q.Target); err == nil && !strings.HasPrefix(rel, "..") {
			target = rel
		}
		return fmt.Sprintf("%s(%s)", q.Tool, target)
	case q.Risk == RiskExecute && q.Target != "":
		fields := strings.Fields(q.Target)
		if len(fields) > 0 {
			return fmt.Sprintf("%s(%s:*)", q.Tool, fields[0])
		}
	}
	return q.Tool
}
