package permission

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const root = "/work/project"

func TestDecide_ReadOnlyAutoApproved(t *testing.T) {
	m := NewManager(root, DefaultConfig())

	res := m.Decide(Query{
		Tool:       "read",
		Risk:       RiskReadOnly,
		Target:     filepath.Join(root, "main.go"),
		PathScoped: true,
	})
	assert.Equal(t, DecisionAuto, res.Decision)
}

func TestDecide_MutatingIsPending(t *testing.T) {
	m := NewManager(root, DefaultConfig())

	res := m.Decide(Query{
		Tool:       "write",
		Risk:       RiskMutating,
		Target:     filepath.Join(root, "main.go"),
		PathScoped: true,
	})
	assert.Equal(t, DecisionPending, res.Decision)
}

func TestDecide_DenyRuleWinsOverAllowRule(t *testing.T) {
	m := NewManager(root, Config{
		Allow:               []string{"bash"},
		Deny:                []string{"bash(rm:*)"},
		AutoApproveReadOnly: true,
	})

	denied := m.Decide(Query{Tool: "bash", Risk: RiskExecute, Target: "rm -rf /tmp/x"})
	assert.Equal(t, DecisionDenied, denied.Decision)

	allowed := m.Decide(Query{Tool: "bash", Risk: RiskExecute, Target: "git status"})
	assert.Equal(t, DecisionAuto, allowed.Decision)
}

func TestDecide_DenyRuleNotOverridableByGrant(t *testing.T) {
	m := NewManager(root, Config{Deny: []string{"bash(rm:*)"}})

	q := Query{Tool: "bash", Risk: RiskExecute, Target: "rm -rf ."}
	res := m.Decide(q)
	assert.Equal(t, DecisionDenied, res.Decision)

	// Even a remembered approval for the same key cannot override deny.
	m.Remember(res.Key, true)
	assert.Equal(t, DecisionDenied, m.Decide(q).Decision)
}

func TestDecide_SessionGrantReused(t *testing.T) {
	m := NewManager(root, DefaultConfig())
	q := Query{
		Tool:       "write",
		Risk:       RiskMutating,
		Target:     filepath.Join(root, "notes.md"),
		PathScoped: true,
	}

	first := m.Decide(q)
	assert.Equal(t, DecisionPending, first.Decision)

	m.Remember(first.Key, true)
	second := m.Decide(q)
	assert.Equal(t, DecisionGranted, second.Decision)
}

func TestDecide_RememberedDenialNotReasked(t *testing.T) {
	m := NewManager(root, DefaultConfig())
	q := Query{
		Tool:       "write",
		Risk:       RiskMutating,
		Target:     filepath.Join(root, "secrets.env"),
		PathScoped: true,
	}

	first := m.Decide(q)
	m.Remember(first.Key, false)

	second := m.Decide(q)
	assert.Equal(t, DecisionDenied, second.Decision)
}

func TestDecide_ContainmentViolation(t *testing.T) {
	m := NewManager(root, DefaultConfig())

	res := m.Decide(Query{
		Tool:       "read",
		Risk:       RiskReadOnly,
		Target:     "/etc/passwd",
		PathScoped: true,
	})
	assert.Equal(t, DecisionDenied, res.Decision)
	assert.True(t, res.Containment)

	// The violation must not land in the grant cache.
	assert.Empty(t, m.Grants())
}

func TestDecide_ContainmentIndependentOfSimilarGrant(t *testing.T) {
	m := NewManager(root, DefaultConfig())

	inside := Query{
		Tool:       "write",
		Risk:       RiskMutating,
		Target:     filepath.Join(root, "etc", "passwd"),
		PathScoped: true,
	}
	res := m.Decide(inside)
	m.Remember(res.Key, true)
	assert.Equal(t, DecisionGranted, m.Decide(inside).Decision)

	outside := Query{
		Tool:       "write",
		Risk:       RiskMutating,
		Target:     "/etc/passwd",
		PathScoped: true,
	}
	out := m.Decide(outside)
	assert.Equal(t, DecisionDenied, out.Decision)
	assert.True(t, out.Containment)
}

func TestDecide_PathTraversalDenied(t *testing.T) {
	m := NewManager(root, DefaultConfig())

	res := m.Decide(Query{
		Tool:       "write",
		Risk:       RiskMutating,
		Target:     filepath.Join(root, "..", "other", "file.go"),
		PathScoped: true,
	})
	assert.Equal(t, DecisionDenied, res.Decision)
	assert.True(t, res.Containment)
}

func TestDecide_PathRuleGlob(t *testing.T) {
	m := NewManager(root, Config{
		Allow: []string{"write(docs/**)"},
	})

	inDocs := m.Decide(Query{
		Tool:       "write",
		Risk:       RiskMutating,
		Target:     filepath.Join(root, "docs", "guide", "intro.md"),
		PathScoped: true,
	})
	assert.Equal(t, DecisionAuto, inDocs.Decision)

	elsewhere := m.Decide(Query{
		Tool:       "write",
		Risk:       RiskMutating,
		Target:     filepath.Join(root, "main.go"),
		PathScoped: true,
	})
	assert.Equal(t, DecisionPending, elsewhere.Decision)
}

func TestGrantKey(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want string
	}{
		{
			name: "file tool uses relative path",
			q: Query{
				Tool:       "edit",
				Risk:       RiskMutating,
				Target:     filepath.Join(root, "pkg", "a.go"),
				PathScoped: true,
			},
			want: "edit(" + filepath.Join("pkg", "a.go") + ")",
		},
		{
			name: "exec tool uses command prefix",
			q:    Query{Tool: "bash", Risk: RiskExecute, Target: "git commit -m x"},
			want: "bash(git:*)",
		},
		{
			name: "bare tool",
			q:    Query{Tool: "todo", Risk: RiskMutating},
			want: "todo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GrantKey(root, tt.q))
		})
	}
}

func TestParseRule_Malformed(t *testing.T) {
	rules := parseRules([]string{"", "write(unclosed", "(nofool)", "read"})
	assert.Len(t, rules, 1)
	assert.Equal(t, "read", rules[0].tool)
}
