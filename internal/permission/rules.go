package permission

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// rule is one parsed policy entry. The string forms are:
//
//	toolname             matches every use of the tool
//	toolname(pattern)    file tools: doublestar glob over the relative path
//	toolname(cmd:glob)   exec tools: leading command word plus argument glob
type rule struct {
	tool    string
	pattern string // "" matches all targets
	command string // exec rules only
}

func parseRules(specs []string) []rule {
	rules := make([]rule, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		r, ok := parseRule(spec)
		if !ok {
			continue
		}
		rules = append(rules, r)
	}
	return rules
}

func parseRule(spec string) (rule, bool) {
	open := strings.Index(spec, "(")
	if open < 0 {
		return rule{tool: spec}, true
	}
	if !strings.HasSuffix(spec, ")") || open == 0 {
		return rule{}, false
	}
	r := rule{tool: spec[:open]}
	inner := spec[open+1 : len(spec)-1]
	if cmd, rest, found := strings.Cut(inner, ":"); found {
		r.command = cmd
		r.pattern = rest
	} else {
		r.pattern = inner
	}
	return r, true
}

func matchAny(rules []rule, root string, q Query) bool {
	for _, r := range rules {
		if r.matches(root, q) {
			return true
		}
	}
	return false
}

func (r rule) matches(root string, q Query) bool {
	if r.tool != q.Tool {
		return false
	}
	if r.pattern == "" && r.command == "" {
		return true
	}

	if r.command != "" {
		return r.matchesCommand(q)
	}
	return r.matchesPath(root, q)
}

func (r rule) matchesCommand(q Query) bool {
	fields := strings.Fields(q.Target)
	if len(fields) == 0 {
		return false
	}
	if r.command != "*" && fields[0] != r.command {
		return false
	}
	if r.pattern == "*" || r.pattern == "" {
		return true
	}
	rest := strings.Join(fields[1:], " ")
	ok, err := doublestar.Match(r.pattern, rest)
	if err != nil {
		return false
	}
	return ok
}

func (r rule) matchesPath(root string, q Query) bool {
	if q.Target == "" {
		return false
	}
	target := q.Target
	if rel, err := filepath.Rel(root, q.Target); err == nil && !strings.HasPrefix(rel, "..") {
		target = filepath.ToSlash(rel)
	}
	if r.pattern == "*" || r.pattern == "**" {
		return true
	}
	ok, err := doublestar.Match(r.pattern, target)
	if err != nil {
		return false
	}
	return ok
}
