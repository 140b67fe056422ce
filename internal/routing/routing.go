// Package routing maps pipeline step names to the persona that performs them.
package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Unassigned is recorded for steps that have no route.
const Unassigned = "unassigned"

var defaultRoutes = map[string]string{
	"create-prd":      "libretto",
	"create-brief":    "libretto",
	"create-spec":     "amadeus",
	"create-arch":     "amadeus",
	"create-stories":  "amadeus",
	"dev-story":       "coda",
	"fix-story":       "coda",
	"code-review":     "rondo",
	"qa-verification": "rondo",
}

var defaultRules = []Rule{
	{Pattern: "review-*", Persona: "rondo"},
	{Pattern: "dev-*", Persona: "coda"},
}

// Rule routes every step matching a glob pattern.
type Rule struct {
	Pattern string
	Persona string
}

type compiledRule struct {
	Rule
	matcher glob.Glob
}

// Table is an immutable step -> persona lookup. Exact names win over rules;
// rules are tried in the order they were added.
type Table struct {
	exact map[string]string
	rules []compiledRule
}

// Default returns the built-in routing table.
func Default() *Table {
	table, err := New(defaultRoutes, defaultRules)
	if err != nil {
		panic(err)
	}
	return table
}

// New compiles a table from exact routes and glob rules.
func New(routes map[string]string, rules []Rule) (*Table, error) {
	t := &Table{exact: make(map[string]string, len(routes))}
	for step, persona := range routes {
		step, persona = strings.TrimSpace(step), strings.TrimSpace(persona)
		if step == "" || persona == "" {
			return nil, fmt.Errorf("routing: route %q -> %q is incomplete", step, persona)
		}
		t.exact[step] = persona
	}
	for _, rule := range rules {
		compiled, err := compile(rule)
		if err != nil {
			return nil, err
		}
		t.rules = append(t.rules, compiled)
	}
	return t, nil
}

// With returns a copy of t with extra routes layered on top. Entries whose
// step contains glob metacharacters become rules evaluated before the
// existing ones.
func (t *Table) With(overrides []Rule) (*Table, error) {
	next := &Table{exact: make(map[string]string, len(t.exact)+len(overrides))}
	for step, persona := range t.exact {
		next.exact[step] = persona
	}
	var layered []compiledRule
	for _, rule := range overrides {
		pattern := strings.TrimSpace(rule.Pattern)
		persona := strings.TrimSpace(rule.Persona)
		if pattern == "" || persona == "" {
			return nil, fmt.Errorf("routing: route %q -> %q is incomplete", pattern, persona)
		}
		if !strings.ContainsAny(pattern, "*?[{") {
			next.exact[pattern] = persona
			continue
		}
		compiled, err := compile(Rule{Pattern: pattern, Persona: persona})
		if err != nil {
			return nil, err
		}
		layered = append(layered, compiled)
	}
	next.rules = append(layered, t.rules...)
	return next, nil
}

// Resolve returns the persona for step, or false when no route exists.
func (t *Table) Resolve(step string) (string, bool) {
	if t == nil {
		return "", false
	}
	step = strings.TrimSpace(step)
	if persona, ok := t.exact[step]; ok {
		return persona, true
	}
	for _, rule := range t.rules {
		if rule.matcher.Match(step) {
			return rule.Persona, true
		}
	}
	return "", false
}

// PersonaFor returns the routed persona or Unassigned.
func (t *Table) PersonaFor(step string) string {
	if persona, ok := t.Resolve(step); ok {
		return persona
	}
	return Unassigned
}

// Entries lists the exact routes sorted by step, followed by the rules.
func (t *Table) Entries() []Rule {
	steps := make([]string, 0, len(t.exact))
	for step := range t.exact {
		steps = append(steps, step)
	}
	sort.Strings(steps)
	out := make([]Rule, 0, len(steps)+len(t.rules))
	for _, step := range steps {
		out = append(out, Rule{Pattern: step, Persona: t.exact[step]})
	}
	for _, rule := range t.rules {
		out = append(out, rule.Rule)
	}
	return out
}

func compile(rule Rule) (compiledRule, error) {
	matcher, err := glob.Compile(rule.Pattern)
	if err != nil {
		return compiledRule{}, fmt.Errorf("routing: compile %q: %w", rule.Pattern, err)
	}
	return compiledRule{Rule: rule, matcher: matcher}, nil
}
