package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"crewforge/internal/domain"
)

type Rule struct {
	Agent     string
	Operation domain.FileOperation
	Pattern   string
}

type compiledRule struct {
	agent     string
	operation domain.FileOperation
	pattern   string
	matcher   glob.Glob
}

// Engine grants file operations to agents by path glob. Anything not matched
// by a rule is denied. A write rule also covers create.
type Engine struct {
	rules []compiledRule
}

func New(rules []Rule) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		pattern := normalize(r.Pattern)
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile policy pattern %q: %w", r.Pattern, err)
		}
		compiled = append(compiled, compiledRule{
			agent:     r.Agent,
			operation: r.Operation,
			pattern:   pattern,
			matcher:   g,
		})
	}
	return &Engine{rules: compiled}, nil
}

func (e *Engine) CanFileOperation(
	_ context.Context,
	_ string,
	agentID string,
	operation domain.FileOperation,
	targetPath string,
) (bool, string, error) {
	target := normalize(targetPath)
	for _, r := range e.rules {
		if r.agent != agentID && r.agent != "*" {
			continue
		}
		if !covers(r.operation, operation) {
			continue
		}
		if r.matcher.Match(target) {
			return true, fmt.Sprintf("allowed by %s %s", r.operation, r.pattern), nil
		}
	}
	return false, fmt.Sprintf("no rule grants %s on %s to %s", operation, target, agentID), nil
}

func covers(granted, requested domain.FileOperation) bool {
	if granted == requested {
		return true
	}
	return granted == domain.FileOperationWrite && requested == domain.FileOperationCreate
}

func normalize(p string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	cleaned = strings.TrimPrefix(cleaned, "./")
	return strings.TrimPrefix(cleaned, "/")
}
