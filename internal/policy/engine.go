// Package policy evaluates tool calls against a rego policy before they run.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
	// DecisionRequireApproval has no approval flow behind it and is enforced as a block.
	DecisionRequireApproval = "require_approval"
)

// Input describes the tool call under evaluation.
type Input struct {
	ToolName string
	Category string
	Args     map[string]any
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy at path, or DefaultPolicy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks the tool policy.
// Returns: decision (allow, require_approval, block), reason (optional), error
func (e *Engine) Evaluate(ctx context.Context, in Input) (string, string, error) {
	args := in.Args
	if args == nil {
		args = map[string]any{}
	}
	input := map[string]any{
		"tool_name": in.ToolName,
		"category":  in.Category,
		"args":      args,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]any:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			return "", "", fmt.Errorf("policy returned no decision")
		}
		return decision, reason, nil
	}
	return "", "", fmt.Errorf("unexpected policy result %T", results[0].Expressions[0].Value)
}

// Allowed reports whether decision lets the call run.
func Allowed(decision string) bool {
	return decision == DecisionAllow
}

// DefaultPolicy keeps the agents read-only: tools whose name carries a
// mutating verb are blocked.
const DefaultPolicy = `
package tool_policy

default decision := {"decision": "allow", "reason": "read-only call"}

mutating_verbs := {
	"apply", "create", "update", "patch", "edit", "delete", "remove",
	"exec", "scale", "restart", "rollout", "drain", "cordon", "uncordon",
	"evict", "label", "annotate", "taint", "install", "uninstall", "upgrade",
}

decision := {"decision": "block", "reason": sprintf("%s mutates cluster state", [input.tool_name])} if {
	some part in split(lower(input.tool_name), "_")
	mutating_verbs[part]
}
`
