package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the file policy.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Engine is the OPA policy engine deciding which source files load_file
// may read.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is what the policy sees for one load_file request. Path and Root
// are absolute and cleaned by the caller.
type Input struct {
	Path string `json:"path"`
	Root string `json:"root"`
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.file_policy.decision"),
		rego.Module("file_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy from path, or the default policy
// when path is empty.
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

// Evaluate checks the file policy.
// Returns: decision (allow, deny), reason (optional), error.
// The rule may produce a string or an object {decision, reason}.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// An undefined decision reads nothing.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionDeny, "undefined", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]any:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			return DecisionDeny, "missing decision", nil
		}
		return decision, reason, nil
	default:
		return DecisionDeny, "unexpected return type", nil
	}
}

// Allowed reports whether the decision for input is allow.
func (e *Engine) Allowed(ctx context.Context, input Input) (bool, string, error) {
	decision, reason, err := e.Evaluate(ctx, input)
	if err != nil {
		return false, "", err
	}
	return decision == DecisionAllow, reason, nil
}

// DefaultPolicy is the default policy content: only files below the
// source root are readable.
const DefaultPolicy = `
package file_policy

default decision = "deny"

root_prefix = "/" {
	input.root == "/"
}

root_prefix = concat("", [input.root, "/"]) {
	input.root != "/"
}

decision = "allow" {
	input.root != ""
	startswith(input.path, "/")
	startswith(input.path, root_prefix)
}
`
