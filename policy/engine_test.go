package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyConfinesToRoot(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	cases := []struct {
		name  string
		input Input
		allow bool
	}{
		{"inside root", Input{Path: "/src/app/kernel.py", Root: "/src/app"}, true},
		{"nested", Input{Path: "/src/app/lib/x.py", Root: "/src/app"}, true},
		{"sibling with shared prefix", Input{Path: "/src/apple/x.py", Root: "/src/app"}, false},
		{"outside root", Input{Path: "/etc/passwd", Root: "/src/app"}, false},
		{"filesystem root", Input{Path: "/etc/hosts", Root: "/"}, true},
		{"no root", Input{Path: "/etc/hosts", Root: ""}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			allowed, _, err := engine.Allowed(ctx, tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.allow, allowed)
		})
	}
}

func TestCustomPolicyWithReason(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package file_policy

default decision = {"decision": "deny", "reason": "not a kernel"}

decision = {"decision": "allow"} {
	endswith(input.path, ".py")
}
`)
	require.NoError(t, err)

	decision, reason, err := engine.Evaluate(ctx, Input{Path: "/x/notes.txt", Root: "/"})
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision)
	assert.Equal(t, "not a kernel", reason)

	decision, _, err = engine.Evaluate(ctx, Input{Path: "/x/k.py", Root: "/"})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestUndefinedDecisionDenies(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, "package file_policy\n")
	require.NoError(t, err)
	allowed, reason, err := engine.Allowed(ctx, Input{Path: "/a", Root: "/"})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "undefined", reason)
}

func TestNewEngineFromFile(t *testing.T) {
	ctx := context.Background()

	_, err := NewEngineFromFile(ctx, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "policy.rego")
	require.NoError(t, os.WriteFile(path, []byte("package file_policy\ndefault decision = \"allow\"\n"), 0o644))
	engine, err := NewEngineFromFile(ctx, path)
	require.NoError(t, err)
	allowed, _, err := engine.Allowed(ctx, Input{Path: "/anything", Root: ""})
	require.NoError(t, err)
	assert.True(t, allowed)

	_, err = NewEngineFromFile(ctx, filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)

	_, err = NewEngine(ctx, "package file_policy\ndecision = {")
	assert.Error(t, err)
}
