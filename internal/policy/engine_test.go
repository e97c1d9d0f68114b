package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	cases := map[string]string{
		"k8s_pods_list":                  DecisionAllow,
		"vlogs_query":                    DecisionAllow,
		"system_current_time":            DecisionAllow,
		"k8s_pods_delete":                DecisionBlock,
		"k8s_resources_create_or_update": DecisionBlock,
		"k8s_pods_exec":                  DecisionBlock,
		"K8S_Deployment_Scale":           DecisionBlock,
	}
	for tool, want := range cases {
		decision, reason, err := e.Evaluate(ctx, Input{ToolName: tool, Category: "k8s"})
		require.NoError(t, err, tool)
		assert.Equal(t, want, decision, tool)
		assert.NotEmpty(t, reason, tool)
	}
}

func TestStringDecision(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, `
package tool_policy

default decision := "allow"

decision := "require_approval" if {
	input.args.limit > 100
}
`)
	require.NoError(t, err)

	decision, _, err := e.Evaluate(ctx, Input{ToolName: "vlogs_query", Args: map[string]any{"limit": 500}})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequireApproval, decision)
	assert.False(t, Allowed(decision))

	decision, _, err = e.Evaluate(ctx, Input{ToolName: "vlogs_query"})
	require.NoError(t, err)
	assert.True(t, Allowed(decision))
}

func TestNewEngineFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.rego")
	require.NoError(t, os.WriteFile(path, []byte("package tool_policy\n\ndecision := \"block\"\n"), 0o600))

	e, err := NewEngineFromFile(ctx, path)
	require.NoError(t, err)
	decision, _, err := e.Evaluate(ctx, Input{ToolName: "anything"})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)

	_, err = NewEngineFromFile(ctx, filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)

	_, err = NewEngine(ctx, "package tool_policy\n\ndecision = {")
	assert.Error(t, err)
}
