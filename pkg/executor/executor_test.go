package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tgt := ParseTarget("netrpc:researcher")
	assert.Equal(t, KindNetRPC, tgt.Kind)
	assert.Equal(t, "researcher", tgt.Name)

	tgt = ParseTarget("researcher")
	assert.Equal(t, KindInProcess, tgt.Kind)
	assert.Equal(t, "researcher", tgt.Name)
}

func TestRegistryInProcessRoundTrip(t *testing.T) {
	reg := New()
	exec := &InProcessExecutor{
		Agent: func(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error) {
			return Result{Output: map[string]any{"ok": true}, TokensUsed: 42}, nil
		},
	}
	require.NoError(t, reg.RegisterInProcess("researcher", exec))

	res, err := reg.ExecuteAgent(context.Background(), Target{Kind: KindInProcess, Name: "researcher"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.TokensUsed)
	assert.Equal(t, true, res.Output["ok"])

	require.NoError(t, reg.Close())
}

func TestResolveUnknownKindErrors(t *testing.T) {
	reg := New()
	_, err := reg.ExecuteAgent(context.Background(), Target{Kind: KindNetRPC, Name: "missing"}, nil, nil)
	require.ErrorIs(t, err, ErrUnsupportedKind)
}
