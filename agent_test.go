package shimz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T, env map[string]string) Config {
	t.Helper()
	cfg, err := LoadConfigFrom(context.Background(), env)
	require.NoError(t, err)
	return cfg
}

func TestNewAgent(t *testing.T) {
	agent, err := NewAgent(testConfig(t, nil), zap.NewNop())
	require.NoError(t, err)
	defer agent.Close()

	assert.NotNil(t, agent.Tracer)
	assert.NotNil(t, agent.Router)
	assert.NotNil(t, agent.Installer)
	assert.NotNil(t, agent.Table)
	assert.NotNil(t, agent.Adapters)
	assert.NotNil(t, agent.Errors)
	assert.Nil(t, agent.Sentry)
	assert.True(t, agent.Adapters.unboundedLimitAsOne)
	assert.False(t, agent.Adapters.captureParameters)
}

func TestNewAgentWorkerPool(t *testing.T) {
	agent, err := NewAgent(testConfig(t, map[string]string{"SHIMZ_HANDLER_WORKERS": "2"}), nil)
	require.NoError(t, err)
	defer agent.Close()

	assert.ErrorIs(t, agent.Tracer.EnableWorkerPool(1, 1), ErrWorkerPoolEnabled)
}

func TestNewAgentInvalidWorkerPool(t *testing.T) {
	_, err := NewAgent(testConfig(t, map[string]string{
		"SHIMZ_HANDLER_WORKERS":    "2",
		"SHIMZ_HANDLER_QUEUE_SIZE": "0",
	}), nil)
	assert.ErrorIs(t, err, ErrInvalidPoolSize)
}

func TestNewAgentSentry(t *testing.T) {
	agent, err := NewAgent(testConfig(t, map[string]string{
		"SHIMZ_SENTRY_DSN": "https://public@example.com/1",
	}), nil)
	require.NoError(t, err)
	defer agent.Close()
	assert.NotNil(t, agent.Sentry)

	_, err = NewAgent(testConfig(t, map[string]string{"SHIMZ_SENTRY_DSN": "::bad"}), nil)
	assert.Error(t, err)
}

func TestAgentRoutesToFallback(t *testing.T) {
	agent, err := NewAgent(testConfig(t, nil), nil)
	require.NoError(t, err)
	defer agent.Close()
	agent.Errors.SetSyncMode(true)

	agent.Router.Capture(errBoom)

	records := agent.Errors.Export()
	require.Len(t, records, 1)
	assert.ErrorIs(t, records[0].Err, errBoom)
}

func TestAgentDisabledInstallsNothing(t *testing.T) {
	agent, err := NewAgent(testConfig(t, map[string]string{"SHIMZ_ENABLED": "false"}), nil)
	require.NoError(t, err)
	defer agent.Close()

	calls := 0
	agent.Table.Register("widget", "query", countingWrapper(&calls))
	w := newWidget()

	assert.Equal(t, 0, agent.Apply("widget", w))
	w.call()
	assert.Equal(t, 0, calls)
}

func TestAgentRunID(t *testing.T) {
	a, err := NewAgent(testConfig(t, nil), nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewAgent(testConfig(t, nil), nil)
	require.NoError(t, err)
	defer b.Close()

	_, err = uuid.Parse(a.RunID)
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID, b.RunID)
}
