package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(DefaultConfig("test"))
	require.NoError(t, err)
	return c
}

func TestRecordOperationAccumulatesAggregate(t *testing.T) {
	c := newTestCollector(t)
	c.RecordOperation("create", 10*time.Millisecond, 100, true)
	c.RecordOperation("create", 20*time.Millisecond, 200, false)

	metrics := c.GetMetrics()
	ops := metrics["operations"].(map[string]*OperationMetrics)
	require.Contains(t, ops, "create")
	assert.EqualValues(t, 2, ops["create"].Count)
	assert.EqualValues(t, 1, ops["create"].Errors)
	assert.EqualValues(t, 300, ops["create"].TotalSize)
}

func TestRecordOperationDisabledIsNoop(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	require.NoError(t, err)
	c.RecordOperation("create", time.Millisecond, 1, true)
	assert.Empty(t, c.GetMetrics()["operations"])
}

func TestResetMetricsClearsAggregate(t *testing.T) {
	c := newTestCollector(t)
	c.RecordOperation("delete", time.Millisecond, 1, true)
	c.ResetMetrics()
	ops := c.GetMetrics()["operations"].(map[string]*OperationMetrics)
	assert.Empty(t, ops)
}

func TestClassifyError(t *testing.T) {
	c := newTestCollector(t)
	assert.Equal(t, "not_found", c.classifyError(errors.New("file not found")))
	assert.Equal(t, "locked", c.classifyError(errors.New("sentence locked")))
	assert.Equal(t, "other", c.classifyError(errors.New("boom")))
}

func TestRegistryIsExposedForExternalMounting(t *testing.T) {
	c := newTestCollector(t)
	require.NotNil(t, c.Registry())
	metricFamilies, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, metricFamilies)
}
