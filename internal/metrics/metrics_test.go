package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	// Every recorder must be a no-op on nil so callers never guard.
	m.ObserveCall("git", time.Second, "call_timeout")
	m.ObserveFind(time.Millisecond)
	m.SetPoolLive(3)
	m.SetHealthy(2)
	m.SetIndexedTools(10)
	m.CacheHit()
	m.CacheMiss()
	m.SyncAdditions(4)
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCall("git", 100*time.Millisecond, "")
	m.ObserveCall("git", 100*time.Millisecond, "call_timeout")
	m.SetPoolLive(2)
	m.CacheHit()
	m.SyncAdditions(3)
	m.SyncAdditions(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("git")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callErrors.WithLabelValues("git", "call_timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.poolLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.syncAdditions))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}
