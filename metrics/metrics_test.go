package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centidb.dev/centidb/metrics"
)

func TestNilRegistererDisablesMetrics(t *testing.T) {
	m := metrics.New(nil)
	require.Nil(t, m)
	// Calling methods on a nil *Metrics must not panic.
	m.Observe("put", nil, time.Now())
	m.BatchSplit()
}

func TestObserveRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	require.NotNil(t, m)

	m.Observe("put", nil, time.Now().Add(-time.Millisecond))
	m.Observe("put", errors.New("boom"), time.Now())
	m.BatchSplit()

	families, err := reg.Gather()
	require.NoError(t, err)

	var opsFamily *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "centidb_operations_total" {
			opsFamily = f
		}
	}
	require.NotNil(t, opsFamily)
	assert.Len(t, opsFamily.Metric, 2)
}
