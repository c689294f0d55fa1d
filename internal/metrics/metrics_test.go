package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegisterCleanly(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	require.NoError(t, reg.Register(c))
}

func TestCollectorsExposeTheirLabels(t *testing.T) {
	c := New()

	c.ManagedPods.Inc()
	c.WatchErrors.WithLabelValues("pod-a").Inc()
	c.HealthCheckFails.WithLabelValues("pod-a", "pod_crashed").Inc()
	c.GCDeletes.WithLabelValues("ttl_expired").Inc()
	c.Deploys.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(c.ManagedPods))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.WatchErrors.WithLabelValues("pod-a")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.HealthCheckFails.WithLabelValues("pod-a", "pod_crashed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.GCDeletes.WithLabelValues("ttl_expired")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Deploys))
}
