package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxjustus/garage/resync"
)

func TestPrometheusMetricsIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)

	m.IncResyncCounter()
	m.IncResyncCounter()
	m.IncResyncErrorCounter()
	m.IncResyncRecvCounter()
	m.IncResyncSendCounter(resync.NodeID("peer-a"))
	m.ObserveResyncDuration(10 * time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}

	require.Contains(t, byName, "resync_counter")
	assert.Equal(t, float64(2), byName["resync_counter"].Metric[0].GetCounter().GetValue())
	assert.Equal(t, float64(1), byName["resync_error_counter"].Metric[0].GetCounter().GetValue())
	assert.Equal(t, float64(1), byName["resync_recv_counter"].Metric[0].GetCounter().GetValue())

	sendFamily := byName["resync_send_counter"]
	require.Len(t, sendFamily.Metric, 1)
	assert.Equal(t, "to", sendFamily.Metric[0].Label[0].GetName())
	assert.Equal(t, "peer-a", sendFamily.Metric[0].Label[0].GetValue())
}
